package message

// MultiMap is an insertion-ordered multi-map from string keys to string
// values: a key may carry more than one value, keys keep first-seen order,
// and values within a key keep insertion order. It is the Go stand-in for
// the original's `MultiMap<String, String>`, used for query parameters,
// form bodies and response/request headers.
type MultiMap struct {
	keys   []string
	values map[string][]string
}

// NewMultiMap returns an empty ordered multi-map.
func NewMultiMap() *MultiMap {
	return &MultiMap{values: make(map[string][]string)}
}

// Add appends a value under key, registering the key in insertion order
// the first time it's seen.
func (m *MultiMap) Add(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = append(m.values[key], value)
}

// Set replaces all values for key with a single value, preserving the
// key's original position if it already existed.
func (m *MultiMap) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = []string{value}
}

// Del removes a key entirely.
func (m *MultiMap) Del(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Get returns the first value for key, if any.
func (m *MultiMap) Get(key string) (string, bool) {
	vs, ok := m.values[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns every value stored for key, in insertion order.
func (m *MultiMap) Values(key string) []string {
	return m.values[key]
}

// Has reports whether key has at least one value.
func (m *MultiMap) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the registered keys in first-insertion order.
func (m *MultiMap) Keys() []string {
	return m.keys
}

// Len returns the number of distinct keys.
func (m *MultiMap) Len() int {
	return len(m.keys)
}

// Clone returns a deep copy.
func (m *MultiMap) Clone() *MultiMap {
	if m == nil {
		return nil
	}
	c := &MultiMap{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string][]string, len(m.values)),
	}
	for k, vs := range m.values {
		c.values[k] = append([]string(nil), vs...)
	}
	return c
}

// Each calls fn once per (key, value) pair in (key-order, value-order).
func (m *MultiMap) Each(fn func(key, value string)) {
	for _, k := range m.keys {
		for _, v := range m.values[k] {
			fn(k, v)
		}
	}
}
