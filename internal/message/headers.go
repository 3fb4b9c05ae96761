package message

import "net/textproto"

// Headers is a case-insensitive, insertion-ordered multi-map of HTTP
// header fields. Keys are normalized to their canonical MIME form
// ("Content-Type", not "content-type") on every write, which doubles as
// the upstream client's title-casing behavior on the way back out to the
// wire.
type Headers struct {
	m *MultiMap
}

// NewHeaders returns an empty header set.
func NewHeaders() *Headers {
	return &Headers{m: NewMultiMap()}
}

func canonicalHeader(key string) string {
	return textproto.CanonicalMIMEHeaderKey(key)
}

func (h *Headers) Add(key, value string) {
	h.m.Add(canonicalHeader(key), value)
}

func (h *Headers) Set(key, value string) {
	h.m.Set(canonicalHeader(key), value)
}

func (h *Headers) Del(key string) {
	h.m.Del(canonicalHeader(key))
}

func (h *Headers) Get(key string) (string, bool) {
	return h.m.Get(canonicalHeader(key))
}

func (h *Headers) Values(key string) []string {
	return h.m.Values(canonicalHeader(key))
}

func (h *Headers) Has(key string) bool {
	return h.m.Has(canonicalHeader(key))
}

func (h *Headers) Keys() []string {
	return h.m.Keys()
}

func (h *Headers) Each(fn func(key, value string)) {
	h.m.Each(fn)
}

func (h *Headers) Clone() *Headers {
	if h == nil {
		return nil
	}
	return &Headers{m: h.m.Clone()}
}
