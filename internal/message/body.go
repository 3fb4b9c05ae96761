package message

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// BodyKind discriminates the two shapes a Body can take.
type BodyKind int

const (
	// BodyBytes is an opaque sequence of octets.
	BodyBytes BodyKind = iota
	// BodyFormEncoded is a decoded application/x-www-form-urlencoded payload.
	BodyFormEncoded
)

const formURLEncodedContentType = "application/x-www-form-urlencoded"

// Body is a tagged union: either opaque bytes, or a decoded form-urlencoded
// multi-map. Exactly one of Bytes/Form is meaningful, selected by Kind.
type Body struct {
	Kind  BodyKind
	Bytes []byte
	Form  *MultiMap
}

// NewBytesBody wraps raw bytes.
func NewBytesBody(b []byte) Body {
	return Body{Kind: BodyBytes, Bytes: b}
}

// NewBodyFromContentType classifies raw bytes against a Content-Type
// header value. The FormEncoded variant is chosen only when the media
// type is exactly form-urlencoded AND the payload decodes as valid UTF-8
// form data; any decode failure falls back to Bytes.
func NewBodyFromContentType(contentType string, raw []byte) Body {
	if !isFormURLEncoded(contentType) {
		return NewBytesBody(raw)
	}
	if !utf8.Valid(raw) {
		return NewBytesBody(raw)
	}
	form := NewMultiMap()
	// Iterate the raw payload's own "&"-separated pairs directly (rather
	// than through url.ParseQuery) to preserve original key order, which
	// a map-returning decode would lose.
	for _, pair := range strings.Split(string(raw), "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			return NewBytesBody(raw)
		}
		value := ""
		if len(kv) == 2 {
			value, err = url.QueryUnescape(kv[1])
			if err != nil {
				return NewBytesBody(raw)
			}
		}
		form.Add(key, value)
	}
	return Body{Kind: BodyFormEncoded, Form: form}
}

func isFormURLEncoded(contentType string) bool {
	mediaType := contentType
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		mediaType = contentType[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(mediaType), formURLEncodedContentType)
}

// Encode renders the body back to its wire byte form.
func (b Body) Encode() []byte {
	if b.Kind == BodyBytes || b.Form == nil {
		return b.Bytes
	}
	var sb strings.Builder
	first := true
	b.Form.Each(func(key, value string) {
		if !first {
			sb.WriteByte('&')
		}
		first = false
		sb.WriteString(url.QueryEscape(key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(value))
	})
	return []byte(sb.String())
}

// Clone returns a deep copy.
func (b Body) Clone() Body {
	out := Body{Kind: b.Kind}
	if b.Bytes != nil {
		out.Bytes = append([]byte(nil), b.Bytes...)
	}
	out.Form = b.Form.Clone()
	return out
}
