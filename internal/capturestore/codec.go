package capturestore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// The serialization format of bodies and header multi-maps is
// implementation-defined but round-trip-stable (§6); this file is the one
// place that decision is made. Header/query/form multi-maps serialize as
// ordered key-value pairs rather than JSON objects, since a JSON object
// can't carry duplicate keys or preserve insertion order across runtimes.

type pairDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type bodyDTO struct {
	Kind  message.BodyKind `json:"kind"`
	Bytes string           `json:"bytes,omitempty"` // base64, Kind == BodyBytes
	Form  []pairDTO        `json:"form,omitempty"`  // Kind == BodyFormEncoded
}

type requestDTO struct {
	IsHTTPS     bool              `json:"is_https"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryParams []pairDTO         `json:"query_params,omitempty"`
	Headers     []pairDTO         `json:"headers"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Body        bodyDTO           `json:"body"`
}

type responseDTO struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Headers []pairDTO `json:"headers"`
	Body    bodyDTO   `json:"body"`
}

func encodeBody(b message.Body) bodyDTO {
	dto := bodyDTO{Kind: b.Kind}
	if b.Kind == message.BodyFormEncoded && b.Form != nil {
		b.Form.Each(func(k, v string) { dto.Form = append(dto.Form, pairDTO{k, v}) })
		return dto
	}
	dto.Bytes = base64.StdEncoding.EncodeToString(b.Bytes)
	return dto
}

func decodeBody(dto bodyDTO) (message.Body, error) {
	if dto.Kind == message.BodyFormEncoded {
		form := message.NewMultiMap()
		for _, p := range dto.Form {
			form.Add(p.Key, p.Value)
		}
		return message.Body{Kind: message.BodyFormEncoded, Form: form}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(dto.Bytes)
	if err != nil {
		return message.Body{}, fmt.Errorf("decode body bytes: %w", err)
	}
	return message.NewBytesBody(raw), nil
}

func encodeHeaders(h *message.Headers) []pairDTO {
	var pairs []pairDTO
	if h == nil {
		return pairs
	}
	h.Each(func(k, v string) { pairs = append(pairs, pairDTO{k, v}) })
	return pairs
}

func decodeHeaders(pairs []pairDTO) *message.Headers {
	h := message.NewHeaders()
	for _, p := range pairs {
		h.Add(p.Key, p.Value)
	}
	return h
}

func encodeMultiMap(mm *message.MultiMap) []pairDTO {
	if mm == nil {
		return nil
	}
	var pairs []pairDTO
	mm.Each(func(k, v string) { pairs = append(pairs, pairDTO{k, v}) })
	return pairs
}

func decodeMultiMap(pairs []pairDTO) *message.MultiMap {
	if pairs == nil {
		return nil
	}
	mm := message.NewMultiMap()
	for _, p := range pairs {
		mm.Add(p.Key, p.Value)
	}
	return mm
}

func encodeRequest(r message.Request) ([]byte, error) {
	body, err := json.Marshal(requestDTO{
		IsHTTPS:     r.IsHTTPS,
		Method:      r.Method,
		Path:        r.Path,
		QueryParams: encodeMultiMap(r.QueryParams),
		Headers:     encodeHeaders(r.Headers),
		Cookies:     r.Cookies,
		Body:        encodeBody(r.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return body, nil
}

func decodeRequest(raw []byte) (message.Request, error) {
	var dto requestDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return message.Request{}, fmt.Errorf("decode request: %w", err)
	}
	body, err := decodeBody(dto.Body)
	if err != nil {
		return message.Request{}, err
	}
	return message.Request{
		IsHTTPS:     dto.IsHTTPS,
		Method:      dto.Method,
		Path:        dto.Path,
		QueryParams: decodeMultiMap(dto.QueryParams),
		Headers:     decodeHeaders(dto.Headers),
		Cookies:     dto.Cookies,
		Body:        body,
	}, nil
}

func encodeResponse(r message.Response) ([]byte, error) {
	body, err := json.Marshal(responseDTO{
		Code:    r.Code,
		Message: r.Message,
		Headers: encodeHeaders(r.Headers),
		Body:    encodeBody(r.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return body, nil
}

func decodeResponse(raw []byte) (message.Response, error) {
	var dto responseDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return message.Response{}, fmt.Errorf("decode response: %w", err)
	}
	body, err := decodeBody(dto.Body)
	if err != nil {
		return message.Response{}, err
	}
	return message.Response{
		Code:    dto.Code,
		Message: dto.Message,
		Headers: decodeHeaders(dto.Headers),
		Body:    body,
	}, nil
}
