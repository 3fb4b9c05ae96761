package operatorapi

import (
	"encoding/base64"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// These view types are the operator-facing JSON shape; they're
// deliberately distinct from capturestore's persistence DTOs, which are
// concerned with round-trip stability rather than readability.

type multiMapView map[string][]string

func viewHeaders(h *message.Headers) multiMapView {
	v := multiMapView{}
	if h == nil {
		return v
	}
	h.Each(func(k, val string) { v[k] = append(v[k], val) })
	return v
}

func viewMultiMap(m *message.MultiMap) multiMapView {
	if m == nil {
		return nil
	}
	v := multiMapView{}
	m.Each(func(k, val string) { v[k] = append(v[k], val) })
	return v
}

type bodyView struct {
	Kind  string           `json:"kind"`
	Bytes string           `json:"bytes,omitempty"` // base64
	Form  multiMapView     `json:"form,omitempty"`
}

func viewBody(b message.Body) bodyView {
	if b.Kind == message.BodyFormEncoded {
		return bodyView{Kind: "form_encoded", Form: viewMultiMap(b.Form)}
	}
	return bodyView{Kind: "bytes", Bytes: base64.StdEncoding.EncodeToString(b.Bytes)}
}

type requestView struct {
	IsHTTPS     bool              `json:"is_https"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryParams multiMapView      `json:"query_params,omitempty"`
	Headers     multiMapView      `json:"headers"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Body        bodyView          `json:"body"`
}

func viewRequest(r message.Request) requestView {
	return requestView{
		IsHTTPS:     r.IsHTTPS,
		Method:      r.Method,
		Path:        r.Path,
		QueryParams: viewMultiMap(r.QueryParams),
		Headers:     viewHeaders(r.Headers),
		Cookies:     r.Cookies,
		Body:        viewBody(r.Body),
	}
}

type responseView struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Headers multiMapView `json:"headers"`
	Body    bodyView     `json:"body"`
}

func viewResponse(r message.Response) responseView {
	return responseView{
		Code:    r.Code,
		Message: r.Message,
		Headers: viewHeaders(r.Headers),
		Body:    viewBody(r.Body),
	}
}

type captureView struct {
	ID       string       `json:"id"`
	Request  requestView  `json:"request"`
	Response responseView `json:"response"`
}

func viewCapture(c message.Capture) captureView {
	return captureView{ID: c.ID, Request: viewRequest(c.Request), Response: viewResponse(c.Response)}
}
