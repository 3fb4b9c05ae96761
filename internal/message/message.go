// Package message defines the language-neutral request/response/capture
// records shared by every other component: the connection service builds
// them from parsed wire bytes, the upstream client consumes and produces
// them, the observation pipeline snapshots them, and the scanner mutates
// clones of them.
package message

import (
	"net/url"
	"strconv"
	"strings"
)

const headerCookie = "Cookie"
const headerHost = "Host"

// Request is the language-neutral request record. Headers never contains
// Cookie: cookie pairs are lifted into the dedicated Cookies field.
type Request struct {
	IsHTTPS     bool
	Method      string
	Path        string
	QueryParams *MultiMap // nil when the original URI carried no query string
	Headers     *Headers
	Cookies     map[string]string // nil when no Cookie header was present
	Body        Body
}

// NewRequest builds a Request from a parsed request line and an ordered
// list of raw header (name, value) pairs, lifting any Cookie header out
// into Cookies and splitting path/query apart from the URI.
func NewRequest(isHTTPS bool, method, uri string, headerPairs [][2]string, body Body) Request {
	path, query := splitPathQuery(uri)

	req := Request{
		IsHTTPS: isHTTPS,
		Method:  method,
		Path:    path,
		Headers: NewHeaders(),
		Body:    body,
	}
	if query != "" {
		req.QueryParams = parseQueryParams(query)
	}

	for _, kv := range headerPairs {
		if strings.EqualFold(kv[0], headerCookie) {
			if req.Cookies == nil {
				req.Cookies = make(map[string]string)
			}
			parseCookieHeader(kv[1], req.Cookies)
			continue
		}
		req.Headers.Add(kv[0], kv[1])
	}

	return req
}

func splitPathQuery(uri string) (path, query string) {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		return uri[:idx], uri[idx+1:]
	}
	return uri, ""
}

func parseQueryParams(query string) *MultiMap {
	mm := NewMultiMap()
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			key = kv[0]
		}
		value := ""
		if len(kv) == 2 {
			value, err = url.QueryUnescape(kv[1])
			if err != nil {
				value = kv[1]
			}
		}
		mm.Add(key, value)
	}
	return mm
}

// parseCookieHeader splits only on ";" and assumes "name=value": the pair
// is split at its first "=", so the name ends there and the value keeps
// everything after it, including any further "=". Pairs without "=" are
// skipped. Duplicate names: last value wins.
func parseCookieHeader(value string, out map[string]string) {
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			continue
		}
		name := pair[:idx]
		val := pair[idx+1:]
		out[name] = val
	}
}

// URI reassembles Path and QueryParams back into a single URI string.
func (r Request) URI() string {
	if r.QueryParams == nil || r.QueryParams.Len() == 0 {
		return r.Path
	}
	var sb strings.Builder
	sb.WriteString(r.Path)
	sb.WriteByte('?')
	first := true
	r.QueryParams.Each(func(key, value string) {
		if !first {
			sb.WriteByte('&')
		}
		first = false
		sb.WriteString(url.QueryEscape(key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(value))
	})
	return sb.String()
}

// Host returns the Host header value if present, else the empty string.
func (r Request) Host() (string, bool) {
	return r.Headers.Get(headerHost)
}

// Clone performs a structural-sharing-free deep copy, suitable for the
// scanner to mutate in place without affecting the stored capture.
func (r Request) Clone() Request {
	c := r
	c.Headers = r.Headers.Clone()
	c.QueryParams = r.QueryParams.Clone()
	c.Body = r.Body.Clone()
	if r.Cookies != nil {
		c.Cookies = make(map[string]string, len(r.Cookies))
		for k, v := range r.Cookies {
			c.Cookies[k] = v
		}
	}
	return c
}

// Response is the language-neutral response record.
type Response struct {
	Code    int
	Message string
	Headers *Headers
	Body    Body
}

// NewResponse builds a Response, deriving Message from the canonical
// reason phrase for Code when none was supplied by the upstream.
func NewResponse(code int, message string, headerPairs [][2]string, body Body) Response {
	if message == "" {
		message = canonicalReason(code)
	}
	resp := Response{
		Code:    code,
		Message: message,
		Headers: NewHeaders(),
		Body:    body,
	}
	for _, kv := range headerPairs {
		resp.Headers.Add(kv[0], kv[1])
	}
	return resp
}

func (r Response) Clone() Response {
	c := r
	c.Headers = r.Headers.Clone()
	c.Body = r.Body.Clone()
	return c
}

// Capture (Reqresp) pairs a stored request with its response under a
// persistence-assigned identifier. New captures start with an empty id.
type Capture struct {
	ID       string
	Request  Request
	Response Response
}

func (c Capture) Clone() Capture {
	return Capture{ID: c.ID, Request: c.Request.Clone(), Response: c.Response.Clone()}
}

var reasonPhrases = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 201: "Created", 202: "Accepted", 204: "No Content",
	301: "Moved Permanently", 302: "Found", 303: "See Other", 304: "Not Modified",
	307: "Temporary Redirect", 308: "Permanent Redirect",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 409: "Conflict",
	429: "Too Many Requests",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout",
}

func canonicalReason(code int) string {
	return CanonicalReason(code)
}

// CanonicalReason returns the standard reason phrase for an HTTP status
// code, or "" if none is known.
func CanonicalReason(code int) string {
	if reason, ok := reasonPhrases[code]; ok {
		return reason
	}
	return ""
}

// ContentLength reports the Content-Length header value, if any, for
// callers that need to reconcile it against a materialized body length.
func ContentLength(h *Headers) (int, bool) {
	v, ok := h.Get("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}
