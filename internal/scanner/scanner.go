// Package scanner implements the two operations the operator API exposes
// over a stored capture: resending it verbatim, and probing its query
// and form parameters for reflected XSS.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rustyproxy/rustyproxy/internal/message"
	"github.com/rustyproxy/rustyproxy/internal/proxyutil"
	"github.com/rustyproxy/rustyproxy/internal/upstream"
)

// Error kinds, per the component's error-handling design. A failure
// during resend or body drain is fatal to the whole scan — ScanXSS never
// returns partial results on error.
var (
	ErrRequestFailed  = errors.New("request failed")
	ErrBodyLoadFailed = errors.New("body load failed")
	ErrUnknown        = errors.New("unknown scanner error")
)

const (
	markerURLEncoded = "vulnerable%27%22%3E%3Cimg%20src%20onerror%3Dalert%28%29%3E"
	markerRaw        = `vulnerable'"><img src onerror=alert()>`
)

// Client is the subset of the upstream client the scanner depends on.
type Client interface {
	SendRequest(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error)
}

// Scanner replays and probes stored captures through an upstream client.
type Scanner struct {
	client Client
}

// New returns a Scanner backed by client.
func New(client Client) *Scanner {
	return &Scanner{client: client}
}

// ResendRequest derives the target host/port (prefers Host header, falls
// back to URI host; port fallback 443 if IsHTTPS else 80) and replays req
// through the upstream client.
func (s *Scanner) ResendRequest(req message.Request) (*upstream.Response, error) {
	fallbackPort := uint16(80)
	if req.IsHTTPS {
		fallbackPort = 443
	}

	hostHeader := proxyutil.ExtractHost(req)
	if hostHeader == "" {
		return nil, fmt.Errorf("%w: no host available", ErrRequestFailed)
	}
	host, port, err := proxyutil.ParseHostHeader(hostHeader, fallbackPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	resp, err := s.client.SendRequest(req, host, port, req.IsHTTPS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return resp, nil
}

// ScanXSS probes a capture's query and form parameters for a reflected
// XSS marker and returns the parameter names that reflected it, in
// multi-map iteration order.
func (s *Scanner) ScanXSS(capture message.Capture) ([]string, error) {
	var found []string

	if capture.Request.QueryParams != nil {
		for _, key := range capture.Request.QueryParams.Keys() {
			for range capture.Request.QueryParams.Values(key) {
				reflected, err := s.probeQueryParam(capture.Request, key)
				if err != nil {
					return nil, err
				}
				if reflected {
					found = append(found, key)
				}
			}
		}
	}

	if capture.Request.Body.Kind == message.BodyFormEncoded && capture.Request.Body.Form != nil {
		for _, key := range capture.Request.Body.Form.Keys() {
			for range capture.Request.Body.Form.Values(key) {
				reflected, err := s.probeFormParam(capture.Request, key)
				if err != nil {
					return nil, err
				}
				if reflected {
					found = append(found, key)
				}
			}
		}
	}

	return found, nil
}

func (s *Scanner) probeQueryParam(req message.Request, key string) (bool, error) {
	probe := req.Clone()
	probe.Path = req.Path + "?" + rebuildQueryWithOverride(req.QueryParams, key, markerURLEncoded)
	probe.QueryParams = nil // the override is already baked verbatim into Path

	resp, err := s.ResendRequest(probe)
	if err != nil {
		return false, err
	}
	return drainAndCheckMarkers(resp)
}

func (s *Scanner) probeFormParam(req message.Request, key string) (bool, error) {
	probe := req.Clone()
	probe.Body.Form.Set(key, markerRaw)

	resp, err := s.ResendRequest(probe)
	if err != nil {
		return false, err
	}
	return drainAndCheckMarkers(resp)
}

// rebuildQueryWithOverride re-serializes a query multi-map, replacing
// key's first value with overrideRaw inserted verbatim (NOT re-escaped,
// so the literal percent-encoded marker text reaches the wire unchanged).
func rebuildQueryWithOverride(params *message.MultiMap, overrideKey, overrideRaw string) string {
	var sb strings.Builder
	first := true
	overridden := false
	for _, key := range params.Keys() {
		for _, value := range params.Values(key) {
			if !first {
				sb.WriteByte('&')
			}
			first = false
			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			if key == overrideKey && !overridden {
				sb.WriteString(overrideRaw)
				overridden = true
				continue
			}
			sb.WriteString(url.QueryEscape(value))
		}
	}
	return sb.String()
}

func drainAndCheckMarkers(resp *upstream.Response) (bool, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBodyLoadFailed, err)
	}
	return bytes.Contains(body, []byte(markerURLEncoded)) || bytes.Contains(body, []byte(markerRaw)), nil
}
