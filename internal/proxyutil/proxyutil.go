// Package proxyutil implements the small set of request-shape checks and
// rewrites that sit between the wire parser and the upstream client:
// validating that an inbound request is a legitimate proxy request,
// extracting and parsing the target host, and stripping proxy-only
// framing before forwarding.
package proxyutil

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

const headerProxyConnection = "Proxy-Connection"

// Error kinds for this layer, per the component's error-handling design.
var (
	ErrRelativeURI             = errors.New("request uri is relative")
	ErrNoProxyConnectionHeader = errors.New("request has no proxy-connection header")
	ErrUnexpectedEOL           = errors.New("unexpected end of host header")
	ErrInvalidHost             = errors.New("invalid host")
)

// ValidateRequest fails with ErrNoProxyConnectionHeader when the
// Proxy-Connection header is absent, checked BEFORE the URI-has-host
// check, which fails with ErrRelativeURI. The header's presence — not
// its value — gates the direct-proxy path.
func ValidateRequest(req message.Request) error {
	if !req.Headers.Has(headerProxyConnection) {
		return ErrNoProxyConnectionHeader
	}
	if uriHost(req) == "" {
		return ErrRelativeURI
	}
	return nil
}

// uriHost extracts a host from an absolute-form request URI ("GET
// http://host:port/path HTTP/1.1"), returning "" when the URI carries no
// authority (origin-form / relative requests).
func uriHost(req message.Request) string {
	const schemeSep = "://"
	idx := strings.Index(req.Path, schemeSep)
	if idx < 0 {
		return ""
	}
	rest := req.Path[idx+len(schemeSep):]
	if end := strings.IndexAny(rest, "/?"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// ExtractHost returns the Host header value if present, else the URI
// host, else "".
func ExtractHost(req message.Request) string {
	if host, ok := req.Host(); ok && host != "" {
		return host
	}
	return uriHost(req)
}

// ParseHostHeader splits s on the first ":". With no colon, returns
// (s, fallbackPort). With a colon, parses the suffix as a uint16 port;
// fails with ErrUnexpectedEOL if the suffix is empty, ErrInvalidHost if
// it doesn't parse as a port.
func ParseHostHeader(s string, fallbackPort uint16) (host string, port uint16, err error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return s, fallbackPort, nil
	}
	host = s[:idx]
	portStr := s[idx+1:]
	if portStr == "" {
		return "", 0, ErrUnexpectedEOL
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, ErrInvalidHost
	}
	return host, uint16(p), nil
}

// CleanRequest returns a new request with the Proxy-Connection header
// removed and the URI rewritten to path-and-query only (scheme and
// authority stripped) — the exact transformation from a proxy request to
// an origin-form request.
func CleanRequest(req message.Request) message.Request {
	clean := req.Clone()
	clean.Headers.Del(headerProxyConnection)
	clean.Path, clean.QueryParams = originForm(req)
	return clean
}

func originForm(req message.Request) (string, *message.MultiMap) {
	path := req.Path
	if idx := strings.Index(path, "://"); idx >= 0 {
		rest := path[idx+len("://"):]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			path = rest[slash:]
		} else {
			path = "/"
		}
	}
	return path, req.QueryParams.Clone()
}
