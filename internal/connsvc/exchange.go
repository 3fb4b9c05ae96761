package connsvc

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/rustyproxy/rustyproxy/internal/message"
	"github.com/rustyproxy/rustyproxy/internal/observe"
	"github.com/rustyproxy/rustyproxy/internal/proxyutil"
)

func isChunked(transferEncoding string) bool {
	return strings.EqualFold(transferEncoding, "chunked")
}

// copyChunked re-applies chunked transfer-coding framing while streaming
// r to w, without buffering the whole body.
func copyChunked(w io.Writer, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := fmt.Fprintf(w, "%x\r\n", n); werr != nil {
				return werr
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if _, werr := io.WriteString(w, "\r\n"); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			_, werr := io.WriteString(w, "0\r\n\r\n")
			return werr
		}
		if err != nil {
			return err
		}
	}
}

// forwardOneExchange implements RESOLVE_TARGET -> FORWARD ->
// MATERIALIZE_RESP_BODY -> DISPATCH_SINK -> DONE. It returns whether the
// connection should keep reading further requests.
func (s *Server) forwardOneExchange(conn net.Conn, req message.Request) bool {
	host, port, err := s.resolveTarget(req)
	if err != nil {
		// No upstream connection was attempted; nothing to forward.
		writeBadRequest(conn, err)
		return false
	}

	resp, err := s.Client.SendRequest(req, host, port, req.IsHTTPS)
	if err != nil {
		// A failed upstream connection closes the inbound connection
		// with whatever the framework emits; no custom 502 (§7).
		return false
	}
	defer resp.Body.Close()

	var respMessage message.Response
	var bodyReader io.Reader = resp.Body

	if s.Pipeline.HasSink() {
		contentType, _ := resp.Headers.Get("Content-Type")
		body, err := observe.MaterializeBody(resp.Body, contentType)
		if err != nil {
			return false
		}
		respMessage = message.NewResponse(resp.Code, resp.Message, nil, body)
		respMessage.Headers = resp.Headers
		// The materialized body has a known, final length; re-state it
		// rather than keep a (now meaningless) chunked-framing header.
		respMessage.Headers.Del("Transfer-Encoding")
		respMessage.Headers.Set("Content-Length", fmt.Sprintf("%d", len(respMessage.Body.Encode())))
		bodyReader = nil // already materialized; write body.Encode() below
	}

	if err := writeStatusAndHeaders(conn, resp.Code, resp.Message, resp.Headers); err != nil {
		return false
	}

	if bodyReader != nil {
		if chunkedOut, _ := resp.Headers.Get("Transfer-Encoding"); isChunked(chunkedOut) {
			// The upstream client already de-chunked the inbound body
			// into a plain stream; since the outgoing headers (passed
			// through unchanged) still advertise chunked framing, it has
			// to be re-applied on the way out rather than copied raw.
			if err := copyChunked(conn, bodyReader); err != nil {
				return false
			}
		} else if _, err := io.Copy(conn, bodyReader); err != nil {
			return false
		}
	} else {
		if _, err := conn.Write(respMessage.Body.Encode()); err != nil {
			return false
		}
		s.Pipeline.Dispatch(req, respMessage)
	}

	return true
}

// resolveTarget implements RESOLVE_TARGET. Both paths resolve through
// proxyutil.ExtractHost (the Host header, else the URI host); only the
// fallback port differs: 443 on the inner (is_tls) path, 80 on the outer
// (!is_tls) path. The outer request has already been through
// CleanRequest, so its URI carries no authority and only the Host header
// is consulted: the URI host is not used, and a request without a Host
// header is answered with 400.
func (s *Server) resolveTarget(req message.Request) (host string, port uint16, err error) {
	fallbackPort := uint16(80)
	if s.IsTLS {
		fallbackPort = 443
	}

	hostHeader := proxyutil.ExtractHost(req)
	if hostHeader == "" {
		return "", 0, proxyutil.ErrInvalidHost
	}
	return proxyutil.ParseHostHeader(hostHeader, fallbackPort)
}

func writeStatusAndHeaders(w io.Writer, code int, reason string, headers *message.Headers) error {
	if reason == "" {
		reason = message.CanonicalReason(code)
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", code, reason); err != nil {
		return err
	}
	var werr error
	headers.Each(func(key, value string) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(w, "%s: %s\r\n", key, value)
	})
	if werr != nil {
		return werr
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
