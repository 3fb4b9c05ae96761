// Package connsvc implements the per-connection state machine: reading
// one or more HTTP/1.1 requests off an accepted socket, validating and
// cleaning direct forward-proxy requests, upgrading CONNECT tunnels to a
// server-terminated TLS session and feeding the decrypted stream back
// into the same state machine, forwarding through the upstream client,
// and handing completed exchanges to the observation pipeline.
package connsvc

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rustyproxy/rustyproxy/internal/httpparse"
	"github.com/rustyproxy/rustyproxy/internal/message"
	"github.com/rustyproxy/rustyproxy/internal/observe"
	"github.com/rustyproxy/rustyproxy/internal/proxyutil"
	"github.com/rustyproxy/rustyproxy/internal/upstream"
)

// UpstreamClient is the subset of upstream.Client the service depends on.
type UpstreamClient interface {
	SendRequest(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error)
}

// Server is one instance of the connection state machine. The same type
// handles plaintext forward-proxy traffic (IsTLS=false) and
// decrypted-inner traffic after a CONNECT upgrade (IsTLS=true); IsTLS
// only changes how RESOLVE_TARGET and VALIDATE behave.
type Server struct {
	IsTLS     bool
	Client    UpstreamClient
	Pipeline  *observe.Pipeline
	TLSConfig *tls.Config // required only when IsTLS=false, to terminate CONNECT tunnels
}

// Serve accepts connections on ln until ln is closed, then returns nil,
// spawning one goroutine per connection. Other accept failures are
// logged and the loop keeps going, matching "a failure to accept a new
// connection is logged and the loop continues" (§7).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("connsvc: accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection drives ACCEPTED -> READ_REQ -> ... -> DONE for every
// sequential request on conn. Ownership of conn's lifetime is explicit:
// every exit path except the CONNECT-upgrade path closes it itself.
func (s *Server) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		req, err := s.readRequest(reader)
		if err != nil {
			if err != io.EOF {
				log.Printf("connsvc: read request: %v", err)
			}
			conn.Close()
			return
		}

		if req.Method == "CONNECT" && !s.IsTLS {
			s.handleConnect(conn, req)
			// Ownership of conn passes to handleConnect, which runs the
			// TLS accept and the inner loop on this same goroutine; the
			// outer loop for this connection ends here.
			return
		}

		if !s.IsTLS {
			if err := proxyutil.ValidateRequest(req); err != nil {
				writeBadRequest(conn, err)
				conn.Close()
				return
			}
			req = proxyutil.CleanRequest(req)
		}

		if !s.forwardOneExchange(conn, req) {
			conn.Close()
			return
		}
	}
}

// readRequest implements READ_REQ and MATERIALIZE_BODY: parse the request
// line, then headers up to the blank line, then drain the body (fixed-length
// or chunked) into plain bytes. A CONNECT request is returned right after
// its request line; its headers are not read.
func (s *Server) readRequest(r *bufio.Reader) (message.Request, error) {
	lineBytes, err := readCRLFLine(r)
	if err != nil {
		return message.Request{}, err
	}
	rl, err := httpparse.ParseRequestLine(append(lineBytes, '\r', '\n'))
	if err != nil {
		return message.Request{}, fmt.Errorf("malformed request line: %w", err)
	}

	if strings.EqualFold(rl.Method, "CONNECT") {
		return message.Request{IsHTTPS: s.IsTLS, Method: "CONNECT", Path: rl.URI, Headers: message.NewHeaders()}, nil
	}

	var headerPairs [][2]string
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return message.Request{}, err
		}
		if len(line) == 0 {
			break
		}
		name, value, err := httpparse.ParseHeader(line)
		if err != nil {
			return message.Request{}, fmt.Errorf("malformed header: %w", err)
		}
		headerPairs = append(headerPairs, [2]string{name, value})
	}

	contentLength := 0
	chunked := false
	for _, kv := range headerPairs {
		switch {
		case strings.EqualFold(kv[0], "Content-Length"):
			contentLength, _ = strconv.Atoi(strings.TrimSpace(kv[1]))
		case strings.EqualFold(kv[0], "Transfer-Encoding") && strings.EqualFold(kv[1], "chunked"):
			chunked = true
		}
	}

	var rawBody io.Reader = io.LimitReader(r, int64(contentLength))
	if chunked {
		rawBody = newChunkedBodyReader(r)
	}
	bodyBytes, err := io.ReadAll(rawBody)
	if err != nil {
		return message.Request{}, fmt.Errorf("reading body: %w", err)
	}

	contentType := headerValue(headerPairs, "Content-Type")
	req := message.NewRequest(s.IsTLS, rl.Method, rl.URI, headerPairs, message.NewBodyFromContentType(contentType, bodyBytes))

	// The body above is already fully materialized into plain bytes,
	// whether or not it arrived chunked — Transfer-Encoding is never
	// re-emitted by us, and Content-Length (when the request carries a
	// body at all) has to match what was actually materialized, the same
	// way the response side re-states it in exchange.go.
	req.Headers.Del("Transfer-Encoding")
	if chunked || contentLength > 0 {
		req.Headers.Set("Content-Length", strconv.Itoa(len(bodyBytes)))
	}
	return req, nil
}

func headerValue(pairs [][2]string, name string) string {
	canon := textproto.CanonicalMIMEHeaderKey(name)
	for _, kv := range pairs {
		if kv[0] == canon {
			return kv[1]
		}
	}
	return ""
}

func readCRLFLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, nil
}

func writeBadRequest(w io.Writer, cause error) {
	body := cause.Error()
	fmt.Fprintf(w, "HTTP/1.1 400 Bad Request\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
}
