// Package upstream implements the single operation the rest of the proxy
// needs from an origin server: open a connection and perform one
// HTTP/1.1 request/response exchange. Header names go out title-cased:
// message.Headers stores every key in canonical MIME form, so the casing
// the client originally sent is not preserved.
package upstream

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rustyproxy/rustyproxy/internal/httpparse"
	"github.com/rustyproxy/rustyproxy/internal/message"
)

// ErrTransport is returned, wrapping the underlying cause, for every
// connection, TLS, handshake or send failure. The core never branches on
// which of those it was — it's a single opaque transport error.
var ErrTransport = errors.New("upstream transport error")

// Response is a lazily-readable upstream response: the body is not
// drained until the caller reads from it, so a forwarding-only exchange
// never needs to buffer it.
type Response struct {
	Code    int
	Message string
	Headers *message.Headers
	Body    io.ReadCloser
}

// Client opens short-lived, single-exchange connections to origin
// servers. It keeps no connection pool: §5 of the spec wants one TCP
// connection per exchange, not reuse.
type Client struct {
	// DialTimeout bounds the initial TCP/TLS connect. Zero means no
	// timeout, matching "no retries, framework defaults apply" (§4.3).
	DialTimeout time.Duration
}

// NewClient returns a Client with sane dial defaults.
func NewClient() *Client {
	return &Client{DialTimeout: 30 * time.Second}
}

// SendRequest opens a TCP (optionally TLS) connection to (host, port)
// and performs a single HTTP/1.1 request/response exchange.
func (c *Client) SendRequest(req message.Request, host string, port uint16, isHTTPS bool) (*Response, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", ErrTransport, addr, err)
	}

	if isHTTPS {
		// The cleaner behavior (§9 open question): server name is the
		// bare host, with any trailing ":port" already stripped by the
		// caller via ParseHostHeader, not the raw (possibly port-bearing)
		// host string.
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: host,
			NextProtos: []string{"http/1.1"},
			MinVersion: tls.VersionTLS12,
		})
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: tls handshake with %s: %v", ErrTransport, addr, err)
		}
		conn = tlsConn
	}

	wire := message.EncodeRequest(req)
	if _, err := conn.Write(wire); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: send request to %s: %v", ErrTransport, addr, err)
	}

	reader := bufio.NewReader(conn)
	resp, err := readResponse(reader, req.Method)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: read response from %s: %v", ErrTransport, addr, err)
	}

	// The connection-driving task (here: the raw net.Conn itself) is
	// closed once the body is fully consumed or the caller gives up;
	// log-only, never blocks the response's return to the caller.
	resp.Body = &closeLoggingReader{r: resp.Body, closer: conn, addr: addr}

	return resp, nil
}

func readResponse(r *bufio.Reader, method string) (*Response, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return nil, err
	}
	code, msg, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	headers := message.NewHeaders()
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break
		}
		name, value, err := httpparse.ParseHeader(line)
		if err != nil {
			return nil, err
		}
		headers.Add(name, value)
	}

	body := bodyReader(r, headers, code, method)

	return &Response{Code: code, Message: msg, Headers: headers, Body: body}, nil
}

func bodyReader(r *bufio.Reader, headers *message.Headers, code int, method string) io.ReadCloser {
	if method == "HEAD" || code == 204 || code == 304 || (code >= 100 && code < 200) {
		return io.NopCloser(strings.NewReader(""))
	}

	if te, ok := headers.Get("Transfer-Encoding"); ok && strings.EqualFold(te, "chunked") {
		return io.NopCloser(newChunkedReader(r))
	}

	if n, ok := message.ContentLength(headers); ok {
		return io.NopCloser(io.LimitReader(r, int64(n)))
	}

	// No Content-Length, no chunked encoding: read until the connection
	// closes, matching the "until-close" body mode of a framework HTTP
	// client with no other framing signal.
	return io.NopCloser(r)
}

func readLine(r *bufio.Reader) ([]byte, error) {
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

func parseStatusLine(line []byte) (code int, message string, err error) {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("malformed status line %q", line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", fmt.Errorf("malformed status code in %q: %w", line, err)
	}
	if len(parts) == 3 {
		message = parts[2]
	}
	return code, message, nil
}

// closeLoggingReader closes the underlying connection once the body is
// fully drained or the caller closes early, logging (not propagating) a
// close failure — the connection-driving concern is not on the response
// return's critical path.
type closeLoggingReader struct {
	r      io.Reader
	closer io.Closer
	addr   string
	closed bool
}

func (c *closeLoggingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		c.closeOnce()
	}
	return n, err
}

func (c *closeLoggingReader) Close() error {
	c.closeOnce()
	return nil
}

func (c *closeLoggingReader) closeOnce() {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.closer.Close(); err != nil {
		log.Printf("upstream: closing connection to %s: %v", c.addr, err)
	}
}
