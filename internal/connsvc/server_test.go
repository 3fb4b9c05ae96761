package connsvc

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rustyproxy/rustyproxy/internal/message"
	"github.com/rustyproxy/rustyproxy/internal/observe"
	"github.com/rustyproxy/rustyproxy/internal/upstream"
)

// fakeUpstream always answers with a fixed response, regardless of target;
// good enough to exercise the connection-service state machine in
// isolation from the real upstream client.
type fakeUpstream struct {
	body string
}

func (f *fakeUpstream) SendRequest(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error) {
	headers := message.NewHeaders()
	headers.Set("Content-Type", "text/plain")
	return &upstream.Response{
		Code:    200,
		Message: "OK",
		Headers: headers,
		Body:    io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func dialListener(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

// TestPlaintextForwardProxy exercises S1: a direct proxy request with a
// Proxy-Connection header and an absolute-form URI is cleaned and
// forwarded, and the response comes back unmodified in shape.
func TestPlaintextForwardProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv := &Server{IsTLS: false, Client: &fakeUpstream{body: "hello"}, Pipeline: observe.New()}
	go srv.Serve(ln)

	conn := dialListener(t, ln)
	defer conn.Close()

	fmt.Fprintf(conn, "GET http://example.com/widgets HTTP/1.1\r\nHost: example.com\r\nProxy-Connection: keep-alive\r\n\r\n")

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("status = %q", status)
	}
}

// recordingUpstream captures the request it was asked to forward instead
// of answering one of its own, so a test can inspect exactly what the
// connection service decided to send upstream.
type recordingUpstream struct {
	got message.Request
}

func (r *recordingUpstream) SendRequest(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error) {
	r.got = req
	headers := message.NewHeaders()
	return &upstream.Response{Code: 200, Message: "OK", Headers: headers, Body: io.NopCloser(strings.NewReader(""))}, nil
}

// TestChunkedRequestBodyDeChunkedBeforeForwarding exercises the
// chunked-request path: the inbound body arrives chunked, and what's
// handed to the upstream client must carry a Content-Length matching the
// materialized bytes and no leftover Transfer-Encoding header — the
// upstream client has no chunked-body writer of its own, and without this
// fixup it would forward a body advertised as chunked but framed as
// fixed-length bytes.
func TestChunkedRequestBodyDeChunkedBeforeForwarding(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	client := &recordingUpstream{}
	srv := &Server{IsTLS: false, Client: client, Pipeline: observe.New()}
	go srv.Serve(ln)

	conn := dialListener(t, ln)
	defer conn.Close()

	fmt.Fprintf(conn, "POST http://example.com/widgets HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Proxy-Connection: keep-alive\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"5\r\nhello\r\n0\r\n\r\n")

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("status = %q", status)
	}

	if string(client.got.Body.Encode()) != "hello" {
		t.Fatalf("forwarded body = %q, want %q", client.got.Body.Encode(), "hello")
	}
	if client.got.Headers.Has("Transfer-Encoding") {
		t.Fatalf("forwarded request still carries Transfer-Encoding")
	}
	cl, ok := client.got.Headers.Get("Content-Length")
	if !ok || cl != "5" {
		t.Fatalf("forwarded Content-Length = %q, ok=%v, want \"5\"", cl, ok)
	}
}

// TestBadProxyRequestRejected exercises S3: a request carrying
// Proxy-Connection but a relative (origin-form) URI is rejected with a 400
// whose body is exactly the ErrRelativeURI message, and no upstream call
// is attempted.
func TestBadProxyRequestRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	called := false
	client := upstreamFunc(func(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error) {
		called = true
		return nil, fmt.Errorf("should not be called")
	})
	srv := &Server{IsTLS: false, Client: client, Pipeline: observe.New()}
	go srv.Serve(ln)

	conn := dialListener(t, ln)
	defer conn.Close()

	fmt.Fprintf(conn, "GET /widgets HTTP/1.1\r\nHost: example.com\r\nProxy-Connection: keep-alive\r\n\r\n")

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 400") {
		t.Fatalf("status = %q", status)
	}

	var contentLength int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			fmt.Sscanf(strings.TrimPrefix(line, "Content-Length:"), "%d", &contentLength)
		}
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "request uri is relative" {
		t.Fatalf("body = %q", body)
	}
	if called {
		t.Fatalf("upstream client was called for an invalid request")
	}
}

// TestConnectUpgradeToTLS exercises S2: a CONNECT request gets a 200, and
// the subsequent TLS-wrapped exchange on the same socket is decrypted and
// forwarded by an inner Server instance.
func TestConnectUpgradeToTLS(t *testing.T) {
	cert := generateSelfSignedCert(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv := &Server{
		IsTLS:     false,
		Client:    &fakeUpstream{body: "secret"},
		Pipeline:  observe.New(),
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}
	go srv.Serve(ln)

	conn := dialListener(t, ln)
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read CONNECT response: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("CONNECT status = %q", status)
	}
	// drain to the blank line
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read CONNECT headers: %v", err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer tlsConn.Close()

	fmt.Fprintf(tlsConn, "GET /secret HTTP/1.1\r\nHost: example.com\r\n\r\n")

	tr := bufio.NewReader(tlsConn)
	innerStatus, err := tr.ReadString('\n')
	if err != nil {
		t.Fatalf("read inner status: %v", err)
	}
	if !strings.HasPrefix(innerStatus, "HTTP/1.1 200") {
		t.Fatalf("inner status = %q", innerStatus)
	}
}

type upstreamFunc func(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error)

func (f upstreamFunc) SendRequest(req message.Request, host string, port uint16, isHTTPS bool) (*upstream.Response, error) {
	return f(req, host, port, isHTTPS)
}

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
}
