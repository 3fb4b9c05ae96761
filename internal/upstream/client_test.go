package upstream

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

func serveOnce(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(2 * time.Second))
		// Drain the request line + headers so the write below isn't racing.
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte(response))
	}()
	return ln.Addr().String()
}

func TestSendRequestPlaintext(t *testing.T) {
	addr := serveOnce(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	_ = portStr

	req := message.NewRequest(false, "GET", "/path", [][2]string{{"Host", host}}, message.NewBytesBody(nil))

	c := NewClient()
	var port uint16
	_, err = net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// parse port manually since net.SplitHostPort returns a string
	for _, ch := range portStr {
		port = port*10 + uint16(ch-'0')
	}

	resp, err := c.SendRequest(req, host, port, false)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	defer resp.Body.Close()

	if resp.Code != 200 {
		t.Fatalf("code = %d", resp.Code)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
}
