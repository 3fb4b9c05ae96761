package connsvc

import (
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// handleConnect implements the TLS-upgrade half of the state machine: it
// answers 200 OK on the outer connection, then — in the calling
// goroutine, which from this point on exclusively owns conn — performs a
// server-side TLS handshake using the configured certificate chain and
// feeds the decrypted stream back into a second Server instance with
// IsTLS=true. Errors here are logged and terminate only this tunnel.
func (s *Server) handleConnect(conn net.Conn, req message.Request) {
	if _, err := io.WriteString(conn, "HTTP/1.1 200 OK\r\n\r\n"); err != nil {
		log.Printf("connsvc: writing CONNECT 200 response: %v", err)
		conn.Close()
		return
	}

	if s.TLSConfig == nil {
		log.Printf("connsvc: CONNECT received but no TLS certificate material configured")
		conn.Close()
		return
	}

	tlsConn := tls.Server(conn, s.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		log.Printf("connsvc: TLS upgrade handshake for %s: %v", req.Path, err)
		conn.Close()
		return
	}

	inner := &Server{
		IsTLS:    true,
		Client:   s.Client,
		Pipeline: s.Pipeline,
	}
	inner.handleConnection(tlsConn)
}

// NewTLSConfig builds the server-side TLS configuration once from a PEM
// certificate chain and private key pair, with no client authentication.
// The same leaf certificate is served for every intercepted host;
// automatic per-host leaf generation is explicitly out of scope.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading TLS certificate/key: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		NextProtos:   []string{"http/1.1"},
	}, nil
}
