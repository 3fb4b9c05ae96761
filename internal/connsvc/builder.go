package connsvc

import (
	"crypto/tls"
	"errors"
	"net"

	"github.com/rustyproxy/rustyproxy/internal/observe"
)

// Errors returned by NewServer, mirroring the original Rust
// ProxyBuilder::build's BuildError variants.
var (
	ErrNoHost      = errors.New("host is not specified")
	ErrInvalidHost = errors.New("given host is not a valid ip")
	ErrNoPort      = errors.New("connection port is not specified")
)

// Config carries the construction-time parameters for a Server, in place
// of the original's chained Proxy::builder().with_host(..).with_port(..)
// calls — Go favors a plain options struct over a fluent builder, but the
// fail-fast validation at construction time (rather than at the first
// Serve call) carries over unchanged.
type Config struct {
	Host      string
	Port      uint16
	IsTLS     bool
	Client    UpstreamClient
	Pipeline  *observe.Pipeline
	TLSConfig *tls.Config
}

// NewServer validates cfg and returns a ready-to-Serve Server, failing
// fast on a missing host, a host that isn't a valid IP, or a missing
// port — the same three failure modes as ProxyBuilder::build's
// NoHost/InvalidHost/NoPort.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		return nil, ErrNoHost
	}
	if net.ParseIP(cfg.Host) == nil {
		return nil, ErrInvalidHost
	}
	if cfg.Port == 0 {
		return nil, ErrNoPort
	}

	return &Server{
		IsTLS:     cfg.IsTLS,
		Client:    cfg.Client,
		Pipeline:  cfg.Pipeline,
		TLSConfig: cfg.TLSConfig,
	}, nil
}
