package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rustyproxy/rustyproxy/internal/capturestore"
	"github.com/rustyproxy/rustyproxy/internal/config"
	"github.com/rustyproxy/rustyproxy/internal/connsvc"
	"github.com/rustyproxy/rustyproxy/internal/message"
	"github.com/rustyproxy/rustyproxy/internal/observe"
	"github.com/rustyproxy/rustyproxy/internal/operatorapi"
	"github.com/rustyproxy/rustyproxy/internal/scanner"
	"github.com/rustyproxy/rustyproxy/internal/upstream"
)

// Operator API port, cache capacity, and retention policy are not among
// the five required env vars in §4.7; they're optional knobs with
// sensible defaults, kept out of config.FromEnv so that package stays a
// direct match for the spec's five-parameter vocabulary.
const (
	defaultOperatorPort      = 8081
	defaultCacheCapacity     = 1024
	defaultRetentionSchedule = "0 * * * *" // hourly
	defaultRetentionMaxAge   = 7 * 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	log.Printf("fatal: "+format, args...)
	os.Exit(1)
}

type app struct {
	proxySrv    *connsvc.Server
	proxyLn     net.Listener
	operatorSrv *operatorapi.Server
	repo        *capturestore.Repo
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tlsConfig, err := connsvc.NewTLSConfig(cfg.SSLCertificate, cfg.SSLPrivateKey)
	if err != nil {
		return fmt.Errorf("loading TLS certificate material: %w", err)
	}
	log.Println("TLS certificate material loaded")

	repo, err := openCaptureStore(cfg.CaptureStoreURL)
	if err != nil {
		return fmt.Errorf("opening capture store: %w", err)
	}
	log.Println("Capture store opened and migrated")

	if _, err := repo.StartRetention(defaultRetentionSchedule, defaultRetentionMaxAge); err != nil {
		return fmt.Errorf("starting retention schedule: %w", err)
	}
	log.Printf("Retention job scheduled (%s, max age %s)", defaultRetentionSchedule, defaultRetentionMaxAge)

	pipeline := observe.New()
	pipeline.SetSink(func(req message.Request, resp message.Response) {
		capture := message.Capture{Request: req, Response: resp}
		if _, err := repo.AddCapture(capture); err != nil {
			log.Printf("main: persisting capture failed: %v", err)
		}
	})

	client := upstream.NewClient()
	sc := scanner.New(client)

	proxyAddr := net.JoinHostPort(cfg.ProxyHost.String(), strconv.Itoa(int(cfg.ProxyPort)))
	proxyLn, err := net.Listen("tcp", proxyAddr)
	if err != nil {
		return fmt.Errorf("binding proxy listener on %s: %w", proxyAddr, err)
	}
	log.Printf("Proxy listening on %s", proxyAddr)

	proxySrv, err := connsvc.NewServer(connsvc.Config{
		Host:      cfg.ProxyHost.String(),
		Port:      cfg.ProxyPort,
		IsTLS:     false,
		Client:    client,
		Pipeline:  pipeline,
		TLSConfig: tlsConfig,
	})
	if err != nil {
		return fmt.Errorf("constructing proxy server: %w", err)
	}

	operatorPort := operatorPortFromEnv()
	operatorSrv := operatorapi.NewServer(operatorPort, repo, sc)

	a := &app{proxySrv: proxySrv, proxyLn: proxyLn, operatorSrv: operatorSrv, repo: repo}

	serverErrCh := a.startServers(operatorPort)
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.shutdown(ctx)

	return runtimeErr
}

func (a *app) startServers(operatorPort int) <-chan error {
	serverErrCh := make(chan error, 2)
	report := func(name string, err error) {
		if err == nil || err == http.ErrServerClosed {
			return
		}
		select {
		case serverErrCh <- fmt.Errorf("%s: %w", name, err):
		default:
		}
	}

	go func() {
		report("proxy server", a.proxySrv.Serve(a.proxyLn))
	}()
	go func() {
		log.Printf("Operator API listening on :%d", operatorPort)
		report("operator api", a.operatorSrv.ListenAndServe())
	}()

	return serverErrCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	}
}

func (a *app) shutdown(ctx context.Context) {
	if err := a.proxyLn.Close(); err != nil {
		log.Printf("proxy listener close error: %v", err)
	}
	if err := a.operatorSrv.Shutdown(ctx); err != nil {
		log.Printf("operator api shutdown error: %v", err)
	}
	a.repo.StopRetention()
	log.Println("Retention job stopped")
}

// openCaptureStore strips a leading "sqlite://" scheme if present — the
// five-var config surface reuses MONGO_DB_CONNECTION_URL as the capture
// store's connection string, and the document store here is sqlite.
func openCaptureStore(storeURL string) (*capturestore.Repo, error) {
	path := strings.TrimPrefix(storeURL, "sqlite://")
	db, err := capturestore.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := capturestore.Migrate(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return capturestore.NewRepo(db, defaultCacheCapacity)
}

func operatorPortFromEnv() int {
	raw := os.Getenv("RUSTY_PROXY_OPERATOR_PORT")
	if raw == "" {
		return defaultOperatorPort
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 {
		log.Printf("main: ignoring invalid RUSTY_PROXY_OPERATOR_PORT=%q, using default %d", raw, defaultOperatorPort)
		return defaultOperatorPort
	}
	return port
}
