package config

import (
	"errors"
	"os"
	"testing"
)

func setAllEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	values := map[string]string{
		envProxyHost:       "127.0.0.1",
		envProxyPort:       "8080",
		envSSLCertificate:  "/etc/rustyproxy/cert.pem",
		envSSLPrivateKey:   "/etc/rustyproxy/key.pem",
		envMongoConnection: "sqlite:///var/lib/rustyproxy/captures.db",
	}
	for k, v := range overrides {
		values[k] = v
	}
	for k, v := range values {
		t.Setenv(k, v)
	}
}

func unsetEnv(t *testing.T, name string) {
	t.Helper()
	original, had := os.LookupEnv(name)
	os.Unsetenv(name)
	t.Cleanup(func() {
		if had {
			os.Setenv(name, original)
		}
	})
}

func TestFromEnvValid(t *testing.T) {
	setAllEnv(t, nil)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProxyHost.String() != "127.0.0.1" {
		t.Fatalf("host = %v", cfg.ProxyHost)
	}
	if cfg.ProxyPort != 8080 {
		t.Fatalf("port = %d", cfg.ProxyPort)
	}
}

func TestFromEnvMissingParameter(t *testing.T) {
	setAllEnv(t, nil)
	unsetEnv(t, envProxyHost)

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
	var pe *ParsingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParsingError, got %T", err)
	}
	if pe.Kind != KindMissingParameter || pe.Param != envProxyHost {
		t.Fatalf("got %+v", pe)
	}
}

func TestFromEnvInvalidPort(t *testing.T) {
	setAllEnv(t, map[string]string{envProxyPort: "not-a-port"})

	_, err := FromEnv()
	var pe *ParsingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParsingError, got %T", err)
	}
	if pe.Kind != KindInvalidParameterType || pe.Param != envProxyPort {
		t.Fatalf("got %+v", pe)
	}
}

func TestFromEnvInvalidHost(t *testing.T) {
	setAllEnv(t, map[string]string{envProxyHost: "not-an-ip"})

	_, err := FromEnv()
	var pe *ParsingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParsingError, got %T", err)
	}
	if pe.Kind != KindInvalidParameterType || pe.Param != envProxyHost {
		t.Fatalf("got %+v", pe)
	}
}
