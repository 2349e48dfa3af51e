// Package tls builds the TLS configurations used by the predictor's HTTP and
// gRPC listeners and by clients of the prediction API.
//
// Certificates are optional on both sides of the CA: with a CA file the
// server requires and verifies client certificates (mutual TLS) and the
// client verifies the server against that CA; without one the server accepts
// any client and the client falls back to the system roots. Every
// configuration enforces TLS 1.3.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds the certificate file paths of one TLS endpoint.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CAFile enables mutual TLS when set.
	CAFile string
}

// Validate reports missing or unreadable certificate files. A disabled
// config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("tls enabled but cert/key files not specified")
	}
	return statFiles(c.CertFile, c.KeyFile, c.CAFile)
}

// Mutual reports whether client certificates are verified.
func (c Config) Mutual() bool {
	return c.Enabled && c.CAFile != ""
}

// NewServerTLSConfig loads the server key pair. When caFile is set, client
// certificates are required and verified against it.
func NewServerTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("server certificate and key are required")
	}
	if err := statFiles(certFile, keyFile, caFile); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	cfg := baseConfig()
	cfg.Certificates = []tls.Certificate{cert}

	if caFile != "" {
		pool, err := loadCAPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// NewClientTLSConfig verifies the server against caFile (or the system roots
// when empty) and presents a client certificate when certFile and keyFile are set.
func NewClientTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("client certificate and key must be set together")
	}
	if err := statFiles(certFile, keyFile, caFile); err != nil {
		return nil, err
	}

	cfg := baseConfig()
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if caFile != "" {
		pool, err := loadCAPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func baseConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS13}
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}

func statFiles(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file %q: %w", path, err)
		}
	}
	return nil
}
