package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// compressionCodecs maps config names to codecs. Unknown names fall back to
// snappy; Validate rejects them before that matters.
var compressionCodecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

func resolveCompression(name string) kafka.Compression {
	if c, ok := compressionCodecs[name]; ok {
		return c
	}
	return kafka.Snappy
}

// security is the TLS and SASL material shared by the writer transport and
// the health-check dialer.
type security struct {
	tls  *tls.Config
	sasl sasl.Mechanism
}

func newSecurity(cfg *Config) (security, error) {
	var s security
	if cfg.EnableTLS {
		tc, err := buildTLSConfig(cfg)
		if err != nil {
			return s, fmt.Errorf("kafka tls: %w", err)
		}
		s.tls = tc
	}
	if cfg.EnableSASL {
		m, err := buildSASLMechanism(cfg)
		if err != nil {
			return s, fmt.Errorf("kafka sasl: %w", err)
		}
		s.sasl = m
	}
	return s, nil
}

func newTransport(cfg *Config) (*kafka.Transport, error) {
	sec, err := newSecurity(cfg)
	if err != nil {
		return nil, err
	}
	return &kafka.Transport{
		DialTimeout: cfg.DialTimeout,
		IdleTimeout: cfg.IdleTimeout,
		MetadataTTL: cfg.MetadataTTL,
		TLS:         sec.tls,
		SASL:        sec.sasl,
	}, nil
}

func newDialer(cfg *Config) (*kafka.Dialer, error) {
	sec, err := newSecurity(cfg)
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{
		Timeout:       cfg.DialTimeout,
		DualStack:     true,
		TLS:           sec.tls,
		SASLMechanism: sec.sasl,
	}, nil
}

func buildTLSConfig(cfg *Config) (*tls.Config, error) {
	tc := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for local brokers
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = x509.NewCertPool()
		if !tc.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.TLSCAFile)
		}
	}
	if cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

var errUnsupportedSASL = errors.New("unsupported SASL mechanism")

func buildSASLMechanism(cfg *Config) (sasl.Mechanism, error) {
	switch cfg.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	}
	return nil, fmt.Errorf("%w %q", errUnsupportedSASL, cfg.SASLMechanism)
}
