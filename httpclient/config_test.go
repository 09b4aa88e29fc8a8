package httpclient

import (
	"testing"
	"time"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Timeout)
	}
	if cfg.MaxBodyBytes != 4<<20 {
		t.Errorf("expected 4MiB body cap, got %d", cfg.MaxBodyBytes)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseBackoff != 200*time.Millisecond {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfig_ValidateTLS(t *testing.T) {
	cfg := Config{TLS: &TLSConfig{CertFile: "client.pem"}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when key_file is missing")
	}
}

func TestTLSConfig_BuildEmpty(t *testing.T) {
	var c *TLSConfig
	got, err := c.Build()
	if err != nil || got != nil {
		t.Errorf("expected nil config, got %v, %v", got, err)
	}
	got, err = (&TLSConfig{SkipVerify: true}).Build()
	if err != nil || got == nil || !got.InsecureSkipVerify {
		t.Errorf("expected skip-verify config, got %v, %v", got, err)
	}
}
