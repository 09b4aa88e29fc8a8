package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/fanout/component"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/run"
)

type fakeWriter struct {
	errs   []error
	writes []kafkago.Message
	calls  int
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.calls++
	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		if err != nil {
			return err
		}
	}
	w.writes = append(w.writes, msgs...)
	return nil
}

func (w *fakeWriter) Stats() kafkago.WriterStats { return kafkago.WriterStats{} }

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func finalizedRun(t *testing.T) *run.Run {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := run.New("alice", "email", "a@example.com", now)
	if err := r.Append(run.Outcome{Source: "directory", Success: true, CompletedAt: now}, now); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := r.Finalize(1, now.Add(time.Second)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return r
}

func testPublisher(w writer) *Publisher {
	cfg := Config{Enabled: true}
	cfg.ApplyDefaults()
	p := newPublisher(cfg, "fanoutd", logger.Nop(), w)
	p.retry.BaseBackoff = time.Millisecond
	p.retry.MaxBackoff = 5 * time.Millisecond
	return p
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Enabled: true}
	cfg.ApplyDefaults()

	if len(cfg.Brokers) != 1 || cfg.Brokers[0] != "localhost:9092" {
		t.Errorf("Brokers = %v, want [localhost:9092]", cfg.Brokers)
	}
	if cfg.Topic != DefaultTopic {
		t.Errorf("Topic = %q", cfg.Topic)
	}
	if cfg.Compression != "snappy" || cfg.Retries != 3 || cfg.RequiredAcks != -1 {
		t.Errorf("producer defaults = %q/%d/%d", cfg.Compression, cfg.Retries, cfg.RequiredAcks)
	}
	if cfg.WriteTimeout != 10*time.Second || cfg.DialTimeout != 10*time.Second {
		t.Errorf("timeouts = %s/%s", cfg.WriteTimeout, cfg.DialTimeout)
	}

	sasl := Config{EnableSASL: true}
	sasl.ApplyDefaults()
	if sasl.SASLMechanism != "PLAIN" {
		t.Errorf("SASLMechanism = %q, want PLAIN", sasl.SASLMechanism)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Compression = "brotli" }, false},
		{"bad compression", func(c *Config) { c.Compression = "brotli" }, true},
		{"bad acks", func(c *Config) { c.RequiredAcks = 2 }, true},
		{"sasl without user", func(c *Config) { c.EnableSASL = true; c.SASLMechanism = "PLAIN" }, true},
		{"bad sasl mechanism", func(c *Config) { c.EnableSASL = true; c.SASLMechanism = "GSSAPI"; c.Username = "u" }, true},
		{"cert without key", func(c *Config) { c.TLSCertFile = "cert.pem" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Enabled: true}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveCompression(t *testing.T) {
	tests := map[string]kafkago.Compression{
		"gzip":    kafkago.Gzip,
		"lz4":     kafkago.Lz4,
		"zstd":    kafkago.Zstd,
		"snappy":  kafkago.Snappy,
		"none":    0,
		"unknown": kafkago.Snappy,
	}
	for name, want := range tests {
		if got := resolveCompression(name); got != want {
			t.Errorf("resolveCompression(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestBuildSASLMechanism(t *testing.T) {
	for _, mech := range []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"} {
		m, err := buildSASLMechanism(&Config{SASLMechanism: mech, Username: "u", Password: "p"})
		if err != nil || m == nil {
			t.Errorf("%s: mechanism=%v err=%v", mech, m, err)
		}
	}
	if _, err := buildSASLMechanism(&Config{SASLMechanism: "GSSAPI"}); err == nil {
		t.Error("expected error for unsupported mechanism")
	}
}

func TestRunEventMessage(t *testing.T) {
	r := finalizedRun(t)
	ev := NewRunEvent("fanoutd", r, time.Now())
	msg, err := ev.Message("runs")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}

	if msg.Topic != "runs" || string(msg.Key) != r.ID {
		t.Errorf("topic/key = %q/%q", msg.Topic, msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event-type"] != EventRunFinalized || headers["event-id"] != ev.ID {
		t.Errorf("headers = %v", headers)
	}

	var decoded struct {
		Type    string  `json:"type"`
		Subject string  `json:"subject"`
		Data    run.Run `json:"data"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Subject != r.ID || decoded.Data.Status != run.StatusCompleted || len(decoded.Data.Outcomes) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPublishRun(t *testing.T) {
	w := &fakeWriter{}
	p := testPublisher(w)

	if err := p.PublishRun(context.Background(), finalizedRun(t)); err != nil {
		t.Fatalf("PublishRun: %v", err)
	}
	if len(w.writes) != 1 || w.writes[0].Topic != DefaultTopic {
		t.Fatalf("writes = %+v", w.writes)
	}
	if m := p.Metrics(); m.Published != 1 || m.Failed != 0 || m.Bytes == 0 {
		t.Errorf("Metrics = %+v", m)
	}
}

func TestPublishRunRetriesTransientErrors(t *testing.T) {
	w := &fakeWriter{errs: []error{kafkago.LeaderNotAvailable, errors.New("dial tcp: connection refused")}}
	p := testPublisher(w)

	if err := p.PublishRun(context.Background(), finalizedRun(t)); err != nil {
		t.Fatalf("PublishRun: %v", err)
	}
	if w.calls != 3 {
		t.Errorf("calls = %d, want 3", w.calls)
	}
	if m := p.Metrics(); m.Retries != 2 || m.Published != 1 {
		t.Errorf("Metrics = %+v", m)
	}
}

func TestPublishRunStopsOnPermanentErrors(t *testing.T) {
	w := &fakeWriter{errs: []error{kafkago.TopicAuthorizationFailed}}
	p := testPublisher(w)

	err := p.PublishRun(context.Background(), finalizedRun(t))
	if err == nil || !strings.Contains(err.Error(), DefaultTopic) {
		t.Fatalf("PublishRun = %v", err)
	}
	if w.calls != 1 {
		t.Errorf("calls = %d, want 1", w.calls)
	}
	if m := p.Metrics(); m.Failed != 1 {
		t.Errorf("Failed = %d", m.Failed)
	}
}

func TestPublishRunGivesUpAfterRetries(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	w := &fakeWriter{errs: []error{refused, refused, refused, refused}}
	p := testPublisher(w)

	if err := p.PublishRun(context.Background(), finalizedRun(t)); !errors.Is(err, refused) {
		t.Fatalf("PublishRun = %v", err)
	}
	if w.calls != 3 {
		t.Errorf("calls = %d, want 3", w.calls)
	}
}

func TestPublishRunBacksOffExponentially(t *testing.T) {
	cfg := Config{Enabled: true, Retries: 4, RetryBackoff: 50 * time.Millisecond}
	cfg.ApplyDefaults()
	p := newPublisher(cfg, "fanoutd", logger.Nop(), &fakeWriter{})
	p.retry.JitterRatio = 0

	for attempt, want := range map[int]time.Duration{1: 50 * time.Millisecond, 2: 100 * time.Millisecond, 3: 200 * time.Millisecond} {
		if got := p.retry.ComputeBackoff(attempt); got != want {
			t.Errorf("backoff after attempt %d = %v, want %v", attempt, got, want)
		}
	}
	if p.retry.MaxAttempts != 4 || p.retry.MaxBackoff != 5*time.Second {
		t.Errorf("policy = %+v", p.retry)
	}
}

func TestPublishRunHonorsCancellation(t *testing.T) {
	w := &fakeWriter{}
	p := testPublisher(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.PublishRun(ctx, finalizedRun(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("PublishRun = %v, want context.Canceled", err)
	}
	if w.calls != 0 {
		t.Errorf("calls = %d, want 0", w.calls)
	}
	if m := p.Metrics(); m.Failed != 1 || m.Retries != 0 {
		t.Errorf("Metrics = %+v", m)
	}
}

func TestPublisherClose(t *testing.T) {
	w := &fakeWriter{}
	p := testPublisher(w)
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close = %v closed=%v", err, w.closed)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := p.PublishRun(context.Background(), finalizedRun(t)); err == nil {
		t.Error("expected error publishing after Close")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{kafkago.LeaderNotAvailable, true},
		{kafkago.MessageSizeTooLarge, false},
		{errors.New("read tcp: i/o timeout"), true},
		{errors.New("invalid topic"), false},
	}
	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestComponentLifecycle(t *testing.T) {
	w := &fakeWriter{}
	cfg := Config{Enabled: true, Brokers: []string{"127.0.0.1:1"}, DialTimeout: 200 * time.Millisecond}
	c := NewComponent(cfg, testPublisher(w), nil)

	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("Health before start = %+v", h)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy || !strings.Contains(h.Message, "unreachable") {
		t.Errorf("Health with no broker = %+v", h)
	}
	if d := c.Describe(); !strings.Contains(d.Details, "topic="+DefaultTopic) {
		t.Errorf("Describe = %+v", d)
	}
	if err := c.Stop(context.Background()); err != nil || !w.closed {
		t.Fatalf("Stop = %v closed=%v", err, w.closed)
	}
}

func TestTransportSecurity(t *testing.T) {
	cfg := Config{EnableTLS: true, EnableSASL: true, SASLMechanism: "SCRAM-SHA-512", Username: "fanout", Password: "p"}
	cfg.ApplyDefaults()

	tr, err := newTransport(&cfg)
	if err != nil {
		t.Fatalf("newTransport: %v", err)
	}
	if tr.TLS == nil || tr.TLS.MinVersion != tls.VersionTLS12 || tr.SASL == nil {
		t.Errorf("transport security not applied: tls=%v sasl=%v", tr.TLS, tr.SASL)
	}
	d, err := newDialer(&cfg)
	if err != nil || d.TLS == nil || d.SASLMechanism == nil || d.Timeout != cfg.DialTimeout {
		t.Errorf("dialer = %+v, err = %v", d, err)
	}

	missingCA := cfg
	missingCA.TLSCAFile = filepath.Join(t.TempDir(), "absent.pem")
	if _, err := newTransport(&missingCA); err == nil {
		t.Error("expected error for unreadable CA file")
	}

	badSASL := cfg
	badSASL.SASLMechanism = "OAUTHBEARER"
	if _, err := newDialer(&badSASL); !errors.Is(err, errUnsupportedSASL) {
		t.Errorf("expected errUnsupportedSASL, got %v", err)
	}
}
