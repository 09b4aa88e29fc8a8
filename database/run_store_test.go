package database

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/kbukum/fanout/component"
	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/run"
	"github.com/kbukum/fanout/run/storetest"
)

var dbSeq atomic.Int64

// testConfig returns an isolated shared-cache in-memory SQLite database.
// One connection keeps concurrent writers from tripping SQLITE_BUSY.
func testConfig() Config {
	return Config{
		Enabled:      true,
		Driver:       DriverSQLite,
		DSN:          fmt.Sprintf("file:fanout_test_%d?mode=memory&cache=shared", dbSeq.Add(1)),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		MaxRetries:   1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	}
}

func newTestStore(t *testing.T) run.Store {
	t.Helper()
	comp := NewComponent(testConfig(), logger.Nop()).WithAutoMigrate(Models()...)
	if err := comp.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = comp.Stop(context.Background()) })
	return NewRunStore(comp.DB())
}

func TestRunStore(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestRunStore_DuplicateCreate(t *testing.T) {
	s := newTestStore(t)
	r := run.New("", "email", "x", time.Now())
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(context.Background(), r)
	if !apperrors.HasCode(err, apperrors.ErrCodePersistence) {
		t.Errorf("expected PERSISTENCE on duplicate id, got %v", err)
	}
}

func TestRunStore_LargeOutcomePayload(t *testing.T) {
	comp := NewComponent(testConfig(), logger.Nop()).WithAutoMigrate(Models()...)
	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = comp.Stop(ctx) })

	cols, err := comp.DB().GormDB.Migrator().ColumnTypes(&OutcomeModel{})
	if err != nil {
		t.Fatalf("ColumnTypes: %v", err)
	}
	for _, col := range cols {
		if col.Name() == "data" && !strings.EqualFold(col.DatabaseTypeName(), "longtext") {
			t.Errorf("data column type = %q, want longtext", col.DatabaseTypeName())
		}
	}

	s := NewRunStore(comp.DB())
	r := run.New("", "email", "x", time.Now())
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := json.RawMessage(`{"blob":"` + strings.Repeat("a", 200<<10) + `"}`)
	if err := s.AppendOutcome(ctx, r.ID, run.Outcome{Source: "big", Success: true, Data: payload, CompletedAt: time.Now()}); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}
	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Outcomes) != 1 || len(got.Outcomes[0].Data) != len(payload) {
		t.Errorf("payload truncated: %d outcomes", len(got.Outcomes))
	}
}

func TestRunStore_AppendToMissingRun(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendOutcome(context.Background(), "missing", run.Outcome{Source: "a"})
	if !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	comp := NewComponent(testConfig(), logger.Nop())
	ctx := context.Background()

	if comp.DB() != nil {
		t.Error("DB() should be nil before Start")
	}
	if h := comp.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy before start, got %s", h.Status)
	}

	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s (%s)", h.Status, h.Message)
	}

	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := comp.DB().Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestComponent_Disabled(t *testing.T) {
	comp := NewComponent(Config{Enabled: false}, nil)
	if err := comp.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if comp.DB() != nil {
		t.Error("disabled component should not connect")
	}
	if h := comp.Health(context.Background()); h.Status != component.StatusHealthy || h.Message != "disabled" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid sqlite", func(*Config) {}, false},
		{"valid mysql", func(c *Config) { c.Driver = DriverMySQL }, false},
		{"unknown driver", func(c *Config) { c.Driver = "postgres" }, true},
		{"missing dsn", func(c *Config) { c.DSN = "" }, true},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 10; c.MaxOpenConns = 2 }, true},
		{"bad lifetime", func(c *Config) { c.ConnMaxLifetime = "forever" }, true},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.DSN = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Enabled: true, DSN: "file:x"}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), true},
		{"mysql deadlock", &mysqldriver.MySQLError{Number: 1213}, true},
		{"mysql server gone", &mysqldriver.MySQLError{Number: 2006}, true},
		{"mysql syntax", &mysqldriver.MySQLError{Number: 1064}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked string", fmt.Errorf("database is locked"), true},
		{"canceled", context.Canceled, false},
		{"syntax error", fmt.Errorf("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTranslate(t *testing.T) {
	if err := translate(gorm.ErrRecordNotFound, "get run", "r1"); apperrors.CodeOf(err) != string(apperrors.ErrCodeNotFound) {
		t.Errorf("record not found -> %v", err)
	}

	dup := translate(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, "create run", "r1")
	appErr, ok := apperrors.AsAppError(dup)
	if !ok || appErr.Code != apperrors.ErrCodePersistence || appErr.Retryable {
		t.Errorf("duplicate -> %+v", dup)
	}

	busy := translate(sqlite3.Error{Code: sqlite3.ErrBusy}, "finalize run", "r1")
	if appErr, ok := apperrors.AsAppError(busy); !ok || !appErr.Retryable {
		t.Errorf("busy -> %+v", busy)
	}

	passthrough := apperrors.NotFound("run", "r2")
	if translate(passthrough, "get run", "r2") != passthrough {
		t.Error("AppError should pass through unchanged")
	}
}
