package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/config"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithCampaignID(ctx, "camp-1")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"campaign_id\":\"camp-1\"")) {
		t.Fatalf("expected campaign_id to be preserved; entry=%s", buf.String())
	}
}

func TestLoggerCorrelationFieldsDoNotLeakAcrossContexts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	base := context.Background()
	_ = log.WithUGCID(base, "ugc-9")
	log.Info(base, "plain")

	if bytes.Contains(buf.Bytes(), []byte("ugc_id")) {
		t.Fatalf("expected parent context to stay untouched; entry=%s", buf.String())
	}
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("info"), Output: buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug entry to be filtered; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel("WARN"); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestLoggerStampsEnvAndAmounts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Env: "dev", Output: buf})

	ctx := log.WithAmount(context.Background(), "escrow_amount", decimal.RequireFromString("905.5"))
	log.Info(ctx, "campaign.funded")

	if !bytes.Contains(buf.Bytes(), []byte(`"env":"dev"`)) {
		t.Fatalf("expected env field; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"escrow_amount":"905.50"`)) {
		t.Fatalf("expected fixed amount; entry=%s", buf.String())
	}
}

func TestLoggerConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: "console", Output: buf})
	log.Info(context.Background(), "hello")
	if bytes.HasPrefix(bytes.TrimSpace(buf.Bytes()), []byte("{")) {
		t.Fatalf("expected console output, got json: %s", buf.String())
	}
}

func TestLoggerErrorAttachesDiagnostics(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	err := pkgerrors.Wrap(pkgerrors.CodeConflict, &pgconn.PgError{Code: "23505", TableName: "wallets"}, "duplicate wallet")
	log.Error(context.Background(), "wallet.create_failed", err)

	for _, want := range []string{`"error_code":"CONFLICT"`, `"pg_code":"23505"`, `"pg_table":"wallets"`, `"stack":`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s; entry=%s", want, buf.String())
		}
	}
}

func TestLoggerSkipsBlankIdentifiers(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithUserID(context.Background(), " ")
	log.Info(ctx, "anonymous")

	if bytes.Contains(buf.Bytes(), []byte("user_id")) {
		t.Fatalf("expected blank user id to be skipped; entry=%s", buf.String())
	}
}

func TestFromConfigAppliesLevel(t *testing.T) {
	log := FromConfig("test", config.AppConfig{Env: "prod", LogLevel: "warn"})
	if got := log.root.GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", got)
	}
}
