package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no output", func(c *Config) { c.Stdout = false }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"k": ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			_, err := NewLogger(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := tenant.WithID(context.Background(), "client_001")
	ctx = WithRequestID(ctx, "req-42")

	tl.Info(ctx, "answer served", zap.String("source", "faq"))

	tl.AssertLogged(t, zapcore.InfoLevel, "answer served")
	tl.AssertField(t, "answer served", "tenant.id", "client_001")
	tl.AssertField(t, "answer served", "request.id", "req-42")
	tl.AssertField(t, "answer served", "source", "faq")
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()
	tp := trace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	tl.Warn(ctx, "within span")
	span.End()

	entries := tl.FilterMessage("within span").All()
	require.Len(t, entries, 1)
	keys := make([]string, 0, len(entries[0].Context))
	for _, f := range entries[0].Context {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "trace_id")
	assert.Contains(t, keys, "span_id")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Error(ctx, "e")

	tl.AssertLogged(t, TraceLevel, "t")
	tl.AssertLogged(t, zapcore.DebugLevel, "d")
	tl.AssertLogged(t, zapcore.ErrorLevel, "e")
}

func TestContextFields_RequestAndTenant(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = tenant.WithID(ctx, "acme")

	fields := ContextFields(ctx)
	keys := make(map[string]string, len(fields))
	for _, f := range fields {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "req-1", keys["request.id"])
	assert.Equal(t, "acme", keys["tenant.id"])

	assert.Empty(t, ContextFields(WithRequestID(context.Background(), "")))
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	zl := zap.New(core)

	zl.Info("provider configured",
		zap.String("api_key", "sk-abcdefgh12345"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "gpt-4o-mini"),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefgh12345")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, "gpt-4o-mini")
	assert.Contains(t, out, "[REDACTED]")
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)
}
