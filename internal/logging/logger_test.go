package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, cfg Config) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	Init(cfg)
	t.Cleanup(func() { Init(Config{Level: "info"}) })
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, Config{Level: "warn"})
	Info().Msg("hidden")
	assert.Empty(t, buf.String())

	Warn().Msg("shown")
	assert.Equal(t, "shown", lastLine(t, buf)["message"])
}

func TestComponentLogger(t *testing.T) {
	buf := capture(t, Config{Level: "debug"})
	l := With().Str("component", "service").Logger()
	l.Debug().Int("n", 3).Msg("hello")

	m := lastLine(t, buf)
	assert.Equal(t, "service", m["component"])
	assert.EqualValues(t, 3, m["n"])
	assert.Equal(t, "debug", m["level"])
	assert.Contains(t, m, "time")
}

func TestCtxCarriesIDs(t *testing.T) {
	buf := capture(t, Config{Level: "info"})
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithCorrelationID(ctx, "cor-1")

	Ctx(ctx).Info().Msg("in request")
	m := lastLine(t, buf)
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "cor-1", m["correlation_id"])

	Ctx(context.Background()).Info().Msg("bare")
	m = lastLine(t, buf)
	assert.NotContains(t, m, "request_id")
}

func TestWithContextKeepsComponent(t *testing.T) {
	buf := capture(t, Config{Level: "info"})
	base := With().Str("component", "api").Logger()
	ctx := ContextWithRequestID(context.Background(), "req-2")

	WithContext(ctx, base).Info().Msg("x")
	m := lastLine(t, buf)
	assert.Equal(t, "api", m["component"])
	assert.Equal(t, "req-2", m["request_id"])
}

func TestGeneratedIDs(t *testing.T) {
	assert.Len(t, GenerateRequestID(), 36)
	assert.Len(t, GenerateCorrelationID(), 8)
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}
