package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/reads/internal/config"
	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/reference"
	"github.com/pbaille/reads/internal/service"
)

func TestParseConcepts(t *testing.T) {
	vec, err := parseConcepts([]string{"love=0.4", " honor = 1 "})
	require.NoError(t, err)
	assert.Equal(t, domain.ConceptVector{"love": 0.4, "honor": 1}, vec)

	for _, bad := range []string{"love", "=0.3", "love=high"} {
		_, err := parseConcepts([]string{bad})
		assert.Error(t, err, bad)
	}

	vec, err = parseConcepts(nil)
	require.NoError(t, err)
	assert.Empty(t, vec)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "Войн...", truncate("Война и мир", 7))
}

func TestTopConcepts(t *testing.T) {
	v := domain.ConceptVector{"a": 0.1, "b": 0.9, "c": 0.5}
	assert.Equal(t, "b=0.90 c=0.50", topConcepts(v, 2))
	assert.Equal(t, "", topConcepts(nil, 3))
}

func TestBuildAnalyzer(t *testing.T) {
	ref, err := reference.Builtin()
	require.NoError(t, err)
	cfg := config.Default().Analyzer

	cfg.Backend = config.AnalyzerNone
	a, err := buildAnalyzer(cfg, ref)
	require.NoError(t, err)
	assert.Nil(t, a)

	// missing keys disable analysis instead of failing startup
	for _, backend := range []string{config.AnalyzerVoyage, config.AnalyzerLLM} {
		cfg.Backend = backend
		cfg.VoyageAPIKey, cfg.AnthropicAPIKey = "", ""
		a, err = buildAnalyzer(cfg, ref)
		require.NoError(t, err, backend)
		assert.Nil(t, a, backend)
	}

	cfg.Backend = config.AnalyzerLLM
	cfg.AnthropicAPIKey = "key"
	a, err = buildAnalyzer(cfg, ref)
	require.NoError(t, err)
	assert.IsType(t, &service.Guard{}, a)

	cfg.Backend = config.AnalyzerVoyage
	cfg.VoyageAPIKey = "key"
	a, err = buildAnalyzer(cfg, ref)
	require.NoError(t, err)
	assert.IsType(t, &service.Guard{}, a)

	cfg.Backend = "oracle"
	_, err = buildAnalyzer(cfg, ref)
	assert.Error(t, err)
}
