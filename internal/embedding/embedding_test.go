package embedding

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVoyage embeds a text as [has "love", has "freedom"] and counts calls
type fakeVoyage struct {
	calls   atomic.Int32
	reverse bool
	status  int
}

func (f *fakeVoyage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.status != 0 {
		http.Error(w, "boom", f.status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var req embeddingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type item struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	}
	items := make([]item, len(req.Input))
	for i, text := range req.Input {
		v := []float64{0, 0}
		if strings.Contains(text, "love") {
			v[0] = 1
		}
		if strings.Contains(text, "freedom") {
			v[1] = 1
		}
		items[i] = item{Index: i, Embedding: v}
	}
	if f.reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"data": items, "model": req.Model})
}

func newClient(t *testing.T, f *fakeVoyage) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(Options{APIKey: "key", Endpoint: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestEmbedBatchKeepsInputOrder(t *testing.T) {
	c := newClient(t, &fakeVoyage{reverse: true})
	vecs, err := c.EmbedBatch(context.Background(), []string{"love", "freedom", "nothing"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}, {0, 0}}, vecs)

	v, err := c.Embed(context.Background(), "love and freedom")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, v)
}

func TestEmbedBatchAPIError(t *testing.T) {
	c := newClient(t, &fakeVoyage{status: http.StatusTooManyRequests})
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "status 429")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Zero(t, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

var anchors = map[string][]string{
	"love":    {"love of family", "first love"},
	"freedom": {"freedom of choice"},
}

func TestAnchorAnalyzerFixed(t *testing.T) {
	f := &fakeVoyage{}
	a, err := NewAnchorAnalyzer(newClient(t, f), anchors, NormalizeFixed)
	require.NoError(t, err)

	got, err := a.Analyze(context.Background(), "  a story of love  ")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got["love"], 1e-12)
	assert.InDelta(t, 0.5, got["freedom"], 1e-12)
	assert.Equal(t, int32(3), f.calls.Load(), "one call per anchor set plus the text")

	_, err = a.Analyze(context.Background(), "freedom")
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.calls.Load(), "anchor means are cached")
}

func TestAnchorAnalyzerMinMax(t *testing.T) {
	a, err := NewAnchorAnalyzer(newClient(t, &fakeVoyage{}), anchors, NormalizeMinMax)
	require.NoError(t, err)

	got, err := a.Analyze(context.Background(), "freedom")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got["love"], 1e-12)
	assert.InDelta(t, 1.0, got["freedom"], 1e-12)

	// all similarities equal
	got, err = a.Analyze(context.Background(), "nothing relevant")
	require.NoError(t, err)
	assert.Zero(t, got["love"])
	assert.Zero(t, got["freedom"])
}

func TestAnchorAnalyzerErrors(t *testing.T) {
	_, err := NewAnchorAnalyzer(&Client{}, anchors, "zscore")
	assert.Error(t, err)
	_, err = NewAnchorAnalyzer(&Client{}, nil, NormalizeFixed)
	assert.Error(t, err)

	a, err := NewAnchorAnalyzer(newClient(t, &fakeVoyage{status: http.StatusInternalServerError}), anchors, "")
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "love")
	assert.ErrorContains(t, err, "embed anchors")
}

func TestNormalizeFixedRange(t *testing.T) {
	got := normalize(map[string]float64{"a": -1, "b": 0, "c": 1}, NormalizeFixed)
	assert.Equal(t, 0.0, got["a"])
	assert.Equal(t, 0.5, got["b"])
	assert.Equal(t, 1.0, got["c"])
}
