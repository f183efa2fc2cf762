package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/pbaille/reads/internal/domain"
)

// Normalization maps raw cosine similarities to concept weights
type Normalization string

const (
	// NormalizeFixed maps cosine in [-1,1] linearly onto [0,1]
	NormalizeFixed Normalization = "fixed"
	// NormalizeMinMax rescales the similarities of one text so the weakest
	// concept gets 0 and the strongest gets 1
	NormalizeMinMax Normalization = "minmax"
)

// Embedder is the part of Client the analyzer needs
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// AnchorAnalyzer estimates concept weights of a text by comparing its
// embedding with the mean embedding of each concept's anchor phrases.
type AnchorAnalyzer struct {
	embedder Embedder
	anchors  map[string][]string
	concepts []string
	norm     Normalization

	mu    sync.Mutex
	means map[string][]float64
}

// NewAnchorAnalyzer builds an analyzer over anchors (concept -> phrases)
func NewAnchorAnalyzer(e Embedder, anchors map[string][]string, n Normalization) (*AnchorAnalyzer, error) {
	switch n {
	case "":
		n = NormalizeFixed
	case NormalizeFixed, NormalizeMinMax:
	default:
		return nil, fmt.Errorf("unknown normalization %q", n)
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("no anchor concepts")
	}

	concepts := make([]string, 0, len(anchors))
	for c := range anchors {
		concepts = append(concepts, c)
	}
	sort.Strings(concepts)

	return &AnchorAnalyzer{
		embedder: e,
		anchors:  anchors,
		concepts: concepts,
		norm:     n,
	}, nil
}

// Analyze returns a weight in [0,1] for every anchor concept
func (a *AnchorAnalyzer) Analyze(ctx context.Context, text string) (domain.ConceptVector, error) {
	means, err := a.anchorMeans(ctx)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(norm.NFKC.String(text))
	vecs, err := a.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed text: got %d vectors", len(vecs))
	}

	sims := make(map[string]float64, len(a.concepts))
	for _, c := range a.concepts {
		sims[c] = CosineSimilarity(vecs[0], means[c])
	}
	return normalize(sims, a.norm).Clamped(), nil
}

// anchorMeans embeds every anchor set once; concurrent first calls may both
// compute, the first result to land is kept
func (a *AnchorAnalyzer) anchorMeans(ctx context.Context) (map[string][]float64, error) {
	a.mu.Lock()
	cached := a.means
	a.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	results := make([][]float64, len(a.concepts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range a.concepts {
		i, c := i, c
		g.Go(func() error {
			vecs, err := a.embedder.EmbedBatch(gctx, a.anchors[c])
			if err != nil {
				return fmt.Errorf("embed anchors of %s: %w", c, err)
			}
			results[i] = mean(vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	means := make(map[string][]float64, len(a.concepts))
	for i, c := range a.concepts {
		means[c] = results[i]
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.means == nil {
		a.means = means
	}
	return a.means, nil
}

func mean(vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	for i := range out {
		out[i] /= float64(len(vecs))
	}
	return out
}

func normalize(sims map[string]float64, n Normalization) domain.ConceptVector {
	out := make(domain.ConceptVector, len(sims))
	if n == NormalizeMinMax {
		lo, hi := 0.0, 0.0
		first := true
		for _, s := range sims {
			if first || s < lo {
				lo = s
			}
			if first || s > hi {
				hi = s
			}
			first = false
		}
		for c, s := range sims {
			if hi-lo < 1e-12 {
				out[c] = 0
				continue
			}
			out[c] = (s - lo) / (hi - lo)
		}
		return out
	}
	for c, s := range sims {
		out[c] = (s + 1) / 2
	}
	return out
}
