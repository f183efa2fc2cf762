package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ConceptVector maps a concept identifier to a weight in [0,1].
// Absent keys are implicitly 0.
type ConceptVector map[string]float64

// Get returns the weight for a concept, 0 when absent
func (v ConceptVector) Get(concept string) float64 {
	return v[concept]
}

// Sum returns the total weight of the vector
func (v ConceptVector) Sum() float64 {
	var s float64
	for _, w := range v {
		s += w
	}
	return s
}

// Clamped returns a copy with every weight forced into [0,1].
// NaN weights are treated as no evidence and map to 0.
func (v ConceptVector) Clamped() ConceptVector {
	out := make(ConceptVector, len(v))
	for k, w := range v {
		out[k] = Clamp01(w)
	}
	return out
}

// Keys returns the concept identifiers in ascending order
func (v ConceptVector) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ErrInvalidWeight reports a NaN or infinite concept weight
var ErrInvalidWeight = errors.New("invalid concept weight")

// Validate returns ErrInvalidWeight for the first non-finite weight, in key order
func (v ConceptVector) Validate() error {
	for _, k := range v.Keys() {
		if w := v[k]; math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("concept %q: %w", k, ErrInvalidWeight)
		}
	}
	return nil
}

// ConceptWeight is a single concept/weight pair
type ConceptWeight struct {
	Concept string  `json:"concept"`
	Weight  float64 `json:"weight"`
}

// Top returns the n heaviest concepts, ties broken by name
func (v ConceptVector) Top(n int) []ConceptWeight {
	out := make([]ConceptWeight, 0, len(v))
	for k, w := range v {
		out = append(out, ConceptWeight{Concept: k, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Concept < out[j].Concept
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Clamp01 forces x into [0,1]; NaN becomes 0
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// ReaderProfile is the current belief about a reader's concept strengths
type ReaderProfile struct {
	ID       string        `json:"id" validate:"required"`
	Age      string        `json:"age" validate:"required"`
	Concepts ConceptVector `json:"concepts"`
}

// Work is a catalog entry
type Work struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Author   string        `json:"author"`
	Age      string        `json:"age"`
	Concepts ConceptVector `json:"concepts"`
}

// Direction tells whether a concept is below or above its target
type Direction string

const (
	Below Direction = "below"
	Above Direction = "above"
)

// Mode is the scoring strategy used for one recommendation pass
type Mode string

const (
	// ModeCorrection recommends works that close deficits.
	ModeCorrection Mode = "correction"
	// ModeDeepening recommends works that reinforce surpluses, damped.
	ModeDeepening Mode = "deepening"
)

// GapEntry is the signed difference between target and current weight for one concept
type GapEntry struct {
	Concept   string    `json:"concept"`
	Target    float64   `json:"target"`
	Current   float64   `json:"current"`
	Gap       float64   `json:"gap"`
	Direction Direction `json:"direction"`
}

// GapItem is one line of a recommendation's explanation trace
type GapItem struct {
	Concept   string    `json:"concept"`
	Target    float64   `json:"target"`
	Current   float64   `json:"current"`
	Gap       float64   `json:"gap"`
	Direction Direction `json:"direction"`
	Weight    float64   `json:"weight"`
	Via       string    `json:"via,omitempty"` // core concept when Concept is an alias
}

// Influence is the sort key of the explanation trace
func (g GapItem) Influence() float64 {
	return math.Abs(g.Gap) * g.Weight
}

// Why explains a single recommendation
type Why struct {
	Mode  Mode      `json:"mode"`
	Score float64   `json:"score"`
	Gaps  []GapItem `json:"gaps"`
}

// ExplainedRecommendation pairs a work with the reason it was picked
type ExplainedRecommendation struct {
	Work Work `json:"work"`
	Why  Why  `json:"why"`
}

// Signal sources that update a profile
const (
	SourceTest   = "test"
	SourceText   = "text"
	SourceManual = "manual"
)

// ProfileMeta tracks how many observations of each source a reader has
type ProfileMeta struct {
	ReaderID     string        `json:"reader_id"`
	TestCount    int           `json:"test_count"`
	TextCount    int           `json:"text_count"`
	LastTest     ConceptVector `json:"last_test,omitempty"`
	LastText     ConceptVector `json:"last_text,omitempty"`
	LastUpdateAt *time.Time    `json:"last_update_at"`
	LastSource   *string       `json:"last_source"`
	LastTestAt   *time.Time    `json:"last_test_at"`
	LastTextAt   *time.Time    `json:"last_text_at"`
}

// Event is an entry of a reader's profile history
type Event struct {
	ID           string         `json:"id"`
	ReaderID     string         `json:"reader_id"`
	CreatedAt    time.Time      `json:"created_at"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	ProfileAfter ReaderProfile  `json:"profile_after"`
}

// Snapshot is a stored recommendation pass
type Snapshot struct {
	ID        int64                     `json:"id"`
	ReaderID  string                    `json:"reader_id"`
	CreatedAt time.Time                 `json:"created_at"`
	Source    string                    `json:"source"`
	TopN      int                       `json:"top_n"`
	Age       string                    `json:"age,omitempty"`
	EventID   *string                   `json:"event_id,omitempty"`
	Gaps      []GapEntry                `json:"gaps,omitempty"`
	Profile   []ConceptWeight           `json:"profile,omitempty"`
	Recs      []ExplainedRecommendation `json:"recs"`
}
