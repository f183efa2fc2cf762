// Package engine scores literary works against a reader's concept profile.
//
// Every function here is pure: inputs are read-only snapshots owned by the
// caller and every result is freshly allocated, so the package is safe to use
// from any number of goroutines without locking.
package engine

import (
	"fmt"
	"sort"

	"github.com/pbaille/reads/internal/domain"
)

// DefaultTopN is used when Recommend is asked for a non-positive count
const DefaultTopN = 5

// minEvidence is the total profile weight below which a profile is empty
const minEvidence = 1e-6

// ErrInvalidWeight reports a NaN or infinite concept weight handed to the engine
var ErrInvalidWeight = domain.ErrInvalidWeight

// HasEvidence reports whether a profile carries enough signal to be matched.
// Weights are clamped to [0,1] before they are summed.
func HasEvidence(profile domain.ReaderProfile) bool {
	return len(profile.Concepts) > 0 && profile.Concepts.Clamped().Sum() > minEvidence
}

// Recommend ranks the age-compatible works of catalog for profile and returns
// at most topN of them with their explanation.
//
// An empty profile or an age bucket without a target yields no results and no
// error. A non-finite weight anywhere in the inputs is a caller bug and is
// returned as ErrInvalidWeight. Finite weights outside [0,1] in the profile,
// the target or a work are clamped before they are compared.
func Recommend(profile domain.ReaderProfile, catalog []domain.Work, tables domain.Tables, topN int) ([]domain.ExplainedRecommendation, error) {
	if err := validateVector("profile "+profile.ID, profile.Concepts); err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	profile.Concepts = profile.Concepts.Clamped()

	if !HasEvidence(profile) {
		return []domain.ExplainedRecommendation{}, nil
	}

	target, ok := tables.Targets[profile.Age]
	if !ok || len(target) == 0 {
		return []domain.ExplainedRecommendation{}, nil
	}
	if err := validateVector("target "+profile.Age, target); err != nil {
		return nil, err
	}

	gaps := ComputeGaps(profile.Concepts, target.Clamped())
	mode := SelectMode(gaps)

	type scored struct {
		work  domain.Work
		score float64
		why   []domain.GapItem
	}

	var kept []scored
	for _, w := range catalog {
		if !IsAgeCompatible(profile.Age, w.Age) {
			continue
		}
		if err := validateVector("work "+w.ID, w.Concepts); err != nil {
			return nil, err
		}
		w.Concepts = w.Concepts.Clamped()
		s, why := ScoreEntry(gaps, w.Concepts, mode, tables.Aliases)
		if s > 0 {
			kept = append(kept, scored{work: w, score: s, why: why})
		}
	}

	// Equal scores fall back to work ID, then title, so output is reproducible.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		if kept[i].work.ID != kept[j].work.ID {
			return kept[i].work.ID < kept[j].work.ID
		}
		return kept[i].work.Title < kept[j].work.Title
	})
	if len(kept) > topN {
		kept = kept[:topN]
	}

	out := make([]domain.ExplainedRecommendation, len(kept))
	for i, k := range kept {
		why := k.why
		if why == nil {
			why = []domain.GapItem{}
		}
		out[i] = domain.ExplainedRecommendation{
			Work: k.work,
			Why:  domain.Why{Mode: mode, Score: k.score, Gaps: why},
		}
	}
	return out, nil
}

func validateVector(owner string, v domain.ConceptVector) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%s: %w", owner, err)
	}
	return nil
}
