package engine

import (
	"math"
	"sort"

	"github.com/pbaille/reads/internal/domain"
)

const (
	// deepeningDamping keeps already-strong concepts from being over-recommended.
	deepeningDamping = 0.45
	// maxExplanation caps the explanation trace of one recommendation.
	maxExplanation = 10
)

// Term is one way a work expresses a core concept: directly, or through an alias
type Term struct {
	Concept string
	Weight  float64
	Via     string // empty for the direct term
}

// ExpandConcept lists the non-zero ways entry expresses core: the direct
// weight first, then every alias weight scaled by its coefficient in
// alias-name order.
func ExpandConcept(core string, entry domain.ConceptVector, aliases domain.AliasTable) []Term {
	var terms []Term
	if w := entry.Get(core); w > 0 {
		terms = append(terms, Term{Concept: core, Weight: w})
	}

	table := aliases.AliasesOf(core)
	names := make([]string, 0, len(table))
	for alias := range table {
		names = append(names, alias)
	}
	sort.Strings(names)

	for _, alias := range names {
		if w := entry.Get(alias) * table[alias]; w > 0 {
			terms = append(terms, Term{Concept: alias, Weight: w, Via: core})
		}
	}
	return terms
}

// ScoreEntry computes the utility of entry for the given gaps under mode and
// the top explanation items ordered by |gap| x weight.
//
// Correction considers deficits only and adds gap x weight per term.
// Deepening considers surpluses only and adds |gap| x weight x 0.45; the
// reported gap keeps its negative sign.
func ScoreEntry(gaps []domain.GapEntry, entry domain.ConceptVector, mode domain.Mode, aliases domain.AliasTable) (float64, []domain.GapItem) {
	var score float64
	var items []domain.GapItem

	for _, g := range gaps {
		if mode == domain.ModeCorrection && g.Gap <= 0 {
			continue
		}
		if mode == domain.ModeDeepening && g.Gap >= 0 {
			continue
		}

		for _, term := range ExpandConcept(g.Concept, entry, aliases) {
			contrib := g.Gap * term.Weight
			if mode == domain.ModeDeepening {
				contrib = math.Abs(g.Gap) * term.Weight * deepeningDamping
			}
			if contrib <= 0 {
				continue
			}

			score += contrib
			items = append(items, domain.GapItem{
				Concept:   term.Concept,
				Target:    g.Target,
				Current:   g.Current,
				Gap:       g.Gap,
				Direction: g.Direction,
				Weight:    term.Weight,
				Via:       term.Via,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Influence() > items[j].Influence()
	})
	if len(items) > maxExplanation {
		items = items[:maxExplanation]
	}
	return score, items
}
