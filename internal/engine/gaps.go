package engine

import (
	"math"
	"sort"

	"github.com/pbaille/reads/internal/domain"
)

// gapEpsilon is the magnitude below which a gap carries no signal
const gapEpsilon = 1e-9

// ComputeGaps returns target-current for every concept present in either
// vector, dropping near-zero gaps. Both weights are clamped to [0,1] first.
// Entries are ordered by concept name.
func ComputeGaps(profile, target domain.ConceptVector) []domain.GapEntry {
	keys := make(map[string]struct{}, len(profile)+len(target))
	for k := range target {
		keys[k] = struct{}{}
	}
	for k := range profile {
		keys[k] = struct{}{}
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	gaps := make([]domain.GapEntry, 0, len(names))
	for _, k := range names {
		t := domain.Clamp01(target.Get(k))
		c := domain.Clamp01(profile.Get(k))
		gap := t - c
		if math.Abs(gap) < gapEpsilon {
			continue
		}
		dir := domain.Above
		if gap > 0 {
			dir = domain.Below
		}
		gaps = append(gaps, domain.GapEntry{
			Concept:   k,
			Target:    t,
			Current:   c,
			Gap:       gap,
			Direction: dir,
		})
	}
	return gaps
}

// SortGapsForDisplay orders deficits before surpluses, each group by |gap|
// descending. The input slice is left untouched.
func SortGapsForDisplay(gaps []domain.GapEntry) []domain.GapEntry {
	out := make([]domain.GapEntry, len(gaps))
	copy(out, gaps)
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].Direction == domain.Below, out[j].Direction == domain.Below
		if bi != bj {
			return bi
		}
		ai, aj := math.Abs(out[i].Gap), math.Abs(out[j].Gap)
		if ai != aj {
			return ai > aj
		}
		return out[i].Concept < out[j].Concept
	})
	return out
}

// SelectMode picks correction whenever any deficit exists, deepening otherwise
func SelectMode(gaps []domain.GapEntry) domain.Mode {
	for _, g := range gaps {
		if g.Gap > 0 {
			return domain.ModeCorrection
		}
	}
	return domain.ModeDeepening
}
