package engine

import (
	"math"

	"github.com/pbaille/reads/internal/domain"
)

const (
	// testWeight is the trust given to a questionnaire once one exists.
	testWeight = 0.70
	// textTrustFloor and textTrustSpan bound text trust to [0.18, 0.40).
	textTrustFloor = 0.18
	textTrustSpan  = 0.22
	// textTrustScale controls how fast text trust saturates.
	textTrustScale = 3.0
	// maxConfidence keeps residual uncertainty; weights never sum to 1.
	maxConfidence = 0.92
)

// TextTrust is the blending weight of free-text evidence after textCount
// observations. It grows from 0.18 towards 0.40 and never reaches it.
func TextTrust(textCount int) float64 {
	n := math.Max(0, float64(textCount))
	return textTrustFloor + textTrustSpan*(1-math.Exp(-n/textTrustScale))
}

// SourceWeights returns the questionnaire and text blending weights for the
// given observation counts, rescaled so their sum never exceeds 0.92.
func SourceWeights(textCount, testCount int) (baseTest, baseText float64) {
	if testCount > 0 {
		baseTest = testWeight
	}
	if textCount > 0 {
		baseText = TextTrust(textCount)
	}
	if s := baseTest + baseText; s > maxConfidence {
		k := maxConfidence / s
		baseTest *= k
		baseText *= k
	}
	return baseTest, baseText
}

// MergeSources blends the latest questionnaire vector and the latest text
// vector into one profile. Both inputs are clamped first. Concepts absent
// from both inputs stay absent; with no observations the result is empty.
func MergeSources(lastTest, lastText domain.ConceptVector, textCount, testCount int) domain.ConceptVector {
	baseTest, baseText := SourceWeights(textCount, testCount)

	out := make(domain.ConceptVector, len(lastTest)+len(lastText))
	if baseTest == 0 && baseText == 0 {
		return out
	}

	keys := make(map[string]struct{}, len(lastTest)+len(lastText))
	for k := range lastTest {
		keys[k] = struct{}{}
	}
	for k := range lastText {
		keys[k] = struct{}{}
	}

	for k := range keys {
		t := domain.Clamp01(lastTest.Get(k))
		x := domain.Clamp01(lastText.Get(k))
		out[k] = domain.Clamp01(baseTest*t + baseText*x)
	}
	return out
}
