package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/engine"
	"github.com/pbaille/reads/internal/metrics"
	"github.com/pbaille/reads/internal/store"
)

// Update is the outcome of one profile-changing signal
type Update struct {
	Profile  domain.ReaderProfile `json:"profile"`
	Meta     domain.ProfileMeta   `json:"meta"`
	Event    domain.Event         `json:"event"`
	Snapshot *domain.Snapshot     `json:"snapshot,omitempty"`
}

// ApplyTest folds questionnaire answers into a reader's profile. A reader is
// created on first use; a non-empty age replaces the stored one.
func (s *Service) ApplyTest(ctx context.Context, readerID, age string, answers domain.ConceptVector) (*Update, error) {
	if err := answers.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	answers = answers.Clamped()
	return s.applySignal(ctx, readerID, age, domain.SourceTest, answers, map[string]any{
		"test_concepts": answers,
	})
}

// AnalyzeText scores free text with the configured analyzer and folds the
// result into the reader's profile
func (s *Service) AnalyzeText(ctx context.Context, readerID, text string) (*Update, error) {
	return s.analyze(ctx, readerID, text, nil)
}

// AnalyzeURL fetches a page and analyzes its text
func (s *Service) AnalyzeURL(ctx context.Context, readerID, rawURL string) (*Update, error) {
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}
	text, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}
	return s.analyze(ctx, readerID, text, map[string]any{"url": rawURL})
}

func (s *Service) analyze(ctx context.Context, readerID, text string, extra map[string]any) (*Update, error) {
	text = strings.TrimSpace(norm.NFKC.String(text))
	n := utf8.RuneCountInString(text)
	if n < s.opts.MinTextLen {
		return nil, fmt.Errorf("%w: %d characters, need at least %d", ErrTextTooShort, n, s.opts.MinTextLen)
	}
	if s.analyzer == nil {
		return nil, ErrNoAnalyzer
	}

	vec, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("analyze text: %w", err)
	}

	payload := map[string]any{"text_len": n}
	for k, v := range extra {
		payload[k] = v
	}
	return s.applySignal(ctx, readerID, "", domain.SourceText, vec.Clamped(), payload)
}

// applySignal records one observation, recomputes the blended profile from
// the latest vector and count of each source and logs the event in one store
// transaction, then stores a recommendation snapshot
func (s *Service) applySignal(ctx context.Context, readerID, age, source string, vec domain.ConceptVector, payload map[string]any) (*Update, error) {
	if readerID == "" {
		return nil, fmt.Errorf("reader id is required")
	}
	defer s.lock(readerID)()

	profile, err := s.store.LoadProfile(ctx, readerID)
	if errors.Is(err, store.ErrNotFound) {
		profile = &domain.ReaderProfile{ID: readerID, Age: DefaultAge}
	} else if err != nil {
		return nil, err
	}
	if age != "" {
		profile.Age = age
	}
	if profile.Age == "" {
		profile.Age = DefaultAge
	}

	meta, saved, event, err := s.store.ApplySignal(ctx, readerID, source, vec, payload,
		func(m domain.ProfileMeta) (domain.ReaderProfile, error) {
			p := *profile
			p.Concepts = engine.MergeSources(m.LastTest, m.LastText, m.TextCount, m.TestCount)
			return p, nil
		})
	if err != nil {
		return nil, err
	}
	profile = saved
	metrics.ProfileUpdates.WithLabelValues(source).Inc()

	s.log(ctx).Info().
		Str("reader_id", readerID).
		Str("source", source).
		Int("test_count", meta.TestCount).
		Int("text_count", meta.TextCount).
		Msg("profile updated")

	up := &Update{Profile: *profile, Meta: *meta, Event: *event}
	snap, err := s.saveSnapshot(ctx, *profile, source, event.ID)
	if err != nil {
		metrics.SnapshotFailures.Inc()
		s.log(ctx).Warn().Err(err).Str("reader_id", readerID).Msg("recommendation snapshot not stored")
	} else {
		up.Snapshot = snap
	}
	return up, nil
}

func (s *Service) saveSnapshot(ctx context.Context, profile domain.ReaderProfile, source, eventID string) (*domain.Snapshot, error) {
	recs, err := s.recommend(ctx, profile, s.opts.SnapshotTopN)
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{
		ReaderID: profile.ID,
		Source:   source,
		TopN:     s.opts.SnapshotTopN,
		Age:      profile.Age,
		EventID:  &eventID,
		Gaps:     s.displayGaps(profile),
		Profile:  profile.Concepts.Top(snapshotProfileN),
		Recs:     recs,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
