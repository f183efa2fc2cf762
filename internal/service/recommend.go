package service

import (
	"context"
	"errors"
	"time"

	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/engine"
	"github.com/pbaille/reads/internal/metrics"
	"github.com/pbaille/reads/internal/store"
)

// Gaps returns the reader's gaps, deficits first, at most 15.
// A reader whose age bucket has no target gets an empty list.
func (s *Service) Gaps(ctx context.Context, readerID string) ([]domain.GapEntry, error) {
	profile, err := s.store.LoadProfile(ctx, readerID)
	if err != nil {
		return nil, err
	}
	return s.displayGaps(*profile), nil
}

func (s *Service) displayGaps(profile domain.ReaderProfile) []domain.GapEntry {
	target, ok := s.tables.Targets[profile.Age]
	if !ok {
		return []domain.GapEntry{}
	}
	gaps := engine.SortGapsForDisplay(engine.ComputeGaps(profile.Concepts, target))
	if len(gaps) > gapDisplayLimit {
		gaps = gaps[:gapDisplayLimit]
	}
	return gaps
}

// Recommendations ranks the catalog for a reader. When nothing can be
// recommended live and useSaved is set, the last stored pass is returned.
func (s *Service) Recommendations(ctx context.Context, readerID string, topN int, useSaved bool) ([]domain.ExplainedRecommendation, error) {
	if topN <= 0 {
		topN = s.opts.DefaultTopN
	}

	recs := []domain.ExplainedRecommendation{}
	profile, err := s.store.LoadProfile(ctx, readerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if recs, err = s.recommend(ctx, *profile, topN); err != nil {
			return nil, err
		}
	}
	if len(recs) > 0 || !useSaved {
		return recs, nil
	}

	snap, err := s.store.LastSnapshot(ctx, readerID)
	if errors.Is(err, store.ErrNotFound) {
		return recs, nil
	}
	if err != nil {
		return nil, err
	}
	s.log(ctx).Debug().Str("reader_id", readerID).Int64("snapshot_id", snap.ID).Msg("serving saved recommendations")
	return snap.Recs, nil
}

// SavedRecommendations returns stored recommendation passes, newest first
func (s *Service) SavedRecommendations(ctx context.Context, readerID string, limit int) ([]domain.Snapshot, error) {
	return s.store.Snapshots(ctx, readerID, limit)
}

func (s *Service) recommend(ctx context.Context, profile domain.ReaderProfile, topN int) ([]domain.ExplainedRecommendation, error) {
	works, err := s.Works(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	recs, err := engine.Recommend(profile, works, s.tables, topN)
	metrics.RecommendationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	mode := "empty"
	if len(recs) > 0 {
		mode = string(recs[0].Why.Mode)
	}
	metrics.RecommendationPasses.WithLabelValues(mode).Inc()
	s.log(ctx).Debug().
		Str("reader_id", profile.ID).
		Str("mode", mode).
		Int("candidates", len(works)).
		Int("returned", len(recs)).
		Msg("recommendation pass")
	return recs, nil
}
