package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/reads/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "reads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reads.db")
	require.NoError(t, Migrate(path))
	// idempotent
	require.NoError(t, Migrate(path))

	mg, err := NewMigrator(path)
	require.NoError(t, err)
	defer mg.Close()

	v, dirty, err := mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	require.NoError(t, mg.Down())
	v, _, err = mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadProfile(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	p := domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: domain.ConceptVector{"love": 0.4}}
	require.NoError(t, s.SaveProfile(ctx, p))

	got, err := s.LoadProfile(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	p.Age = "12+"
	p.Concepts = nil
	require.NoError(t, s.SaveProfile(ctx, p))
	got, err = s.LoadProfile(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "12+", got.Age)
	assert.Empty(t, got.Concepts)
	assert.NotNil(t, got.Concepts)

	bad := domain.ReaderProfile{ID: "r2", Age: "16+", Concepts: domain.ConceptVector{"x": math.NaN()}}
	assert.ErrorIs(t, s.SaveProfile(ctx, bad), domain.ErrInvalidWeight)
}

func TestRecordSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.GetMeta(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, m.TestCount)
	assert.Equal(t, 0, m.TextCount)
	assert.Nil(t, m.LastTest)
	assert.Nil(t, m.LastSource)

	m, err = s.RecordSignal(ctx, "r1", domain.SourceTest, domain.ConceptVector{"love": 0.3})
	require.NoError(t, err)
	assert.Equal(t, 1, m.TestCount)
	assert.Equal(t, domain.ConceptVector{"love": 0.3}, m.LastTest)
	require.NotNil(t, m.LastSource)
	assert.Equal(t, domain.SourceTest, *m.LastSource)
	require.NotNil(t, m.LastTestAt)
	assert.Nil(t, m.LastTextAt)

	_, err = s.RecordSignal(ctx, "r1", domain.SourceText, domain.ConceptVector{"freedom": 0.8})
	require.NoError(t, err)
	m, err = s.RecordSignal(ctx, "r1", domain.SourceText, domain.ConceptVector{"freedom": 0.6})
	require.NoError(t, err)

	assert.Equal(t, 1, m.TestCount)
	assert.Equal(t, 2, m.TextCount)
	assert.Equal(t, domain.ConceptVector{"love": 0.3}, m.LastTest)
	assert.Equal(t, domain.ConceptVector{"freedom": 0.6}, m.LastText)
	assert.Equal(t, domain.SourceText, *m.LastSource)
	require.NotNil(t, m.LastTextAt)
	assert.True(t, m.LastTextAt.After(*m.LastTestAt))
	assert.Equal(t, *m.LastTextAt, *m.LastUpdateAt)

	_, err = s.RecordSignal(ctx, "r1", "dream", domain.ConceptVector{})
	assert.Error(t, err)
}

func TestApplySignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	merge := func(m domain.ProfileMeta) (domain.ReaderProfile, error) {
		return domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: m.LastTest}, nil
	}
	meta, p, e, err := s.ApplySignal(ctx, "r1", domain.SourceTest, domain.ConceptVector{"love": 0.4},
		map[string]any{"n": 1}, merge)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TestCount)
	assert.Equal(t, domain.ConceptVector{"love": 0.4}, p.Concepts)
	assert.Equal(t, *p, e.ProfileAfter)

	stored, err := s.LoadProfile(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, *p, *stored)
	events, err := s.History(ctx, "r1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestApplySignalRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	errMerge := errors.New("merge failed")

	tests := map[string]MergeFunc{
		"merge error": func(domain.ProfileMeta) (domain.ReaderProfile, error) {
			return domain.ReaderProfile{}, errMerge
		},
		"profile write fails": func(domain.ProfileMeta) (domain.ReaderProfile, error) {
			return domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: domain.ConceptVector{"love": math.NaN()}}, nil
		},
	}
	for name, merge := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := s.ApplySignal(ctx, "r1", domain.SourceText, domain.ConceptVector{"love": 0.4}, nil, merge)
			require.Error(t, err)

			m, err := s.GetMeta(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, 0, m.TextCount)
			assert.Nil(t, m.LastText)
			assert.Nil(t, m.LastSource)

			_, err = s.LoadProfile(ctx, "r1")
			assert.ErrorIs(t, err, ErrNotFound)
			events, err := s.History(ctx, "r1", 10)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	after := domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: domain.ConceptVector{"love": 0.2}}
	for i := 0; i < 3; i++ {
		_, err := s.LogEvent(ctx, "r1", domain.SourceTest, map[string]any{"n": i}, after)
		require.NoError(t, err)
	}
	_, err := s.LogEvent(ctx, "r2", domain.SourceText, nil, after)
	require.NoError(t, err)

	events, err := s.History(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.EqualValues(t, 2, events[0].Payload["n"])
	assert.EqualValues(t, 0, events[2].Payload["n"])
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt))
	assert.Equal(t, after, events[0].ProfileAfter)

	events, err = s.History(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "limit is clamped to at least one")

	events, err = s.History(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LastSnapshot(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	eventID := "ev-1"
	first := &domain.Snapshot{
		ReaderID: "r1",
		Source:   domain.SourceTest,
		TopN:     5,
		Age:      "16+",
		EventID:  &eventID,
		Gaps:     []domain.GapEntry{{Concept: "love", Target: 0.5, Current: 0.1, Gap: 0.4, Direction: domain.Below}},
		Profile:  []domain.ConceptWeight{{Concept: "love", Weight: 0.1}},
		Recs: []domain.ExplainedRecommendation{{
			Work: domain.Work{ID: "w1", Title: "One"},
			Why:  domain.Why{Mode: domain.ModeCorrection, Score: 0.4, Gaps: []domain.GapItem{}},
		}},
	}
	require.NoError(t, s.SaveSnapshot(ctx, first))
	assert.NotZero(t, first.ID)

	second := &domain.Snapshot{ReaderID: "r1", Source: domain.SourceText, TopN: 3}
	require.NoError(t, s.SaveSnapshot(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	last, err := s.LastSnapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
	assert.Empty(t, last.Recs)
	assert.NotNil(t, last.Recs)
	assert.Nil(t, last.EventID)

	all, err := s.Snapshots(ctx, "r1", 1000)
	require.NoError(t, err)
	require.Len(t, all, 2)
	got := all[1]
	assert.Equal(t, first.Gaps, got.Gaps)
	assert.Equal(t, first.Profile, got.Profile)
	assert.Equal(t, "w1", got.Recs[0].Work.ID)
	assert.InDelta(t, 0.4, got.Recs[0].Why.Score, 1e-12)
	require.NotNil(t, got.EventID)
	assert.Equal(t, eventID, *got.EventID)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
}

func TestWorks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	works := []domain.Work{
		{ID: "b", Title: "Beta", Author: "X", Age: "12+", Concepts: domain.ConceptVector{"love": 0.5, "honor": 0.2}},
		{ID: "a", Title: "Alpha", Age: "16+", Concepts: domain.ConceptVector{"freedom": 0.9}},
		{ID: "c", Title: "Alpha", Age: "16+"},
	}
	require.NoError(t, s.UpsertWorks(ctx, works))

	got, err := s.ListWorks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, works[0], got[2])
	assert.Empty(t, got[1].Concepts)

	// replacing a work replaces its concepts
	require.NoError(t, s.UpsertWorks(ctx, []domain.Work{
		{ID: "b", Title: "Beta", Age: "12+", Concepts: domain.ConceptVector{"friendship": 1}},
	}))
	got, err = s.ListWorks(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ConceptVector{"friendship": 1}, got[2].Concepts)

	err = s.UpsertWorks(ctx, []domain.Work{{ID: "", Title: "No id"}})
	assert.Error(t, err)

	require.NoError(t, s.UpsertWorks(ctx, []domain.Work{
		{ID: "b", Title: "Beta", Age: "12+", Concepts: domain.ConceptVector{"honor": 3.0, "love": -0.5}},
	}))
	got, err = s.ListWorks(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ConceptVector{"honor": 1, "love": 0}, got[2].Concepts)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(-3))
	assert.Equal(t, 1, ClampLimit(0))
	assert.Equal(t, 42, ClampLimit(42))
	assert.Equal(t, 100, ClampLimit(500))
}
