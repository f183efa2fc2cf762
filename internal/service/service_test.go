package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/engine"
	"github.com/pbaille/reads/internal/store"
	"github.com/pbaille/reads/internal/validation"
)

type staticCatalog []domain.Work

func (c staticCatalog) ListAll(context.Context) ([]domain.Work, error) { return c, nil }
func (staticCatalog) Close(context.Context) error                      { return nil }

type fakeAnalyzer struct {
	vec   domain.ConceptVector
	err   error
	calls int
	last  string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string) (domain.ConceptVector, error) {
	f.calls++
	f.last = text
	return f.vec, f.err
}

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(_ context.Context, u string) (string, error) {
	text, ok := f[u]
	if !ok {
		return "", errors.New("not found")
	}
	return text, nil
}

var tables = domain.Tables{
	Targets: domain.TargetTable{
		"16+": {"honor": 0.6, "love": 0.5},
	},
	Aliases: domain.AliasTable{
		"love": {"love_and_duty": 1.0},
	},
}

var works = staticCatalog{
	{ID: "w1", Title: "Honor", Age: "16+", Concepts: domain.ConceptVector{"honor": 0.8}},
	{ID: "w2", Title: "Duty", Age: "12+", Concepts: domain.ConceptVector{"love_and_duty": 0.9}},
	{ID: "w3", Title: "Adult", Age: "18+", Concepts: domain.ConceptVector{"honor": 1}},
}

const longText = "A long essay about honor, duty and the people we love most."

func newService(t *testing.T, a Analyzer) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "reads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := New(Deps{
		Store:    st,
		Catalog:  works,
		Tables:   tables,
		Analyzer: a,
		Fetcher:  fakeFetcher{"https://example.com/essay": longText},
	}, Options{DefaultTopN: 5, SnapshotTopN: 3, MinTextLen: 30})
	return svc, st
}

func TestApplyTestCreatesReader(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	up, err := svc.ApplyTest(ctx, "r1", "", domain.ConceptVector{"honor": 0.2, "love": 1.4})
	require.NoError(t, err)

	assert.Equal(t, DefaultAge, up.Profile.Age)
	assert.InDelta(t, 0.7*0.2, up.Profile.Concepts["honor"], 1e-9)
	assert.InDelta(t, 0.7*1.0, up.Profile.Concepts["love"], 1e-9, "answers are clamped before merging")
	assert.Equal(t, 1, up.Meta.TestCount)
	assert.Equal(t, 0, up.Meta.TextCount)
	assert.Equal(t, domain.SourceTest, up.Event.Type)

	require.NotNil(t, up.Snapshot)
	assert.Equal(t, up.Event.ID, *up.Snapshot.EventID)
	assert.Equal(t, 3, up.Snapshot.TopN)
	require.Len(t, up.Snapshot.Recs, 1)
	assert.Equal(t, "w1", up.Snapshot.Recs[0].Work.ID)
	assert.InDelta(t, (0.6-0.14)*0.8, up.Snapshot.Recs[0].Why.Score, 1e-9)
	require.Len(t, up.Snapshot.Gaps, 2)
	assert.Equal(t, "honor", up.Snapshot.Gaps[0].Concept)
	assert.Equal(t, domain.Below, up.Snapshot.Gaps[0].Direction)
	assert.Equal(t, "love", up.Snapshot.Profile[0].Concept)

	stored, err := svc.GetProfile(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, up.Profile, *stored)
}

func TestApplyTestAgeOverride(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.ApplyTest(ctx, "r1", "", domain.ConceptVector{"honor": 0.5})
	require.NoError(t, err)
	up, err := svc.ApplyTest(ctx, "r1", "12+", domain.ConceptVector{"honor": 0.5})
	require.NoError(t, err)
	assert.Equal(t, "12+", up.Profile.Age)
	assert.Equal(t, 2, up.Meta.TestCount)

	// no target for 12+ here: no gaps and no recommendations, but a snapshot
	require.NotNil(t, up.Snapshot)
	assert.Empty(t, up.Snapshot.Recs)
	assert.Empty(t, up.Snapshot.Gaps)
}

func TestAnalyzeTextBlendsSources(t *testing.T) {
	a := &fakeAnalyzer{vec: domain.ConceptVector{"honor": 1.0, "love": 0}}
	svc, _ := newService(t, a)
	ctx := context.Background()

	_, err := svc.ApplyTest(ctx, "r1", "", domain.ConceptVector{"honor": 0.2, "love": 1})
	require.NoError(t, err)
	up, err := svc.AnalyzeText(ctx, "r1", "  "+longText+"  ")
	require.NoError(t, err)

	assert.Equal(t, longText, a.last, "text is trimmed before analysis")
	assert.Equal(t, 1, up.Meta.TestCount)
	assert.Equal(t, 1, up.Meta.TextCount)

	bt, bx := engine.SourceWeights(1, 1)
	assert.InDelta(t, bt*0.2+bx*1.0, up.Profile.Concepts["honor"], 1e-9)
	assert.InDelta(t, bt*1.0, up.Profile.Concepts["love"], 1e-9)
	assert.EqualValues(t, len([]rune(longText)), up.Event.Payload["text_len"])

	events, err := svc.History(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.SourceText, events[0].Type)
	assert.Equal(t, domain.SourceTest, events[1].Type)
}

func TestAnalyzeTextRejects(t *testing.T) {
	svc, _ := newService(t, &fakeAnalyzer{})
	_, err := svc.AnalyzeText(context.Background(), "r1", "too short")
	assert.ErrorIs(t, err, ErrTextTooShort)

	noAnalyzer, _ := newService(t, nil)
	_, err = noAnalyzer.AnalyzeText(context.Background(), "r1", longText)
	assert.ErrorIs(t, err, ErrNoAnalyzer)

	failing, st := newService(t, &fakeAnalyzer{err: errors.New("backend down")})
	_, err = failing.AnalyzeText(context.Background(), "r1", longText)
	assert.ErrorContains(t, err, "backend down")
	meta, err := st.GetMeta(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.TextCount, "failed analysis records nothing")
}

func TestAnalyzeURL(t *testing.T) {
	a := &fakeAnalyzer{vec: domain.ConceptVector{"love": 0.6}}
	svc, _ := newService(t, a)
	ctx := context.Background()

	up, err := svc.AnalyzeURL(ctx, "r1", "https://example.com/essay")
	require.NoError(t, err)
	assert.Equal(t, longText, a.last)
	assert.Equal(t, "https://example.com/essay", up.Event.Payload["url"])

	_, err = svc.AnalyzeURL(ctx, "r1", "https://example.com/missing")
	assert.ErrorIs(t, err, ErrFetch)
}

func TestGaps(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Gaps(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.PutProfile(ctx, domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: domain.ConceptVector{"love": 0.9, "freedom": 0.3}})
	require.NoError(t, err)
	gaps, err := svc.Gaps(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, gaps, 3)
	assert.Equal(t, []string{"honor", "love", "freedom"}, []string{gaps[0].Concept, gaps[1].Concept, gaps[2].Concept})

	_, err = svc.PutProfile(ctx, domain.ReaderProfile{ID: "r2", Age: "99+", Concepts: domain.ConceptVector{"love": 0.9}})
	require.NoError(t, err)
	gaps, err = svc.Gaps(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestGapsDisplayLimit(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	concepts := domain.ConceptVector{}
	for _, c := range strings.Split("a b c d e f g h i j k l m n o p q r s t", " ") {
		concepts[c] = 0.5
	}
	_, err := svc.PutProfile(ctx, domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: concepts})
	require.NoError(t, err)

	gaps, err := svc.Gaps(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, gaps, 15)
	assert.Equal(t, domain.Below, gaps[0].Direction)
}

func TestRecommendationsFallback(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	recs, err := svc.Recommendations(ctx, "nobody", 0, true)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	_, err = svc.ApplyTest(ctx, "r1", "", domain.ConceptVector{"honor": 0.2})
	require.NoError(t, err)

	// love is fully missing, so the 12+ alias match outranks the direct honor match
	live, err := svc.Recommendations(ctx, "r1", 0, false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "w2", live[0].Work.ID)
	assert.Equal(t, "love_and_duty", live[0].Why.Gaps[0].Concept)
	assert.Equal(t, "love", live[0].Why.Gaps[0].Via)
	assert.Equal(t, "w1", live[1].Work.ID)

	top1, err := svc.Recommendations(ctx, "r1", 1, false)
	require.NoError(t, err)
	assert.Len(t, top1, 1)

	// profile matches the target exactly: nothing to correct or deepen
	_, err = svc.PutProfile(ctx, domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: domain.ConceptVector{"honor": 0.6, "love": 0.5}})
	require.NoError(t, err)

	recs, err = svc.Recommendations(ctx, "r1", 0, false)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = svc.Recommendations(ctx, "r1", 0, true)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "w2", recs[0].Work.ID)

	saved, err := svc.SavedRecommendations(ctx, "r1", 20)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestPutProfileValidates(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.PutProfile(context.Background(), domain.ReaderProfile{ID: "r1"})

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "age", verr.Fields[0].Field)
}

func TestInvalidWeightsAreInputErrors(t *testing.T) {
	svc, st := newService(t, nil)
	ctx := context.Background()

	_, err := svc.ApplyTest(ctx, "r1", "", domain.ConceptVector{"honor": math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, domain.ErrInvalidWeight)

	_, err = svc.PutProfile(ctx, domain.ReaderProfile{ID: "r1", Age: "16+", Concepts: domain.ConceptVector{"love": math.Inf(1)}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	meta, err := st.GetMeta(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, meta.TestCount)
	_, err = st.LoadProfile(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCorruptCatalogIsNotAnInputError(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "reads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc := New(Deps{
		Store:   st,
		Catalog: staticCatalog{{ID: "bad", Age: "12+", Concepts: domain.ConceptVector{"honor": math.NaN()}}},
		Tables:  tables,
	}, Options{DefaultTopN: 5, SnapshotTopN: 3, MinTextLen: 30})
	ctx := context.Background()

	_, err = svc.ApplyTest(ctx, "r1", "16+", domain.ConceptVector{"honor": 0.2})
	require.NoError(t, err)

	_, err = svc.Recommendations(ctx, "r1", 0, false)
	assert.ErrorIs(t, err, engine.ErrInvalidWeight)
	assert.False(t, errors.Is(err, ErrInvalidInput))
}

func TestConcurrentSignalsAreSerialized(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyTest(ctx, "r1", "", domain.ConceptVector{"honor": 0.5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	meta, err := svc.ProfileMeta(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 20, meta.TestCount)

	events, err := svc.History(ctx, "r1", 100)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestWorks(t *testing.T) {
	svc, _ := newService(t, nil)
	got, err := svc.Works(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
