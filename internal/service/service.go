// Package service wires storage, the catalog and text analysis around the
// scoring engine. It owns every read-modify-write of a reader's profile.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pbaille/reads/internal/catalog"
	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/logging"
	"github.com/pbaille/reads/internal/metrics"
	"github.com/pbaille/reads/internal/store"
	"github.com/pbaille/reads/internal/validation"
)

// DefaultAge is the bucket given to readers created without one
const DefaultAge = "16+"

const (
	gapDisplayLimit  = 15
	snapshotProfileN = 10
	lockStripes      = 64
)

var (
	// ErrTextTooShort is returned for texts below the minimum length
	ErrTextTooShort = errors.New("text too short")
	// ErrNoAnalyzer is returned when text analysis is requested without a backend
	ErrNoAnalyzer = errors.New("no text analyzer configured")
	// ErrNoFetcher is returned when a URL is analyzed without a fetcher
	ErrNoFetcher = errors.New("no url fetcher configured")
	// ErrFetch wraps failures to retrieve a page for analysis
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidInput wraps caller-supplied concept weights that fail validation
	ErrInvalidInput = errors.New("invalid input")
)

// Analyzer estimates concept weights of free text
type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.ConceptVector, error)
}

// Fetcher downloads the readable text behind a URL
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Deps are the collaborators of a Service. Analyzer and Fetcher are optional.
type Deps struct {
	Store    *store.Store
	Catalog  catalog.Source
	Tables   domain.Tables
	Analyzer Analyzer
	Fetcher  Fetcher
}

// Options tune the service
type Options struct {
	DefaultTopN  int
	SnapshotTopN int
	MinTextLen   int // in runes
}

// Service is safe for concurrent use
type Service struct {
	store    *store.Store
	catalog  catalog.Source
	tables   domain.Tables
	analyzer Analyzer
	fetcher  Fetcher
	opts     Options
	logger   zerolog.Logger

	locks [lockStripes]sync.Mutex
}

// New creates a Service
func New(deps Deps, opts Options) *Service {
	if opts.DefaultTopN <= 0 {
		opts.DefaultTopN = 5
	}
	if opts.SnapshotTopN <= 0 {
		opts.SnapshotTopN = 5
	}
	if opts.MinTextLen < 0 {
		opts.MinTextLen = 0
	}
	return &Service{
		store:    deps.Store,
		catalog:  deps.Catalog,
		tables:   deps.Tables,
		analyzer: deps.Analyzer,
		fetcher:  deps.Fetcher,
		opts:     opts,
		logger:   logging.With().Str("component", "service").Logger(),
	}
}

// lock serializes profile updates of one reader
func (s *Service) lock(readerID string) func() {
	h := fnv.New32a()
	h.Write([]byte(readerID))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	return logging.WithContext(ctx, s.logger)
}

// GetProfile returns a stored profile or store.ErrNotFound
func (s *Service) GetProfile(ctx context.Context, readerID string) (*domain.ReaderProfile, error) {
	return s.store.LoadProfile(ctx, readerID)
}

// PutProfile replaces a profile with manually supplied values
func (s *Service) PutProfile(ctx context.Context, p domain.ReaderProfile) (*domain.ReaderProfile, error) {
	if err := validation.Struct(p); err != nil {
		return nil, err
	}
	if err := p.Concepts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	p.Concepts = p.Concepts.Clamped()

	defer s.lock(p.ID)()
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.store.LogEvent(ctx, p.ID, domain.SourceManual, map[string]any{}, p); err != nil {
		return nil, err
	}
	metrics.ProfileUpdates.WithLabelValues(domain.SourceManual).Inc()
	s.log(ctx).Info().Str("reader_id", p.ID).Str("age", p.Age).Int("concepts", len(p.Concepts)).Msg("profile replaced")
	return &p, nil
}

// ProfileMeta returns the signal bookkeeping of a reader
func (s *Service) ProfileMeta(ctx context.Context, readerID string) (*domain.ProfileMeta, error) {
	return s.store.GetMeta(ctx, readerID)
}

// History returns profile events, newest first
func (s *Service) History(ctx context.Context, readerID string, limit int) ([]domain.Event, error) {
	return s.store.History(ctx, readerID, limit)
}

// Works returns the whole catalog
func (s *Service) Works(ctx context.Context) ([]domain.Work, error) {
	works, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	metrics.CatalogSize.Set(float64(len(works)))
	return works, nil
}
