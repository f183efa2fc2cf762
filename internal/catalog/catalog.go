// Package catalog provides the work catalog the recommender scores.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/pbaille/reads/internal/config"
	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/store"
)

// ErrUnknownSource is returned by Open for an unsupported catalog kind
var ErrUnknownSource = errors.New("unknown catalog source")

// Source lists every work of a catalog
type Source interface {
	ListAll(ctx context.Context) ([]domain.Work, error)
	Close(ctx context.Context) error
}

// Importer is a Source that can also store works
type Importer interface {
	Source
	Import(ctx context.Context, works []domain.Work) error
}

// Open returns the source selected by cfg. st backs the sqlite source and may
// be nil for the others.
func Open(ctx context.Context, cfg config.CatalogConfig, st *store.Store) (Source, error) {
	switch cfg.Source {
	case config.CatalogSQLite:
		if st == nil {
			return nil, fmt.Errorf("sqlite catalog: no store")
		}
		return NewStoreSource(st), nil
	case config.CatalogJSON:
		return NewFileSource(cfg.JSONPath), nil
	case config.CatalogNeo4j:
		return NewGraphSource(ctx, GraphConfig{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Source, ErrUnknownSource)
	}
}

// FileSource reads a JSON array of works on every call
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) ListAll(ctx context.Context) ([]domain.Work, error) {
	return ReadWorksFile(f.path)
}

func (f *FileSource) Close(context.Context) error { return nil }

// ReadWorksFile decodes and checks a works.json file
func ReadWorksFile(path string) ([]domain.Work, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var works []domain.Work
	if err := json.Unmarshal(raw, &works); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if err := check(works); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return works, nil
}

func check(works []domain.Work) error {
	seen := make(map[string]bool, len(works))
	for i := range works {
		w := &works[i]
		if w.ID == "" {
			return fmt.Errorf("work %d (%q): missing id", i, w.Title)
		}
		if seen[w.ID] {
			return fmt.Errorf("work %s: duplicate id", w.ID)
		}
		seen[w.ID] = true
		if err := w.Concepts.Validate(); err != nil {
			return fmt.Errorf("work %s: %w", w.ID, err)
		}
		w.Concepts = w.Concepts.Clamped()
	}
	return nil
}

// StoreSource serves the catalog kept in the SQLite store
type StoreSource struct {
	store *store.Store
}

// NewStoreSource returns a source backed by st
func NewStoreSource(st *store.Store) *StoreSource {
	return &StoreSource{store: st}
}

// ListAll returns every stored work ordered by title
func (s *StoreSource) ListAll(ctx context.Context) ([]domain.Work, error) {
	return s.store.ListWorks(ctx)
}

// Import checks works and upserts them into the store
func (s *StoreSource) Import(ctx context.Context, works []domain.Work) error {
	if err := check(works); err != nil {
		return err
	}
	return s.store.UpsertWorks(ctx, works)
}

// Close leaves the shared store open
func (s *StoreSource) Close(context.Context) error { return nil }
