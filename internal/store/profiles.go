package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pbaille/reads/internal/domain"
)

// LoadProfile returns the stored profile of a reader
func (s *Store) LoadProfile(ctx context.Context, readerID string) (*domain.ReaderProfile, error) {
	p := domain.ReaderProfile{ID: readerID}
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT age, concepts_json FROM profiles WHERE reader_id = ?",
		readerID,
	).Scan(&p.Age, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", readerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p.Concepts = domain.ConceptVector{}
	if err := decode(raw, &p.Concepts); err != nil {
		return nil, fmt.Errorf("profile %s: %w", readerID, err)
	}
	return &p, nil
}

// SaveProfile inserts or replaces a profile
func (s *Store) SaveProfile(ctx context.Context, p domain.ReaderProfile) error {
	return s.saveProfile(ctx, s.db, p)
}

func (s *Store) saveProfile(ctx context.Context, ex dbtx, p domain.ReaderProfile) error {
	if err := p.Concepts.Validate(); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	concepts := p.Concepts
	if concepts == nil {
		concepts = domain.ConceptVector{}
	}
	raw, err := encode(concepts)
	if err != nil {
		return err
	}
	_, now := s.timestamp()

	_, err = ex.ExecContext(ctx, `
		INSERT INTO profiles (reader_id, age, concepts_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reader_id) DO UPDATE SET
			age = excluded.age,
			concepts_json = excluded.concepts_json,
			updated_at = excluded.updated_at
	`, p.ID, p.Age, raw, now)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
