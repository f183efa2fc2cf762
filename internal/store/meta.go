package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pbaille/reads/internal/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetMeta returns the signal bookkeeping of a reader.
// A reader without observations gets zero counts and nil vectors.
func (s *Store) GetMeta(ctx context.Context, readerID string) (*domain.ProfileMeta, error) {
	return getMeta(ctx, s.db, readerID)
}

func getMeta(ctx context.Context, q dbtx, readerID string) (*domain.ProfileMeta, error) {
	m := domain.ProfileMeta{ReaderID: readerID}
	var lastTest, lastText, updateAt, source, testAt, textAt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT test_count, text_count, last_test_json, last_text_json,
		       last_update_at, last_source, last_test_at, last_text_at
		FROM profile_meta WHERE reader_id = ?
	`, readerID).Scan(&m.TestCount, &m.TextCount, &lastTest, &lastText,
		&updateAt, &source, &testAt, &textAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile meta: %w", err)
	}

	if err := decode(lastTest, &m.LastTest); err != nil {
		return nil, err
	}
	if err := decode(lastText, &m.LastText); err != nil {
		return nil, err
	}
	if source.Valid {
		m.LastSource = &source.String
	}
	if m.LastUpdateAt, err = parseNullTime(updateAt); err != nil {
		return nil, err
	}
	if m.LastTestAt, err = parseNullTime(testAt); err != nil {
		return nil, err
	}
	if m.LastTextAt, err = parseNullTime(textAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordSignal counts one observation of source for a reader, keeps vec as
// the latest vector of that source and returns the updated bookkeeping.
func (s *Store) RecordSignal(ctx context.Context, readerID, source string, vec domain.ConceptVector) (*domain.ProfileMeta, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := s.recordSignal(ctx, tx, readerID, source, vec)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signal: %w", err)
	}
	return m, nil
}

func (s *Store) recordSignal(ctx context.Context, ex dbtx, readerID, source string, vec domain.ConceptVector) (*domain.ProfileMeta, error) {
	if err := vec.Validate(); err != nil {
		return nil, fmt.Errorf("record %s signal: %w", source, err)
	}
	if vec == nil {
		vec = domain.ConceptVector{}
	}
	raw, err := encode(vec)
	if err != nil {
		return nil, err
	}
	_, now := s.timestamp()

	var stmt string
	switch source {
	case domain.SourceTest:
		stmt = `
		INSERT INTO profile_meta (reader_id, test_count, last_test_json, last_test_at, last_update_at, last_source)
		VALUES (?1, 1, ?2, ?3, ?3, ?4)
		ON CONFLICT(reader_id) DO UPDATE SET
			test_count = test_count + 1,
			last_test_json = excluded.last_test_json,
			last_test_at = excluded.last_test_at,
			last_update_at = excluded.last_update_at,
			last_source = excluded.last_source`
	case domain.SourceText:
		stmt = `
		INSERT INTO profile_meta (reader_id, text_count, last_text_json, last_text_at, last_update_at, last_source)
		VALUES (?1, 1, ?2, ?3, ?3, ?4)
		ON CONFLICT(reader_id) DO UPDATE SET
			text_count = text_count + 1,
			last_text_json = excluded.last_text_json,
			last_text_at = excluded.last_text_at,
			last_update_at = excluded.last_update_at,
			last_source = excluded.last_source`
	default:
		return nil, fmt.Errorf("record signal: unknown source %q", source)
	}

	if _, err := ex.ExecContext(ctx, stmt, readerID, raw, now, source); err != nil {
		return nil, fmt.Errorf("record %s signal: %w", source, err)
	}
	return getMeta(ctx, ex, readerID)
}
