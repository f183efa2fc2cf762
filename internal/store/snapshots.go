package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pbaille/reads/internal/domain"
)

const snapshotColumns = "id, reader_id, created_at, source, top_n, age, event_id, gaps_json, profile_json, recs_json"

// SaveSnapshot stores a recommendation pass and fills in its ID and creation time
func (s *Store) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	recs := snap.Recs
	if recs == nil {
		recs = []domain.ExplainedRecommendation{}
	}
	rawRecs, err := encode(recs)
	if err != nil {
		return err
	}
	rawGaps, err := encode(snap.Gaps)
	if err != nil {
		return err
	}
	rawProfile, err := encode(snap.Profile)
	if err != nil {
		return err
	}
	created, now := s.timestamp()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendation_snapshots
			(reader_id, created_at, source, top_n, age, event_id, gaps_json, profile_json, recs_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ReaderID, now, snap.Source, snap.TopN, snap.Age, snap.EventID, rawGaps, rawProfile, rawRecs)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("snapshot id: %w", err)
	}

	snap.ID = id
	snap.CreatedAt = created
	snap.Recs = recs
	return nil
}

// LastSnapshot returns the most recent recommendation pass of a reader
func (s *Store) LastSnapshot(ctx context.Context, readerID string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM recommendation_snapshots WHERE reader_id = ? ORDER BY id DESC LIMIT 1",
		readerID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for %s: %w", readerID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshots returns the latest recommendation passes of a reader, newest first
func (s *Store) Snapshots(ctx context.Context, readerID string, limit int) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM recommendation_snapshots WHERE reader_id = ? ORDER BY id DESC LIMIT ?",
		readerID, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []domain.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var created string
	var age, eventID, gaps, profile, recs sql.NullString

	err := sc.Scan(&snap.ID, &snap.ReaderID, &created, &snap.Source, &snap.TopN,
		&age, &eventID, &gaps, &profile, &recs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	snap.Age = age.String
	if eventID.Valid {
		snap.EventID = &eventID.String
	}
	if err := decode(gaps, &snap.Gaps); err != nil {
		return nil, err
	}
	if err := decode(profile, &snap.Profile); err != nil {
		return nil, err
	}
	if err := decode(recs, &snap.Recs); err != nil {
		return nil, err
	}
	if snap.Recs == nil {
		snap.Recs = []domain.ExplainedRecommendation{}
	}
	return &snap, nil
}
