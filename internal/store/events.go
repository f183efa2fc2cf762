package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pbaille/reads/internal/domain"
)

// LogEvent appends a profile history entry and returns it
func (s *Store) LogEvent(ctx context.Context, readerID, typ string, payload map[string]any, after domain.ReaderProfile) (*domain.Event, error) {
	return s.logEvent(ctx, s.db, readerID, typ, payload, after)
}

func (s *Store) logEvent(ctx context.Context, ex dbtx, readerID, typ string, payload map[string]any, after domain.ReaderProfile) (*domain.Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	rawPayload, err := encode(payload)
	if err != nil {
		return nil, err
	}
	rawAfter, err := encode(after)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	created, now := s.timestamp()

	_, err = ex.ExecContext(ctx,
		"INSERT INTO events (id, reader_id, created_at, type, payload_json, profile_after_json) VALUES (?, ?, ?, ?, ?, ?)",
		id, readerID, now, typ, rawPayload, rawAfter,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return &domain.Event{
		ID:           id,
		ReaderID:     readerID,
		CreatedAt:    created,
		Type:         typ,
		Payload:      payload,
		ProfileAfter: after,
	}, nil
}

// History returns the latest events of a reader, newest first
func (s *Store) History(ctx context.Context, readerID string, limit int) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, type, payload_json, profile_after_json
		FROM events
		WHERE reader_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, readerID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e := domain.Event{ReaderID: readerID}
		var created string
		var payload, after sql.NullString
		if err := rows.Scan(&e.ID, &created, &e.Type, &payload, &after); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if err := decode(payload, &e.Payload); err != nil {
			return nil, err
		}
		if err := decode(after, &e.ProfileAfter); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
