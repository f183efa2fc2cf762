package store

import (
	"context"
	"fmt"

	"github.com/pbaille/reads/internal/domain"
)

// UpsertWorks inserts or replaces catalog entries together with their concept
// weights, clamped to [0,1]
func (s *Store) UpsertWorks(ctx context.Context, works []domain.Work) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, w := range works {
		if w.ID == "" {
			return fmt.Errorf("upsert work %q: empty id", w.Title)
		}
		if err := w.Concepts.Validate(); err != nil {
			return fmt.Errorf("upsert work %s: %w", w.ID, err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO works (id, title, author, age) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				author = excluded.author,
				age = excluded.age
		`, w.ID, w.Title, w.Author, w.Age)
		if err != nil {
			return fmt.Errorf("upsert work %s: %w", w.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM work_concepts WHERE work_id = ?", w.ID); err != nil {
			return fmt.Errorf("clear concepts of %s: %w", w.ID, err)
		}
		concepts := w.Concepts.Clamped()
		for _, c := range concepts.Keys() {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO work_concepts (work_id, concept, weight) VALUES (?, ?, ?)",
				w.ID, c, concepts[c],
			)
			if err != nil {
				return fmt.Errorf("insert concept %s of %s: %w", c, w.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit works: %w", err)
	}
	return nil
}

// ListWorks returns the whole catalog ordered by title, then id
func (s *Store) ListWorks(ctx context.Context) ([]domain.Work, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.title, w.author, w.age, wc.concept, wc.weight
		FROM works w
		LEFT JOIN work_concepts wc ON wc.work_id = w.id
		ORDER BY w.title, w.id, wc.concept
	`)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close()

	works := []domain.Work{}
	for rows.Next() {
		var w domain.Work
		var concept *string
		var weight *float64
		if err := rows.Scan(&w.ID, &w.Title, &w.Author, &w.Age, &concept, &weight); err != nil {
			return nil, fmt.Errorf("scan work: %w", err)
		}

		if n := len(works); n == 0 || works[n-1].ID != w.ID {
			w.Concepts = domain.ConceptVector{}
			works = append(works, w)
		}
		if concept != nil && weight != nil {
			works[len(works)-1].Concepts[*concept] = *weight
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	return works, nil
}
