package store

import (
	"context"
	"fmt"

	"github.com/pbaille/reads/internal/domain"
)

// MergeFunc builds the new profile of a reader from bookkeeping that already
// counts the signal being applied
type MergeFunc func(meta domain.ProfileMeta) (domain.ReaderProfile, error)

// ApplySignal records one observation of source, saves the profile merge
// builds from the updated bookkeeping and logs the event, all in a single
// transaction. When any step fails nothing is written.
func (s *Store) ApplySignal(ctx context.Context, readerID, source string, vec domain.ConceptVector, payload map[string]any, merge MergeFunc) (*domain.ProfileMeta, *domain.ReaderProfile, *domain.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	meta, err := s.recordSignal(ctx, tx, readerID, source, vec)
	if err != nil {
		return nil, nil, nil, err
	}
	profile, err := merge(*meta)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.saveProfile(ctx, tx, profile); err != nil {
		return nil, nil, nil, err
	}
	event, err := s.logEvent(ctx, tx, readerID, source, payload, profile)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("commit signal: %w", err)
	}
	return meta, &profile, event, nil
}
