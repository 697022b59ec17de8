package session

import (
	"context"
	"fmt"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/google/uuid"
)

// Ledger tracks recording segments of a room. Start and stop are atomic in
// the store, so a caller that bypasses the Manager still cannot open two
// segments at once; it gets domain.ErrConflict instead.
type Ledger struct {
	repo  store.Repository
	clock Clock
}

// NewLedger creates a recording ledger.
func NewLedger(repo store.Repository, clock Clock) *Ledger {
	if clock == nil {
		clock = realClock{}
	}
	return &Ledger{repo: repo, clock: clock}
}

// Start opens a new recording segment for roomID.
func (l *Ledger) Start(ctx context.Context, roomID string) (*domain.Recording, error) {
	now := l.clock.Now()
	rec := &domain.Recording{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		FileURL:   fmt.Sprintf("recording_%s_%d.mp4", roomID, now.UnixMilli()),
		StartedAt: now,
	}
	if err := l.repo.StartRecording(ctx, rec); err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}
	return rec, nil
}

// Stop closes the open segment of roomID. Stopping with nothing open is a
// no-op and returns a nil recording.
func (l *Ledger) Stop(ctx context.Context, roomID string) (*domain.Recording, error) {
	rec, err := l.repo.StopRecording(ctx, roomID, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("stop recording: %w", err)
	}
	return rec, nil
}

// ListFor returns the recordings of roomID, newest first.
func (l *Ledger) ListFor(ctx context.Context, roomID string) ([]*domain.Recording, error) {
	recs, err := l.repo.ListRecordings(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recs, nil
}
