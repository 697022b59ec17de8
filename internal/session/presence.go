package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/vkyc-desk/internal/store"
)

// Presence records whether the customer endpoint of a room is connected.
// There is no heartbeat: a customer who disappears without an offline signal
// stays online until the next signal arrives.
type Presence struct {
	repo store.Repository
}

// NewPresence creates a presence tracker.
func NewPresence(repo store.Repository) *Presence {
	return &Presence{repo: repo}
}

// SetOnline stores the presence flag observed at time at. Signals older than
// the last stored one are ignored and reported with applied == false.
func (p *Presence) SetOnline(ctx context.Context, roomID string, online bool, at time.Time) (applied bool, err error) {
	applied, err = p.repo.UpdateCustomerPresence(ctx, roomID, online, at)
	if err != nil {
		return false, fmt.Errorf("set customer presence: %w", err)
	}
	return applied, nil
}
