package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/ashureev/vkyc-desk/internal/token"
)

var errUnknownInvite = fmt.Errorf("invite token: %w", domain.ErrNotFound)

// Directory answers read queries over rooms. Reads take no locks.
type Directory struct {
	repo store.Repository
}

// NewDirectory creates a room directory.
func NewDirectory(repo store.Repository) *Directory {
	return &Directory{repo: repo}
}

// Get returns a room with its recordings, read from one snapshot.
func (d *Directory) Get(ctx context.Context, id string) (*domain.Room, error) {
	return d.repo.GetRoomWithRecordings(ctx, id)
}

// GetByToken resolves a customer invite token. The token is treated as a
// credential: lookup goes through its digest and the final match is a
// constant-time comparison.
func (d *Directory) GetByToken(ctx context.Context, tok string) (*domain.Room, error) {
	if tok == "" {
		return nil, errUnknownInvite
	}
	room, err := d.repo.GetRoomByTokenHash(ctx, token.Hash(tok))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errUnknownInvite
		}
		return nil, err
	}
	if !token.Equal(room.InviteToken, tok) {
		return nil, errUnknownInvite
	}
	return room, nil
}

// List returns every room, newest first.
func (d *Directory) List(ctx context.Context) ([]*domain.Room, error) {
	return d.repo.ListRooms(ctx)
}

// DashboardCounts aggregates the dashboard tiles over List.
func (d *Directory) DashboardCounts(ctx context.Context) (domain.DashboardCounts, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return domain.DashboardCounts{}, err
	}
	return domain.Tally(rooms), nil
}
