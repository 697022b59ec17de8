package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIssuer struct {
	mu     sync.Mutex
	tokens []string
}

func (s *seqIssuer) Issue() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return "", errors.New("out of tokens")
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	mgr    *Manager
	repo   *store.SQLiteStore
	clock  *fakeClock
	events *eventLog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "vkyc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	clock := newFakeClock()
	require.NoError(t, repo.CreateAgent(context.Background(), &domain.Agent{
		ID: "agent-1", Name: "Default Agent", Email: "agent@example.com", Role: domain.RoleAgent, CreatedAt: clock.Now(),
	}))

	events := &eventLog{}
	opts = append([]Option{WithClock(clock), WithPublisher(events)}, opts...)
	return &fixture{mgr: NewManager(repo, opts...), repo: repo, clock: clock, events: events}
}

func (f *fixture) create(t *testing.T, name, app string) *domain.Room {
	t.Helper()
	room, err := f.mgr.Create(context.Background(), domain.NewRoom{CustomerName: name, ApplicationID: app, AgentID: "agent-1"})
	require.NoError(t, err)
	return room
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	room := f.create(t, "  Alice ", "APP1")

	assert.NotEmpty(t, room.ID)
	assert.Equal(t, "Alice", room.CustomerName)
	assert.Equal(t, domain.StatusPending, room.Status)
	assert.False(t, room.IsRecording)
	assert.False(t, room.IsCustomerOnline)
	assert.False(t, room.HasInvite())
	assert.Equal(t, []EventType{EventRoomCreated}, f.events.types())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]domain.NewRoom{
		"missing name":  {ApplicationID: "APP1", AgentID: "agent-1"},
		"blank name":    {CustomerName: "   ", ApplicationID: "APP1", AgentID: "agent-1"},
		"missing app":   {CustomerName: "Alice", AgentID: "agent-1"},
		"missing agent": {CustomerName: "Alice", ApplicationID: "APP1"},
		"unknown agent": {CustomerName: "Alice", ApplicationID: "APP1", AgentID: "ghost"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.mgr.Create(ctx, in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	room, err := f.mgr.TransitionStatus(ctx, room.ID, domain.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, room.Status)

	f.clock.Advance(time.Minute)
	room, err = f.mgr.ToggleRecording(ctx, room.ID, true)
	require.NoError(t, err)
	assert.True(t, room.IsRecording)
	require.Len(t, room.Recordings, 1)
	assert.True(t, room.Recordings[0].IsOpen())

	f.clock.Advance(5 * time.Minute)
	room, err = f.mgr.TransitionStatus(ctx, room.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, room.Status)
	require.NotNil(t, room.CompletedAt)
	assert.True(t, room.CompletedAt.Equal(f.clock.Now()))
	assert.False(t, room.IsRecording)
	require.Len(t, room.Recordings, 1)
	require.NotNil(t, room.Recordings[0].EndedAt)
	assert.True(t, room.Recordings[0].EndedAt.Equal(f.clock.Now()))
	assert.Equal(t, 5*time.Minute, room.Recordings[0].Duration())

	_, err = f.mgr.ToggleRecording(ctx, room.ID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, []EventType{
		EventRoomCreated,
		EventStatusChanged,
		EventRecordingStarted,
		EventRecordingStopped,
		EventStatusChanged,
	}, f.events.types())
}

func TestRejectedIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Bob", "APP2")

	room, err := f.mgr.TransitionStatus(ctx, room.ID, domain.StatusRejected)
	require.NoError(t, err)
	assert.Nil(t, room.CompletedAt)

	_, err = f.mgr.TransitionStatus(ctx, room.ID, domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := f.mgr.Directory().Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
}

func TestTransitionRejectsSelfAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	_, err := f.mgr.TransitionStatus(ctx, room.ID, domain.StatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.mgr.TransitionStatus(ctx, room.ID, domain.Status("ARCHIVED"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.mgr.TransitionStatus(ctx, "missing", domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGenerateInviteReplacesToken(t *testing.T) {
	f := newFixture(t, WithIssuer(&seqIssuer{tokens: []string{"tok-a", "tok-b"}}))
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	a, err := f.mgr.GenerateInvite(ctx, room.ID)
	require.NoError(t, err)
	b, err := f.mgr.GenerateInvite(ctx, room.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = f.mgr.Directory().GetByToken(ctx, a)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.mgr.Directory().GetByToken(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	for _, e := range f.events.events {
		if e.Room != nil {
			assert.Empty(t, e.Room.InviteToken, "events must not carry the invite secret")
		}
	}
}

func TestGenerateInviteRetriesCollision(t *testing.T) {
	f := newFixture(t, WithIssuer(&seqIssuer{tokens: []string{"dup", "dup", "fresh"}}))
	ctx := context.Background()
	first := f.create(t, "Alice", "APP1")
	second := f.create(t, "Bob", "APP2")

	_, err := f.mgr.GenerateInvite(ctx, first.ID)
	require.NoError(t, err)

	tok, err := f.mgr.GenerateInvite(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}

func TestGenerateInviteGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, WithIssuer(&seqIssuer{tokens: []string{"dup", "dup", "dup", "dup"}}))
	ctx := context.Background()
	first := f.create(t, "Alice", "APP1")
	second := f.create(t, "Bob", "APP2")

	_, err := f.mgr.GenerateInvite(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.mgr.GenerateInvite(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGenerateInviteOnTerminalRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")
	_, err := f.mgr.TransitionStatus(ctx, room.ID, domain.StatusRejected)
	require.NoError(t, err)

	_, err = f.mgr.GenerateInvite(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGetByTokenUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Directory().GetByToken(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.mgr.Directory().GetByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRemovesRecordings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	for i := 0; i < 3; i++ {
		_, err := f.mgr.ToggleRecording(ctx, room.ID, true)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
		_, err = f.mgr.ToggleRecording(ctx, room.ID, false)
		require.NoError(t, err)
	}
	recs, err := f.mgr.Ledger().ListFor(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	require.NoError(t, f.mgr.Delete(ctx, room.ID))

	recs, err = f.mgr.Ledger().ListFor(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = f.mgr.Directory().Get(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, f.mgr.Delete(ctx, room.ID), domain.ErrNotFound)
}

func TestToggleRecordingDoubleStartAndIdempotentStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	room, err := f.mgr.ToggleRecording(ctx, room.ID, false)
	require.NoError(t, err)
	assert.False(t, room.IsRecording)
	assert.Empty(t, room.Recordings)

	_, err = f.mgr.ToggleRecording(ctx, room.ID, true)
	require.NoError(t, err)
	_, err = f.mgr.ToggleRecording(ctx, room.ID, true)
	assert.ErrorIs(t, err, domain.ErrConflict)

	room, err = f.mgr.ToggleRecording(ctx, room.ID, false)
	require.NoError(t, err)
	assert.False(t, room.IsRecording)
	room, err = f.mgr.ToggleRecording(ctx, room.ID, false)
	require.NoError(t, err)
	assert.False(t, room.IsRecording)
	require.Len(t, room.Recordings, 1)
	assert.False(t, room.Recordings[0].IsOpen())
	assert.Regexp(t, `^recording_`+room.ID+`_\d+\.mp4$`, room.Recordings[0].FileURL)
}

func TestConcurrentStartsOpenOneRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.mgr.ToggleRecording(ctx, room.ID, true); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	recs, err := f.mgr.Ledger().ListFor(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Zero(t, f.mgr.locks.size())
}

func TestCompleteRacesPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")
	_, err := f.mgr.TransitionStatus(ctx, room.ID, domain.StatusActive)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.mgr.TransitionStatus(ctx, room.ID, domain.StatusCompleted)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.mgr.SetCustomerOnline(ctx, room.ID, true, f.clock.Now())
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := f.mgr.Directory().Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.IsCustomerOnline)
	assert.NotNil(t, got.CompletedAt)
}

func TestSetCustomerOnlineLastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	t0 := f.clock.Now()
	room, err := f.mgr.SetCustomerOnline(ctx, room.ID, true, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, room.IsCustomerOnline)

	room, err = f.mgr.SetCustomerOnline(ctx, room.ID, false, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, room.IsCustomerOnline, "older offline signal must not win")

	room, err = f.mgr.SetCustomerOnline(ctx, room.ID, false, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, room.IsCustomerOnline)
	require.NotNil(t, room.LastCustomerActivity)
	assert.True(t, room.LastCustomerActivity.Equal(t0.Add(3*time.Second)))

	_, err = f.mgr.SetCustomerOnline(ctx, "missing", true, time.Time{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	presence := 0
	for _, typ := range f.events.types() {
		if typ == EventCustomerPresence {
			presence++
		}
	}
	assert.Equal(t, 2, presence)
}

func TestUpdateNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	room, err := f.mgr.UpdateNotes(ctx, room.ID, "documents checked")
	require.NoError(t, err)
	assert.Equal(t, "documents checked", room.Notes)

	room, err = f.mgr.UpdateNotes(ctx, room.ID, "")
	require.NoError(t, err)
	assert.Empty(t, room.Notes)

	_, err = f.mgr.UpdateNotes(ctx, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCallEndedChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.create(t, "Alice", "APP1")

	require.NoError(t, f.mgr.CallEnded(ctx, room.ID))
	got, err := f.mgr.Directory().Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, []EventType{EventRoomCreated, EventCallEnded}, f.events.types())

	assert.ErrorIs(t, f.mgr.CallEnded(ctx, "missing"), domain.ErrNotFound)
}

func TestDashboardCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "Alice", "APP1")
	b := f.create(t, "Bob", "APP2")
	c := f.create(t, "Carol", "APP3")
	f.create(t, "Dan", "APP4")

	_, err := f.mgr.TransitionStatus(ctx, a.ID, domain.StatusActive)
	require.NoError(t, err)
	_, err = f.mgr.ToggleRecording(ctx, a.ID, true)
	require.NoError(t, err)
	_, err = f.mgr.SetCustomerOnline(ctx, a.ID, true, time.Time{})
	require.NoError(t, err)

	_, err = f.mgr.TransitionStatus(ctx, b.ID, domain.StatusCompleted)
	require.NoError(t, err)
	_, err = f.mgr.SetCustomerOnline(ctx, b.ID, true, time.Time{})
	require.NoError(t, err)

	_, err = f.mgr.TransitionStatus(ctx, c.ID, domain.StatusRejected)
	require.NoError(t, err)

	counts, err := f.mgr.Directory().DashboardCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DashboardCounts{
		Pending:          1,
		Active:           1,
		Completed:        1,
		WaitingCustomers: 1,
		RecordedSessions: 1,
	}, counts)
}
