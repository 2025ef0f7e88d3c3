package worksession

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
)

// memStore mimics the server: one open row per user, enforced on insert.
type memStore struct {
	mu       sync.Mutex
	rows     map[string]model.WorkSession
	seq      int
	writes   int
	readErr  error
	writeErr error
}

func newMemStore() *memStore { return &memStore{rows: map[string]model.WorkSession{}} }

func (m *memStore) InsertWorkSession(_ context.Context, loginAt time.Time) (model.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.rows {
		if ws.Open() {
			return model.WorkSession{}, fmt.Errorf("insert: %w", model.ErrConflict)
		}
	}
	m.seq++
	m.writes++
	ws := model.WorkSession{ID: fmt.Sprintf("ws-%d", m.seq), UserID: "u1", LoginAt: loginAt}
	m.rows[ws.ID] = ws
	return ws, nil
}

func (m *memStore) CloseWorkSession(_ context.Context, id string, logoutAt time.Time) (model.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return model.WorkSession{}, m.writeErr
	}
	ws, ok := m.rows[id]
	if !ok || !ws.Open() {
		return model.WorkSession{}, model.ErrNotFound
	}
	m.writes++
	ws.LogoutAt = &logoutAt
	m.rows[id] = ws
	return ws, nil
}

func (m *memStore) LatestOpenWorkSession(context.Context) (*model.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.WorkSession
	for _, ws := range m.rows {
		if ws.Open() && (latest == nil || ws.LoginAt.After(latest.LoginAt)) {
			ws := ws
			latest = &ws
		}
	}
	return latest, nil
}

func (m *memStore) LatestWorkSessionSince(_ context.Context, since time.Time) (*model.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	var latest *model.WorkSession
	for _, ws := range m.rows {
		if !ws.LoginAt.Before(since) && (latest == nil || ws.LoginAt.After(latest.LoginAt)) {
			ws := ws
			latest = &ws
		}
	}
	return latest, nil
}

func (m *memStore) ListWorkSessions(_ context.Context, limit int) ([]model.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	list := make([]model.WorkSession, 0, len(m.rows))
	for _, ws := range m.rows {
		list = append(list, ws)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LoginAt.After(list[j].LoginAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *memStore) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ws := range m.rows {
		if ws.Open() {
			n++
		}
	}
	return n
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 9, 8, 30, 0, 0, time.Local)}
}

func TestCreateTracksAndPrependsToHistory(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))

	ws, err := r.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.Now(), ws.LoginAt)
	assert.Equal(t, ws.ID, r.ActiveID())
	require.Len(t, r.History(), 1)
	assert.Equal(t, ws.ID, r.History()[0].ID)
	require.NotNil(t, r.Today())
	assert.True(t, r.Today().Open())
}

func TestCompleteUsesTrackedSessionAndReplacesHistoryEntry(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))

	ws, err := r.Create(context.Background())
	require.NoError(t, err)
	c.Advance(4 * time.Hour)

	closed, err := r.Complete(context.Background())
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, ws.ID, closed.ID)
	require.NotNil(t, closed.LogoutAt)
	assert.Equal(t, c.Now(), *closed.LogoutAt)
	assert.Empty(t, r.ActiveID())

	history := r.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Open())
	assert.False(t, r.Today().Open())
}

func TestCompleteFindsRemoteOpenSessionAfterRestart(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))

	ws, err := r.Create(context.Background())
	require.NoError(t, err)
	r.Reset()
	require.Empty(t, r.ActiveID())

	closed, err := r.Complete(context.Background())
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, ws.ID, closed.ID)
	assert.Zero(t, store.openCount())
}

func TestCompleteWithNothingOpenIsNoop(t *testing.T) {
	store := newMemStore()
	r := New(store, nil, WithClock(newClock().Now))

	closed, err := r.Complete(context.Background())
	require.NoError(t, err)
	assert.Nil(t, closed)
	assert.Zero(t, store.writeCount())
}

func TestAtMostOneOpenSessionAcrossClockCycles(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))
	ctx := context.Background()

	steps := []string{"in", "in", "out", "in", "restart", "in", "out", "out", "in"}
	for _, step := range steps {
		switch step {
		case "in":
			_, err := r.Create(ctx)
			require.NoError(t, err)
			assert.LessOrEqual(t, store.openCount(), 1)
		case "out":
			_, err := r.Complete(ctx)
			require.NoError(t, err)
		case "restart":
			r.Reset()
		}
		c.Advance(time.Minute)
	}
	assert.Equal(t, 1, store.openCount())
}

func TestCreateReusesTodaysOpenSessionAfterRestart(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))

	first, err := r.Create(context.Background())
	require.NoError(t, err)
	r.Reset()
	c.Advance(time.Hour)

	second, err := r.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.writeCount())
}

func TestCreateOnNewDayClosesYesterdaysSession(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))

	yesterday, err := r.Create(context.Background())
	require.NoError(t, err)
	c.Advance(24 * time.Hour)

	today, err := r.Create(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, yesterday.ID, today.ID)
	assert.Equal(t, 1, store.openCount())
	assert.Equal(t, today.ID, r.ActiveID())

	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, today.ID, history[0].ID)
	assert.False(t, history[1].Open())
}

// conflictStore hides the open row from the first lookup, as a concurrent
// clock-in from another device would.
type conflictStore struct {
	*memStore
	hidden bool
}

func (c *conflictStore) LatestOpenWorkSession(ctx context.Context) (*model.WorkSession, error) {
	if !c.hidden {
		c.hidden = true
		return nil, nil
	}
	return c.memStore.LatestOpenWorkSession(ctx)
}

func TestCreateAdoptsRemoteRowOnConflict(t *testing.T) {
	base := newMemStore()
	clk := newClock()
	other, err := base.InsertWorkSession(context.Background(), clk.Now())
	require.NoError(t, err)

	r := New(&conflictStore{memStore: base}, nil, WithClock(clk.Now))
	ws, err := r.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, other.ID, ws.ID)
	assert.Equal(t, other.ID, r.ActiveID())
	assert.Equal(t, 1, base.openCount())
}

func TestLoadTracksTodaysOpenSession(t *testing.T) {
	store := newMemStore()
	c := newClock()
	ws, err := store.InsertWorkSession(context.Background(), c.Now())
	require.NoError(t, err)

	r := New(store, nil, WithClock(c.Now))
	r.Load(context.Background())
	assert.Equal(t, ws.ID, r.ActiveID())
	assert.Len(t, r.History(), 1)
}

func TestLoadDegradesOnReadFailure(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("backend unavailable")
	r := New(store, nil, WithClock(newClock().Now))

	r.Load(context.Background())
	assert.Nil(t, r.Today())
	assert.Empty(t, r.History())
	assert.Empty(t, r.ActiveID())
}

func TestCompleteSurfacesWriteFailure(t *testing.T) {
	store := newMemStore()
	r := New(store, nil, WithClock(newClock().Now))
	_, err := r.Create(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	store.writeErr = errors.New("backend unavailable")
	store.mu.Unlock()

	_, err = r.Complete(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, store.openCount())
}

// closeElsewhere closes id directly in the store, as another device would.
func (m *memStore) closeElsewhere(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.rows[id]
	ws.LogoutAt = &at
	m.rows[id] = ws
}

func (m *memStore) row(id string) model.WorkSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func TestCompleteAfterReloadIgnoresSessionClosedElsewhere(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))
	ctx := context.Background()

	ws, err := r.Create(ctx)
	require.NoError(t, err)
	closedAt := c.Now().Add(90 * time.Minute)
	store.closeElsewhere(ws.ID, closedAt)
	c.Advance(3 * time.Hour)

	r.Load(ctx)
	require.NotNil(t, r.Today())
	assert.False(t, r.Today().Open())
	assert.Empty(t, r.ActiveID())

	writes := store.writeCount()
	closed, err := r.Complete(ctx)
	require.NoError(t, err)
	assert.Nil(t, closed)
	assert.Equal(t, writes, store.writeCount())
	require.NotNil(t, store.row(ws.ID).LogoutAt)
	assert.Equal(t, closedAt, *store.row(ws.ID).LogoutAt)
}

func TestCompleteWithStaleTrackedIDIsNoop(t *testing.T) {
	store := newMemStore()
	c := newClock()
	r := New(store, nil, WithClock(c.Now))
	ctx := context.Background()

	ws, err := r.Create(ctx)
	require.NoError(t, err)
	closedAt := c.Now().Add(time.Hour)
	store.closeElsewhere(ws.ID, closedAt)
	c.Advance(2 * time.Hour)

	writes := store.writeCount()
	closed, err := r.Complete(ctx)
	require.NoError(t, err)
	assert.Nil(t, closed)
	assert.Equal(t, writes, store.writeCount())
	assert.Equal(t, closedAt, *store.row(ws.ID).LogoutAt)
	assert.Empty(t, r.ActiveID())
}

func TestCompleteMovesClosedSessionToFrontOfHistory(t *testing.T) {
	store := newMemStore()
	c := newClock()
	ctx := context.Background()

	today, err := store.InsertWorkSession(ctx, c.Now())
	require.NoError(t, err)
	_, err = store.CloseWorkSession(ctx, today.ID, c.Now().Add(time.Hour))
	require.NoError(t, err)
	older, err := store.InsertWorkSession(ctx, c.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	r := New(store, nil, WithClock(c.Now))
	r.Load(ctx)
	require.Len(t, r.History(), 2)
	assert.Equal(t, today.ID, r.History()[0].ID)

	closed, err := r.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, older.ID, closed.ID)

	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, older.ID, history[0].ID)
	assert.False(t, history[0].Open())
	assert.Equal(t, today.ID, history[1].ID)
}

func TestStartOfDay(t *testing.T) {
	at := time.Date(2026, 3, 9, 23, 59, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local), StartOfDay(at))
}
