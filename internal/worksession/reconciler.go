// Package worksession keeps at most one open work session per officer and
// bridges clock-in/clock-out to work_sessions rows, surviving a client restart
// mid-session.
package worksession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldops/internal/logger"
	"fieldops/internal/model"
)

// HistoryLimit is how many past sessions Load keeps.
const HistoryLimit = 30

// Store is the work_sessions collection scoped to the signed-in user.
// Lookups return nil, nil when nothing matches. InsertWorkSession returns an
// error matching model.ErrConflict when an open row already exists.
type Store interface {
	InsertWorkSession(ctx context.Context, loginAt time.Time) (model.WorkSession, error)
	CloseWorkSession(ctx context.Context, id string, logoutAt time.Time) (model.WorkSession, error)
	LatestOpenWorkSession(ctx context.Context) (*model.WorkSession, error)
	LatestWorkSessionSince(ctx context.Context, since time.Time) (*model.WorkSession, error)
	ListWorkSessions(ctx context.Context, limit int) ([]model.WorkSession, error)
}

type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

type Reconciler struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// op serialises Load, Create and Complete across their remote calls.
	op sync.Mutex

	mu       sync.Mutex
	today    *model.WorkSession
	history  []model.WorkSession
	activeID string
}

func New(store Store, log *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, logger: logger.OrNop(log), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads today's latest session and the recent history concurrently.
// Read failures are logged and leave the affected view empty.
func (r *Reconciler) Load(ctx context.Context) {
	r.op.Lock()
	defer r.op.Unlock()

	since := StartOfDay(r.now())
	var (
		today   *model.WorkSession
		history []model.WorkSession
	)
	var g errgroup.Group
	g.Go(func() error {
		ws, err := r.store.LatestWorkSessionSince(ctx, since)
		if err != nil {
			r.logger.Warn("load today's work session", zap.Error(err))
			return nil
		}
		today = ws
		return nil
	})
	g.Go(func() error {
		list, err := r.store.ListWorkSessions(ctx, HistoryLimit)
		if err != nil {
			r.logger.Warn("load work session history", zap.Error(err))
			return nil
		}
		history = list
		return nil
	})
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.today = today
	r.history = history
	if today != nil && today.Open() {
		r.activeID = today.ID
	} else {
		r.activeID = ""
	}
}

// Create opens a work session for now. An open session that started today is
// reused; one left open from an earlier day is closed before a new one is
// inserted.
func (r *Reconciler) Create(ctx context.Context) (model.WorkSession, error) {
	r.op.Lock()
	defer r.op.Unlock()

	now := r.now()
	open := r.findOpen(ctx)
	if open != nil {
		if !open.LoginAt.Before(StartOfDay(now)) {
			r.track(*open)
			return *open, nil
		}
		closed, err := r.store.CloseWorkSession(ctx, open.ID, now)
		switch {
		case errors.Is(err, model.ErrNotFound):
			r.logger.Info("stale work session already closed", zap.String("work_session_id", open.ID))
		case err != nil:
			return model.WorkSession{}, fmt.Errorf("close stale work session: %w", err)
		default:
			r.logger.Info("closed work session left open from an earlier day",
				zap.String("work_session_id", closed.ID), zap.Time("login_at", closed.LoginAt))
		}
		r.mu.Lock()
		if err == nil {
			r.upsert(closed)
		}
		r.activeID = ""
		r.mu.Unlock()
	}

	ws, err := r.store.InsertWorkSession(ctx, now)
	if errors.Is(err, model.ErrConflict) {
		remote, lookupErr := r.store.LatestOpenWorkSession(ctx)
		if lookupErr == nil && remote != nil {
			r.logger.Info("adopted open work session after insert conflict", zap.String("work_session_id", remote.ID))
			r.track(*remote)
			return *remote, nil
		}
	}
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("create work session: %w", err)
	}
	r.track(ws)
	return ws, nil
}

// Complete closes the open session. It returns nil, nil without writing when
// no open session exists anywhere for the user. A tracked session that turns
// out to be closed already is dropped in favour of the remote lookup.
func (r *Reconciler) Complete(ctx context.Context) (*model.WorkSession, error) {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	id := r.activeID
	if id != "" && r.heldClosed(id) {
		id = ""
	}
	if id == "" && r.today != nil && r.today.Open() {
		id = r.today.ID
	}
	r.mu.Unlock()

	now := r.now()
	if id != "" {
		updated, err := r.store.CloseWorkSession(ctx, id, now)
		if err == nil {
			return r.completed(updated, now), nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("complete work session: %w", err)
		}
		r.logger.Info("tracked work session already closed", zap.String("work_session_id", id))
		r.mu.Lock()
		r.activeID = ""
		r.mu.Unlock()
	}

	open, err := r.store.LatestOpenWorkSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("find open work session: %w", err)
	}
	if open == nil {
		return nil, nil
	}
	updated, err := r.store.CloseWorkSession(ctx, open.ID, now)
	if err != nil {
		return nil, fmt.Errorf("complete work session: %w", err)
	}
	return r.completed(updated, now), nil
}

func (r *Reconciler) completed(updated model.WorkSession, now time.Time) *model.WorkSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.today == nil || r.today.ID == updated.ID || !updated.LoginAt.Before(StartOfDay(now)) {
		r.today = &updated
	}
	r.upsert(updated)
	r.activeID = ""
	return &updated
}

// heldClosed reports whether the local copy of id is known to be closed.
// Callers hold mu.
func (r *Reconciler) heldClosed(id string) bool {
	if r.today != nil && r.today.ID == id {
		return !r.today.Open()
	}
	for _, ws := range r.history {
		if ws.ID == id {
			return !ws.Open()
		}
	}
	return false
}

func (r *Reconciler) Today() *model.WorkSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.today == nil {
		return nil
	}
	ws := *r.today
	return &ws
}

func (r *Reconciler) History() []model.WorkSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WorkSession(nil), r.history...)
}

func (r *Reconciler) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Reset forgets everything held locally, as a client restart would.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.today = nil
	r.history = nil
	r.activeID = ""
}

func (r *Reconciler) findOpen(ctx context.Context) *model.WorkSession {
	r.mu.Lock()
	if r.activeID != "" {
		if r.today != nil && r.today.ID == r.activeID && r.today.Open() {
			ws := *r.today
			r.mu.Unlock()
			return &ws
		}
		for _, ws := range r.history {
			if ws.ID == r.activeID && ws.Open() {
				r.mu.Unlock()
				return &ws
			}
		}
	} else if r.today != nil && r.today.Open() {
		ws := *r.today
		r.mu.Unlock()
		return &ws
	}
	r.mu.Unlock()

	open, err := r.store.LatestOpenWorkSession(ctx)
	if err != nil {
		r.logger.Warn("look up open work session", zap.Error(err))
		return nil
	}
	return open
}

func (r *Reconciler) track(ws model.WorkSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeID = ws.ID
	r.today = &ws
	r.upsert(ws)
}

// upsert drops any entry with the same id and prepends ws. Callers hold mu.
func (r *Reconciler) upsert(ws model.WorkSession) {
	next := make([]model.WorkSession, 0, len(r.history)+1)
	next = append(next, ws)
	for _, held := range r.history {
		if held.ID != ws.ID {
			next = append(next, held)
		}
	}
	r.history = next
}

// StartOfDay is local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
