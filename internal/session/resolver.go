// Package session keeps one authoritative snapshot of who is signed in,
// their profile and their role, rebuilt from scratch on every session
// change reported by the auth API.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldops/internal/events"
	"fieldops/internal/guard"
	"fieldops/internal/logger"
	"fieldops/internal/model"
)

// SessionSource is the auth half of the Remote Data Service.
type SessionSource interface {
	OnSessionChange(fn func(event model.AuthEvent, s *model.Session)) (unsubscribe func())
	GetSession(ctx context.Context) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error)
	SignOut(ctx context.Context) error
}

// ProfileRoleReader returns nil, nil when the row does not exist.
type ProfileRoleReader interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	GetRole(ctx context.Context, userID string) (*model.Role, error)
}

type Snapshot struct {
	User      *model.User
	Session   *model.Session
	Profile   *model.Profile
	Role      model.Role
	IsLoading bool
	IsAdmin   bool
}

func (s Snapshot) Authenticated() bool { return s.Session.HasUser() }

func (s Snapshot) RouteState(path string) guard.State {
	return guard.State{
		Loading:       s.IsLoading,
		Authenticated: s.Authenticated(),
		Admin:         s.IsAdmin,
		Path:          path,
	}
}

// Resolver owns the snapshot. Every resync gets a sequence number when it is
// requested; a resync that completes after a newer one has been applied is
// dropped, so completion order cannot resurrect a stale session.
type Resolver struct {
	auth   SessionSource
	rows   ProfileRoleReader
	logger *zap.Logger

	observers *events.Bus[Snapshot]

	// pubMu keeps apply-and-notify atomic so observers see snapshots in
	// sequence order.
	pubMu sync.Mutex

	mu          sync.Mutex
	state       Snapshot
	requested   uint64
	applied     uint64
	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

func NewResolver(auth SessionSource, rows ProfileRoleReader, log *zap.Logger) *Resolver {
	return &Resolver{
		auth:      auth,
		rows:      rows,
		logger:    logger.OrNop(log),
		observers: events.NewBus[Snapshot](),
		state:     Snapshot{IsLoading: true},
		ctx:       context.Background(),
	}
}

// Start subscribes to session changes and only then asks for the current
// session. It returns immediately; results arrive through Subscribe.
func (r *Resolver) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	unsubscribe := r.auth.OnSessionChange(func(event model.AuthEvent, s *model.Session) {
		seq, ok := r.reserve()
		if !ok {
			return
		}
		r.logger.Debug("session change", zap.String("event", string(event)))
		go r.resync(seq, s)
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
		return
	}
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	seq, ok := r.reserve()
	if !ok {
		return
	}
	go func() {
		s, err := r.auth.GetSession(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				r.logger.Warn("initial session lookup failed", zap.Error(err))
			}
			s = nil
		}
		r.resync(seq, s)
	}()
}

func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) Subscribe(fn func(Snapshot)) (cancel func()) {
	return r.observers.Subscribe(fn)
}

// Close unsubscribes from the auth source and discards every resync still in
// flight. It waits for a notification already being delivered, so no
// observer runs once it returns; it must not be called from an observer.
// Safe to call more than once.
func (r *Resolver) Close() {
	r.pubMu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.pubMu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.pubMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// SignIn, SignUp and SignOut never touch the snapshot; the resulting session
// change arrives through the subscription.

func (r *Resolver) SignIn(ctx context.Context, email, password string) error {
	_, err := r.auth.SignInWithPassword(ctx, email, password)
	return err
}

func (r *Resolver) SignUp(ctx context.Context, email, password, fullName string) error {
	_, err := r.auth.SignUp(ctx, email, password, fullName)
	return err
}

func (r *Resolver) SignOut(ctx context.Context) error {
	return r.auth.SignOut(ctx)
}

func (r *Resolver) reserve() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	r.requested++
	return r.requested, true
}

func (r *Resolver) resync(seq uint64, s *model.Session) {
	if !s.HasUser() {
		r.apply(seq, Snapshot{})
		return
	}

	ctx := r.ctx
	userID := s.User.ID
	var (
		profile *model.Profile
		role    = model.DefaultRole
	)
	var g errgroup.Group
	g.Go(func() error {
		p, err := r.rows.GetProfile(ctx, userID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		stored, err := r.rows.GetRole(ctx, userID)
		if err != nil {
			return fmt.Errorf("load role: %w", err)
		}
		if stored != nil && stored.Valid() {
			role = *stored
		}
		return nil
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		r.logger.Warn("profile lookup degraded to defaults", zap.String("user_id", userID), zap.Error(err))
	}

	r.apply(seq, Snapshot{
		User:    s.User,
		Session: s,
		Profile: profile,
		Role:    role,
		IsAdmin: role.IsAdmin(),
	})
}

func (r *Resolver) apply(seq uint64, next Snapshot) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	if r.closed || seq <= r.applied {
		r.mu.Unlock()
		return
	}
	r.applied = seq
	r.state = next
	r.mu.Unlock()

	r.observers.Publish(next)
}
