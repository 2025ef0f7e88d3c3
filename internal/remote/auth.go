package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldops/internal/events"
	"fieldops/internal/logger"
	"fieldops/internal/model"
)

// RefreshMargin is how long before expiry a session is refreshed.
const RefreshMargin = time.Minute

type sessionChange struct {
	event   model.AuthEvent
	session *model.Session
}

// AuthClient talks to the /auth routes, persists the session through a
// SessionStore and tells subscribers about every transition.
type AuthClient struct {
	api    *transport
	store  SessionStore
	logger *zap.Logger
	now    func() time.Time

	changes *events.Bus[sessionChange]

	// refreshMu keeps one refresh in flight; refresh tokens rotate.
	refreshMu sync.Mutex

	mu      sync.Mutex
	session *model.Session
	loaded  bool
}

func NewAuthClient(baseURL string, timeout time.Duration, store SessionStore, log *zap.Logger) *AuthClient {
	if store == nil {
		store = NewMemoryStore()
	}
	return &AuthClient{
		api:     newTransport(baseURL, timeout),
		store:   store,
		logger:  logger.OrNop(log),
		now:     time.Now,
		changes: events.NewBus[sessionChange](),
	}
}

// OnSessionChange registers fn and immediately reports INITIAL_SESSION with
// the stored session, before returning.
func (a *AuthClient) OnSessionChange(fn func(event model.AuthEvent, s *model.Session)) (unsubscribe func()) {
	cancel := a.changes.Subscribe(func(c sessionChange) { fn(c.event, c.session) })
	fn(model.EventInitialSession, a.cached(context.Background()))
	return cancel
}

// GetSession returns the stored session, refreshing it first when it is
// about to expire. A session the server no longer accepts is dropped.
func (a *AuthClient) GetSession(ctx context.Context) (*model.Session, error) {
	s := a.cached(ctx)
	if s == nil {
		return nil, nil
	}
	if !s.Expired(a.now().Add(RefreshMargin)) {
		return s, nil
	}
	refreshed, err := a.Refresh(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// AccessToken is what row requests send as the bearer.
func (a *AuthClient) AccessToken(ctx context.Context) (string, error) {
	s, err := a.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if !s.HasUser() {
		return "", ErrSignedOut
	}
	return s.AccessToken, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var s model.Session
	err := a.api.do(ctx, request{method: http.MethodPost, path: "/auth/login", body: credentials{Email: email, Password: password}}, &s)
	if err != nil {
		return nil, err
	}
	_ = a.set(ctx, &s, model.EventSignedIn)
	return &s, nil
}

func (a *AuthClient) SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error) {
	var s model.Session
	err := a.api.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/signup",
		body:   credentials{Email: email, Password: password, FullName: fullName},
	}, &s)
	if err != nil {
		return nil, err
	}
	_ = a.set(ctx, &s, model.EventSignedIn)
	return &s, nil
}

// SignOut always forgets the local session; revoking it on the server is
// best effort.
func (a *AuthClient) SignOut(ctx context.Context) error {
	s := a.cached(ctx)
	if s != nil {
		err := a.api.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/logout",
			token:  s.AccessToken,
			body:   map[string]string{"refresh_token": s.RefreshToken},
		}, nil)
		if err != nil {
			a.logger.Warn("server sign-out failed", zap.Error(err))
		}
	}
	return a.set(ctx, nil, model.EventSignedOut)
}

// Refresh rotates the refresh token. A rejected token signs the client out.
func (a *AuthClient) Refresh(ctx context.Context) (*model.Session, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	current := a.cached(ctx)
	if current == nil || current.RefreshToken == "" {
		return nil, ErrSignedOut
	}
	// Another caller may have refreshed while we waited.
	if !current.Expired(a.now().Add(RefreshMargin)) {
		return current, nil
	}

	var s model.Session
	err := a.api.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   map[string]string{"refresh_token": current.RefreshToken},
	}, &s)
	if err != nil {
		if IsUnauthorized(err) {
			_ = a.set(ctx, nil, model.EventSignedOut)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	_ = a.set(ctx, &s, model.EventTokenRefreshed)
	return &s, nil
}

// AutoRefresh refreshes the session shortly before it expires until ctx is
// done. Transient failures are retried after a short pause.
func (a *AuthClient) AutoRefresh(ctx context.Context) {
	const retry = 10 * time.Second
	for {
		wait := retry
		if s := a.cached(ctx); s != nil && !s.ExpiresAt.IsZero() {
			wait = s.ExpiresAt.Add(-RefreshMargin).Sub(a.now())
			if wait < 0 {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if a.cached(ctx) == nil {
			continue
		}
		if _, err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("background session refresh failed", zap.Error(err))
			if IsUnauthorized(err) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
		}
	}
}

func (a *AuthClient) cached(ctx context.Context) *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		s, err := a.store.Load(ctx)
		if err != nil {
			a.logger.Warn("stored session unreadable", zap.Error(err))
		}
		a.session = s
		a.loaded = true
	}
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// set holds s in memory, persists it and notifies listeners. A persist
// failure is logged and returned; the in-memory session stays in use, so
// sign-in and refresh carry on without it.
func (a *AuthClient) set(ctx context.Context, s *model.Session, event model.AuthEvent) error {
	a.mu.Lock()
	a.session, a.loaded = s, true
	a.mu.Unlock()

	var err error
	if s == nil {
		err = a.store.Clear(ctx)
	} else {
		err = a.store.Save(ctx, s)
	}
	if err != nil {
		a.logger.Error("persist session", zap.Error(err))
	}

	var published *model.Session
	if s != nil {
		copied := *s
		published = &copied
	}
	a.changes.Publish(sessionChange{event: event, session: published})
	return err
}
