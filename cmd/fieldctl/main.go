// Command fieldctl is the officer and admin console for the field-ops
// service. It keeps its session in a local SQLite file between runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fieldops/internal/config"
	"fieldops/internal/field"
	"fieldops/internal/geo"
	"fieldops/internal/guard"
	"fieldops/internal/logger"
	"fieldops/internal/model"
	"fieldops/internal/remote"
	"fieldops/internal/session"
	"fieldops/internal/worksession"
)

type app struct {
	cfg      config.ClientConfig
	logger   *zap.Logger
	store    *remote.SQLiteStore
	auth     *remote.AuthClient
	client   *remote.Client
	resolver *session.Resolver
	sessions *worksession.Reconciler
	field    *field.Service
	routes   guard.Routes
}

func newApp(ctx context.Context, cfg config.ClientConfig) (*app, error) {
	zl, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := remote.OpenSQLiteStore(cfg.SessionDB)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	auth := remote.NewAuthClient(cfg.BaseURL, cfg.HTTPTimeout, store, zl)
	client := remote.NewClient(cfg.BaseURL, cfg.HTTPTimeout, auth)
	resolver := session.NewResolver(auth, client, zl)
	sessions := worksession.New(client, zl)

	var provider geo.Provider
	if cfg.Lat != nil && cfg.Lng != nil {
		provider = &geo.Cached{Provider: geo.Static{Fix: model.GeoFix{Lat: *cfg.Lat, Lng: *cfg.Lng}}}
	}

	a := &app{
		cfg:      cfg,
		logger:   zl,
		store:    store,
		auth:     auth,
		client:   client,
		resolver: resolver,
		sessions: sessions,
		routes:   guard.DefaultRoutes(),
	}
	a.field = field.NewService(field.Deps{
		Store:    client,
		Photos:   client,
		Locator:  geo.NewAcquirer(provider, zl),
		Sessions: sessions,
		UserID:   a.userID,
		Logger:   zl,
	})
	resolver.Start(ctx)
	return a, nil
}

func (a *app) userID() string {
	if u := a.resolver.Snapshot().User; u != nil {
		return u.ID
	}
	return ""
}

func (a *app) close() {
	a.field.Close()
	a.resolver.Close()
	_ = a.store.Close()
	_ = a.logger.Sync()
}

// waitFor blocks until the resolver snapshot satisfies ok.
func (a *app) waitFor(ctx context.Context, ok func(session.Snapshot) bool) (session.Snapshot, error) {
	done := make(chan session.Snapshot, 1)
	cancel := a.resolver.Subscribe(func(s session.Snapshot) {
		if ok(s) {
			select {
			case done <- s:
			default:
			}
		}
	})
	defer cancel()
	if s := a.resolver.Snapshot(); ok(s) {
		return s, nil
	}
	select {
	case s := <-done:
		return s, nil
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
}

func settled(s session.Snapshot) bool { return !s.IsLoading }

var (
	errNeedSignIn = errors.New("not signed in; run fieldctl login")
	errNeedAdmin  = errors.New("admin role required")
)

// enter applies the route guard to the view a command stands for.
func (a *app) enter(ctx context.Context, path string) (session.Snapshot, error) {
	snap, err := a.waitFor(ctx, settled)
	if err != nil {
		return snap, err
	}
	decision := a.routes.Decide(snap.RouteState(path))
	if !decision.Redirect {
		return snap, nil
	}
	switch {
	case decision.To == a.routes.DefaultPublic:
		return snap, errNeedSignIn
	case a.routes.IsAuthPath(path):
		return snap, fmt.Errorf("already signed in as %s; run fieldctl logout first", snap.User.Email)
	default:
		return snap, errNeedAdmin
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "fieldctl: unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config.LoadClient())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fieldctl: %v\n", err)
		os.Exit(1)
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if cmd.long {
		runCtx, cancel = context.WithCancel(ctx)
	} else {
		runCtx, cancel = context.WithTimeout(ctx, 2*time.Minute)
	}
	err = cmd.run(runCtx, a, args)
	cancel()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fieldctl %s: %v\n", name, err)
		os.Exit(1)
	}
}
