package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/daemon"
	"github.com/tokikanri/tokikanri/internal/storage"
	"github.com/tokikanri/tokikanri/internal/tracker"
	"github.com/tokikanri/tokikanri/internal/web"
)

// processAPI is what the process commands need. A running daemon serves it
// over HTTP; otherwise the store is edited directly.
type processAPI interface {
	Processes(ctx context.Context) ([]web.ProcessJSON, error)
	Add(ctx context.Context, identity, displayName string) (string, error)
	Rename(ctx context.Context, identity, displayName string) error
	Reset(ctx context.Context, identity string) error
	ResetAll(ctx context.Context) error
	Remove(ctx context.Context, identity string) error
	RemoveAll(ctx context.Context) error
	Close() error
}

func isNotFound(err error) bool {
	return errors.Is(err, web.ErrNotFound) || errors.Is(err, tracker.ErrUnknownProcess)
}

func isConflict(err error) bool {
	return errors.Is(err, web.ErrConflict) || errors.Is(err, tracker.ErrAlreadyTracked)
}

func webAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Web.Host, fmt.Sprint(cfg.Web.Port))
}

// daemonClient returns an API client when a daemon is running and serving
// its web API. A daemon without one is an error, since offline edits would
// be overwritten by its next save.
func daemonClient(ctx context.Context, cfg *config.Config) (*web.Client, error) {
	running, pid, err := daemon.New(cfg.Daemon.PIDFile, zerolog.Nop()).IsRunning()
	if err != nil || !running {
		return nil, nil
	}
	client := web.NewClient(webAddr(cfg))
	if !client.Reachable(ctx) {
		return nil, fmt.Errorf("daemon (PID: %d) is running without a reachable web API; stop it first", pid)
	}
	return client, nil
}

func openProcessAPI(ctx context.Context, cfg *config.Config) (processAPI, error) {
	client, err := daemonClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client != nil {
		return remoteAPI{client}, nil
	}
	return openOffline(ctx, cfg)
}

type remoteAPI struct {
	*web.Client
}

func (remoteAPI) Close() error { return nil }

// offlineAPI loads the store into an engine, applies one command and saves
type offlineAPI struct {
	backends *backends
	engine   *tracker.Engine
}

func openOffline(ctx context.Context, cfg *config.Config) (*offlineAPI, error) {
	b, err := openBackends(cfg, false)
	if err != nil {
		return nil, err
	}
	logger := cliLogger(cfg)
	records, err := storage.LoadWithRetry(ctx, b.store, storage.DefaultRetry, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	engine := tracker.NewEngine(tracker.SettingsFromConfig(cfg), nil, 1, logger)
	engine.Load(records)
	return &offlineAPI{backends: b, engine: engine}, nil
}

func (o *offlineAPI) save(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return o.backends.store.Save(ctx, o.engine.Records())
}

func (o *offlineAPI) Processes(ctx context.Context) ([]web.ProcessJSON, error) {
	return web.ProcessesJSON(o.engine.Snapshot()), nil
}

func (o *offlineAPI) Add(ctx context.Context, identity, displayName string) (string, error) {
	id, err := o.engine.Add(identity, displayName)
	return id.String(), o.save(ctx, err)
}

func (o *offlineAPI) Rename(ctx context.Context, identity, displayName string) error {
	return o.save(ctx, o.engine.Rename(identity, displayName))
}

func (o *offlineAPI) Reset(ctx context.Context, identity string) error {
	return o.save(ctx, o.engine.Reset(identity))
}

func (o *offlineAPI) ResetAll(ctx context.Context) error {
	o.engine.ResetAll()
	return o.save(ctx, nil)
}

func (o *offlineAPI) Remove(ctx context.Context, identity string) error {
	return o.save(ctx, o.engine.Remove(identity))
}

func (o *offlineAPI) RemoveAll(ctx context.Context) error {
	o.engine.RemoveAll()
	return o.save(ctx, nil)
}

func (o *offlineAPI) Close() error {
	return o.backends.Close()
}
