package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-pantilt/internal/config"
	pantiltlog "github.com/teslashibe/go-pantilt/internal/log"
	"github.com/teslashibe/go-pantilt/pkg/control"
	"github.com/teslashibe/go-pantilt/pkg/feed"
	"github.com/teslashibe/go-pantilt/pkg/identity"
	"github.com/teslashibe/go-pantilt/pkg/perception"
	"github.com/teslashibe/go-pantilt/pkg/serialport"
	"github.com/teslashibe/go-pantilt/pkg/web"
)

// app wires the loop to its sink, identity store and network surfaces.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	sink   serialport.Sink
	memory *identity.Memory
	loop   *control.Loop
	feed   *feed.Server
	web    *web.Server
}

func newApp(cfg config.Config) (*app, error) {
	logger := pantiltlog.L()
	a := &app{cfg: cfg, logger: logger}

	if cfg.Serial.Port == "" {
		fmt.Println("⚠️  No serial port configured: packets are discarded")
		a.sink = serialport.NewDiscardSink()
	} else {
		sink, err := serialport.Open(cfg.Serial.Port, cfg.Serial.Options)
		if err != nil {
			return nil, err
		}
		opts, _ := cfg.Serial.Options.Normalize()
		fmt.Printf("🔌 Actuator: %s @ %s\n", cfg.Serial.Port, opts)
		a.sink = sink
	}

	memory, err := openMemory(cfg.Identity, logger)
	if err != nil {
		a.sink.Close()
		return nil, err
	}
	a.memory = memory

	mailbox := perception.NewMailbox()
	a.loop = control.New(cfg.Loop(), a.sink,
		control.WithMailbox(mailbox),
		control.WithMemory(memory),
		control.WithLogger(logger),
	)

	a.feed = feed.NewServer(mailbox,
		feed.WithSubmitter(a.loop),
		feed.WithLogger(logger),
	)

	webOpts := []web.Option{web.WithIdentities(memory), web.WithLogger(logger)}
	if cfg.Web.StaticDir != "" {
		webOpts = append(webOpts, web.WithStaticDir(cfg.Web.StaticDir))
	}
	a.web = web.NewServer(cfg.Web.Port, a.loop, webOpts...)

	a.feed.RegisterRoutes(a.web.App())
	a.feed.RegisterAPIRoutes(a.web.App().Group("/api"))

	a.loop.AddStateUpdater(a.web)
	a.loop.AddStateUpdater(a.feed)

	return a, nil
}

func openMemory(cfg config.IdentityConfig, logger *slog.Logger) (*identity.Memory, error) {
	opts := []identity.Option{
		identity.WithThreshold(cfg.Threshold),
		identity.WithLogger(logger),
	}

	switch cfg.Store {
	case config.StoreSQLite:
		store, err := identity.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, identity.WithStore(store))
		fmt.Printf("🧠 Identities: sqlite %s\n", cfg.Path)
	case config.StoreJSON:
		opts = append(opts, identity.WithStore(identity.NewJSONStore(cfg.Path)))
		fmt.Printf("🧠 Identities: json %s\n", cfg.Path)
	default:
		fmt.Println("🧠 Identities: in memory only")
	}

	// New closes the store itself when loading fails
	memory, err := identity.New(opts...)
	if err != nil {
		return nil, err
	}
	fmt.Printf("    %d known\n", memory.Len())
	return memory, nil
}

// run serves the dashboard and feed and drives the loop until ctx is
// cancelled or the actuator link fails.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.feed.Run(ctx)

	webErr := make(chan error, 1)
	go func() { webErr <- a.web.Start(ctx) }()

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.loop.Run(ctx) }()

	select {
	case err := <-loopErr:
		if err != nil {
			a.logger.Error("control loop failed", "error", err)
			return err
		}
		return nil
	case err := <-webErr:
		cancel()
		<-loopErr
		return fmt.Errorf("web server: %w", err)
	}
}

func (a *app) shutdown() {
	fmt.Println("👋 Shutting down...")

	done := make(chan struct{})
	go func() {
		if err := a.web.Shutdown(); err != nil {
			a.logger.Warn("web shutdown", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.logger.Warn("web shutdown timed out")
	}

	var errs []error
	if err := a.memory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("identities: %w", err))
	}
	if err := a.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("serial: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}
