package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan"
	"github.com/kode4food/tartan/internal/archive"
	"github.com/kode4food/tartan/internal/client"
	"github.com/kode4food/tartan/internal/config"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/internal/index"
	"github.com/kode4food/tartan/internal/server"
	"github.com/kode4food/tartan/pkg/log"
	"github.com/kode4food/tartan/pkg/util/call"
)

type app struct {
	cfg        *config.Config
	timebox    *timebox.Timebox
	runStore   *timebox.Store
	index      *index.Index
	archiver   *archive.Archiver
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

const archiveOpenTimeout = 10 * time.Second

var (
	ErrCreateTimebox = errors.New("failed to create timebox")
	ErrCreateStore   = errors.New("failed to create run store")
	ErrOpenArchive   = errors.New("failed to open archive")
	ErrConnectIndex  = errors.New("failed to connect run index")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	a := &app{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	a.setupLogging()

	if err := a.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (a *app) run() error {
	if err := a.initializeStores(); err != nil {
		return err
	}
	if err := a.initializeEngine(); err != nil {
		a.closeStores()
		return err
	}
	a.startServer()

	signal.Notify(a.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.quit)
	<-a.quit

	a.shutdown()
	return nil
}

func (a *app) setupLogging() {
	level, ok := log.ParseLevel(a.cfg.LogLevel)

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(tartan.Name, env, tartan.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	if !ok {
		slog.Warn("Unknown log level, using info",
			slog.String("log_level", a.cfg.LogLevel))
	}
	slog.Info("Tartan engine starting",
		slog.String("log_level", a.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("run_redis_addr", a.cfg.RunStore.Addr),
		slog.Int("run_redis_db", a.cfg.RunStore.DB),
		slog.String("archive_url", a.cfg.ArchiveURL),
		slog.String("api_host", a.cfg.APIHost),
		slog.Int("api_port", a.cfg.APIPort))
}

func (a *app) initializeStores() error {
	var err error

	a.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  a.cfg.RunCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	a.runStore, err = a.timebox.NewStore(a.cfg.RunStore)
	if err != nil {
		_ = a.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateStore, err)
	}

	a.index = index.New(a.cfg.RunStore)

	ctx, cancel := context.WithTimeout(
		context.Background(), archiveOpenTimeout,
	)
	defer cancel()

	if err := a.index.Ping(ctx); err != nil {
		a.closeStores()
		return fmt.Errorf("%w: %w", ErrConnectIndex, err)
	}

	if a.cfg.ArchiveURL == "" {
		return nil
	}
	a.archiver, err = archive.Open(ctx, a.cfg.ArchiveURL, a.cfg.ArchivePrefix)
	if err != nil {
		a.closeStores()
		return fmt.Errorf("%w: %w", ErrOpenArchive, err)
	}
	return nil
}

func (a *app) initializeEngine() error {
	deps := engine.Dependencies{
		RunStore:   a.runStore,
		EventHub:   a.timebox.GetHub(),
		Index:      a.index,
		StepClient: client.NewHTTPClient(0),
	}
	if a.archiver != nil {
		deps.Archiver = a.archiver
	}

	eng, err := engine.New(a.cfg, deps)
	if err != nil {
		return err
	}
	if err := eng.Register(demoFlows()...); err != nil {
		return err
	}
	a.engine = eng
	return a.engine.Start()
}

func (a *app) startServer() {
	a.apiServer = server.NewServer(a.engine, a.timebox.GetHub())

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.APIHost, a.cfg.APIPort),
		Handler:           a.apiServer.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", a.httpServer.Addr))
		err := a.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (a *app) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), a.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	a.apiServer.CloseWebSockets()

	if err := a.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	a.closeStores()
	slog.Info("Server exited")
}

func (a *app) closeStores() {
	err := call.All(
		call.When(a.archiver != nil, func() error {
			return a.archiver.Close()
		}),
		call.When(a.index != nil, func() error {
			return a.index.Close()
		}),
		call.When(a.timebox != nil, func() error {
			return a.timebox.Close()
		}),
	)
	if err != nil {
		slog.Warn("Failed to close stores", log.Error(err))
	}
}
