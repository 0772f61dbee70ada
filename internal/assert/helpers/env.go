package helpers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/archive"
	"github.com/kode4food/tartan/internal/config"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/internal/index"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine     *engine.Engine
	Redis      *miniredis.Miniredis
	MockClient *MockClient
	Config     *config.Config
	EventHub   timebox.EventHub
	Index      *index.Index
	Archiver   *archive.Archiver
	Env        engine.MapEnv
	Cleanup    func()
	runStore   *timebox.Store
	flows      []*engine.Definition
	engines    []*engine.Engine
	mu         sync.Mutex
}

const defaultStoreTimeout = 5 * time.Second

// NewTestConfig creates a default configuration with debug logging enabled
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend, an in-memory archive bucket, and a mock step
// client. The engine is not started
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	assert.NoError(t, err)

	cfg := NewTestConfig()
	cfg.RunStore.Addr = server.Addr()
	cfg.RunStore.Prefix = "test-run"
	cfg.RunCacheSize = 100

	runStore, err := tb.NewStore(cfg.RunStore)
	assert.NoError(t, err)

	arch, err := archive.Open(context.Background(), "mem://", "runs/")
	assert.NoError(t, err)

	env := &TestEngineEnv{
		Redis:      server,
		MockClient: NewMockClient(),
		Config:     cfg,
		EventHub:   tb.GetHub(),
		Index:      index.New(cfg.RunStore),
		Archiver:   arch,
		Env:        engine.MapEnv{},
		runStore:   runStore,
	}

	env.Engine, err = env.newEngine()
	assert.NoError(t, err)

	env.Cleanup = func() {
		env.mu.Lock()
		engines := env.engines
		env.mu.Unlock()
		for _, eng := range engines {
			_ = eng.Stop()
		}
		_ = env.Index.Close()
		_ = env.Archiver.Close()
		_ = tb.Close()
		server.Close()
	}
	return env
}

// Register adds flow definitions to the current engine and to every
// engine instance created afterward
func (e *TestEngineEnv) Register(defs ...*engine.Definition) error {
	if err := e.Engine.Register(defs...); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flows = append(e.flows, defs...)
	return nil
}

// NewEngineInstance creates a new engine instance sharing the same stores,
// index, and mock client, with the same flows registered. Used to simulate
// a process restart. The current engine is replaced but not stopped
func (e *TestEngineEnv) NewEngineInstance() (*engine.Engine, error) {
	eng, err := e.newEngine()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	flows := e.flows
	e.mu.Unlock()
	if len(flows) > 0 {
		if err := eng.Register(flows...); err != nil {
			return nil, err
		}
	}
	e.Engine = eng
	return eng, nil
}

func (e *TestEngineEnv) newEngine() (*engine.Engine, error) {
	eng, err := engine.New(e.Config, engine.Dependencies{
		RunStore:   e.runStore,
		EventHub:   e.EventHub,
		Index:      e.Index,
		StepClient: e.MockClient,
		Archiver:   e.Archiver,
		Env:        e.Env,
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engines = append(e.engines, eng)
	return eng, nil
}

// AppendRunEvents appends events directly to a run's ledger, bypassing
// the engine. Used to stage the ledger a crashed process would leave
func (e *TestEngineEnv) AppendRunEvents(
	runID api.RunID, evs ...*timebox.Event,
) error {
	ctx, cancel := context.WithTimeout(
		context.Background(), defaultStoreTimeout,
	)
	defer cancel()

	aggregateID := events.RunKey(runID)
	seq, err := e.getRunSequence(ctx, aggregateID)
	if err != nil {
		return err
	}

	for i, ev := range evs {
		ev.AggregateID = aggregateID
		ev.Sequence = seq + int64(i)
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
	}

	err = e.runStore.AppendEvents(ctx, aggregateID, seq, evs)
	if err == nil {
		return nil
	}

	conflict := new(timebox.VersionConflictError)
	if !errors.As(err, &conflict) {
		return err
	}

	seq = conflict.ActualSequence
	for i, ev := range evs {
		ev.Sequence = seq + int64(i)
	}

	return e.runStore.AppendEvents(ctx, aggregateID, seq, evs)
}

func (e *TestEngineEnv) getRunSequence(
	ctx context.Context, aggregateID timebox.AggregateID,
) (int64, error) {
	eventsInStore, err := e.runStore.GetEvents(ctx, aggregateID, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(eventsInStore)), nil
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with it,
// and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithStartedEngine creates a test engine, starts it, executes the provided
// function with the engine, and ensures cleanup happens automatically
func WithStartedEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithEngine(t, func(eng *engine.Engine) {
		assert.NoError(t, eng.Start())
		fn(eng)
	})
}
