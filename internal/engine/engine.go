package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/internal/archive"
	"github.com/kode4food/tartan/internal/client"
	"github.com/kode4food/tartan/internal/config"
	"github.com/kode4food/tartan/internal/engine/memo"
	"github.com/kode4food/tartan/internal/engine/scheduler"
	"github.com/kode4food/tartan/internal/engine/script"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
	"github.com/kode4food/tartan/pkg/log"
	"github.com/kode4food/tartan/pkg/util/call"
)

type (
	// Engine drives flow runs. Each run is executed by its own driver
	// goroutine and every step it takes is checkpointed in the Ledger
	Engine struct {
		ctx        context.Context
		cancel     context.CancelFunc
		config     *config.Config
		ledger     *Ledger
		index      RunIndex
		stepClient client.Client
		archiver   Archiver
		archive    *archive.Queue
		env        EnvResolver
		scripts    *script.Registry
		scheduler  *scheduler.Scheduler
		finished   *memo.Cache
		consumer   EventConsumer
		handler    timebox.Handler
		flows      *registry
		waiters    *waiters
		runs       sync.Map // map[api.RunID]*runDriver
		wg         sync.WaitGroup
		startOnce  sync.Once
		stopOnce   sync.Once
	}

	// Dependencies are the collaborators an Engine is built from. Only the
	// store, hub, and index are required
	Dependencies struct {
		RunStore         *timebox.Store
		EventHub         timebox.EventHub
		Index            RunIndex
		StepClient       client.Client
		Archiver         Archiver
		Env              EnvResolver
		Clock            scheduler.Clock
		TimerConstructor scheduler.TimerConstructor
	}

	// RunIndex tracks runs that have not yet reached a terminal state
	RunIndex interface {
		Add(ctx context.Context, id api.RunID) error
		Remove(ctx context.Context, id api.RunID) error
		List(ctx context.Context) ([]api.RunID, error)
	}

	// Archiver receives terminal runs
	Archiver interface {
		Put(ctx context.Context, rec *archive.Record) error
	}

	// EventConsumer consumes events from the event hub
	EventConsumer = topic.Consumer[*timebox.Event]
)

const (
	recoverTimeout  = 30 * time.Second
	finishTimeout   = 5 * time.Second
	archiveBatchMax = 16
)

var (
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
	ErrRecoverRuns     = errors.New("failed to recover runs")
	ErrMissingStore    = errors.New("run store is required")
	ErrMissingIndex    = errors.New("run index is required")
	ErrMissingConfig   = errors.New("config is required")
	ErrEngineStopped   = errors.New("engine stopped")
)

// New creates an engine from its configuration and collaborators. The
// engine does nothing until Start is called
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := call.Perform(
		call.When(cfg == nil, call.Fail(ErrMissingConfig)),
		call.When(deps.RunStore == nil, call.Fail(ErrMissingStore)),
		call.When(deps.Index == nil, call.Fail(ErrMissingIndex)),
	); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:        ctx,
		cancel:     cancel,
		config:     cfg,
		ledger:     NewLedger(deps.RunStore),
		index:      deps.Index,
		stepClient: deps.StepClient,
		archiver:   deps.Archiver,
		env:        deps.Env,
		scripts:    script.NewRegistry(),
		scheduler:  scheduler.New(deps.Clock, deps.TimerConstructor),
		finished:   memo.NewCache(cfg.RunCacheSize),
		consumer:   deps.EventHub.NewConsumer(),
		flows:      newRegistry(),
		waiters:    newWaiters(),
	}
	if e.stepClient == nil {
		e.stepClient = client.NewHTTPClient(0)
	}
	if e.env == nil {
		e.env = OSEnv{Prefix: cfg.EnvPrefix}
	}
	if e.archiver != nil {
		e.archive = archive.NewQueue(e.archiveRuns, archiveBatchMax)
	}
	e.handler = e.createEventHandler()
	return e, nil
}

func (e *Engine) createEventHandler() timebox.Handler {
	return events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeRunCompleted: timebox.MakeHandler(e.handleRunCompleted),
		api.EventTypeRunFailed:    timebox.MakeHandler(e.handleRunFailed),
	})
}

// Start launches the engine's background loops and re-drives every run
// that was in progress when the previous process stopped
func (e *Engine) Start() error {
	var err error
	e.startOnce.Do(func() {
		slog.Info("Engine starting")

		e.wg.Go(func() { e.scheduler.Run(e.ctx) })
		e.wg.Go(e.eventLoop)
		if e.archive != nil {
			e.archive.Start()
		}

		ctx, cancel := context.WithTimeout(e.ctx, recoverTimeout)
		defer cancel()

		if rerr := e.RecoverRuns(ctx); rerr != nil {
			err = errors.Join(ErrRecoverRuns, rerr)
		}
	})
	return err
}

// Stop suspends every active run and shuts the engine down. Suspended runs
// record nothing terminal and resume on the next Start
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.cancel()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			slog.Info("Engine stopped")
		case <-time.After(e.config.ShutdownTimeout):
			err = ErrShutdownTimeout
		}

		if e.archive != nil {
			e.archive.Flush()
		}
		e.consumer.Close()
	})
	return err
}

// Now returns the current time from the engine's clock
func (e *Engine) Now() time.Time {
	return e.scheduler.Now()
}

// GetRunState returns the projected state of a run. Runs whose driver
// has finished are served from memory
func (e *Engine) GetRunState(
	ctx context.Context, id api.RunID,
) (*api.RunState, error) {
	if st, ok := e.finished.Get(id); ok {
		return st, nil
	}
	return e.ledger.GetRun(ctx, id)
}

// GetRunStateSeq returns the projected state of a run along with the
// ledger sequence that subscribers should resume from. Events at or
// beyond that sequence may already be reflected in the state
func (e *Engine) GetRunStateSeq(
	ctx context.Context, id api.RunID,
) (*api.RunState, int64, error) {
	evs, err := e.ledger.GetEvents(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	st, err := e.GetRunState(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return st, int64(len(evs)), nil
}

// GetStep returns one step record of a run
func (e *Engine) GetStep(
	ctx context.Context, id api.RunID, name api.StepName,
) (*api.StepRecord, error) {
	st, err := e.GetRunState(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, ok := st.Steps[name]
	if !ok {
		return nil, ErrStepNotFound
	}
	return rec, nil
}

// ListSteps returns a run's step records in the order they were reached
func (e *Engine) ListSteps(
	ctx context.Context, id api.RunID,
) ([]*api.StepRecord, error) {
	st, err := e.GetRunState(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.OrderedSteps(), nil
}

// ListActiveRuns returns the runs that have not yet finished
func (e *Engine) ListActiveRuns(ctx context.Context) ([]*api.RunState, error) {
	ids, err := e.index.List(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*api.RunState, 0, len(ids))
	for _, id := range ids {
		st, err := e.GetRunState(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				continue
			}
			return nil, err
		}
		res = append(res, st)
	}
	return res, nil
}

func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.consumer.Receive():
			if !ok {
				return
			}
			if err := e.handler(ev); err != nil {
				slog.Error("Failed to handle run event",
					slog.String("event_type", string(ev.Type)),
					log.Error(err))
			}
		}
	}
}

func (e *Engine) handleRunCompleted(
	_ *timebox.Event, data api.RunCompletedEvent,
) error {
	e.waiters.notify(data.RunID)
	return nil
}

func (e *Engine) handleRunFailed(
	_ *timebox.Event, data api.RunFailedEvent,
) error {
	e.waiters.notify(data.RunID)
	return nil
}
