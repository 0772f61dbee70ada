package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kode4food/tartan/pkg/log"
)

type (
	// Scheduler runs delayed tasks on a single goroutine and supports
	// keyed replacement and prefix cancellation
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		tasks     chan taskReq
	}

	// TaskFunc is called when its run time arrives
	TaskFunc func() error

	taskReqOp uint8

	taskReq struct {
		op   taskReqOp
		task *Task
		key  string
	}
)

const (
	taskReqSchedule taskReqOp = iota
	taskReqCancel
	taskReqCancelPrefix
)

const requestBufferSize = 100

// ErrWaitCancelled is delivered to a wait whose key is cancelled or
// replaced by another wait
var ErrWaitCancelled = errors.New("wait cancelled")

// New creates a scheduler using the provided clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	if now == nil {
		now = SystemClock
	}
	if makeTimer == nil {
		makeTimer = NewTimer
	}
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		tasks:     make(chan taskReq, requestBufferSize),
	}
}

// Now returns the scheduler's current time
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Cancel removes the task registered for the exact key
func (s *Scheduler) Cancel(ctx context.Context, key string) {
	s.request(ctx, taskReq{op: taskReqCancel, key: key})
}

// CancelPrefix removes all tasks whose keys start with prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix string) {
	s.request(ctx, taskReq{op: taskReqCancelPrefix, key: prefix})
}

// Wait registers a wait under key and returns a channel that receives nil
// once the clock reaches at, or ErrWaitCancelled when the key is cancelled
// or replaced
func (s *Scheduler) Wait(
	ctx context.Context, key string, at time.Time,
) <-chan error {
	done := make(chan error, 1)
	if !at.After(s.now()) {
		done <- nil
		return done
	}
	s.request(ctx, taskReq{
		op: taskReqSchedule,
		task: &Task{
			Key: key,
			At:  at,
			Func: func() error {
				done <- nil
				return nil
			},
			OnCancel: func() {
				done <- ErrWaitCancelled
			},
		},
	})
	return done
}

// Run processes scheduler requests until the context is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	timer := s.makeTimer(0)
	var timerCh <-chan time.Time
	tasks := NewTaskHeap()

	resetTimer := func() {
		next := tasks.Peek()
		if next == nil {
			timer.Stop()
			timerCh = nil
			return
		}
		timer.Reset(next.At.Sub(s.now()))
		timerCh = timer.Channel()
	}

	resetTimer()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case req := <-s.tasks:
			switch req.op {
			case taskReqSchedule:
				tasks.Insert(req.task)
			case taskReqCancel:
				tasks.Cancel(req.key)
			case taskReqCancelPrefix:
				tasks.CancelPrefix(req.key)
			}
			resetTimer()
		case <-timerCh:
			task := tasks.PopTask()
			if task == nil {
				resetTimer()
				continue
			}
			if err := task.Func(); err != nil {
				slog.Error("Scheduled task failed",
					slog.String("key", task.Key),
					log.Error(err))
			}
			resetTimer()
		}
	}
}

func (s *Scheduler) request(ctx context.Context, req taskReq) {
	select {
	case s.tasks <- req:
	case <-ctx.Done():
	}
}
