package archive

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

type (
	// Queue hands terminal run IDs to a handler in bounded batches, one
	// batch at a time
	Queue struct {
		prod        topic.Producer[api.RunID]
		cons        topic.Consumer[api.RunID]
		handler     Handler
		stop        chan struct{}
		batchSize   int
		retryDelay  time.Duration
		wg          sync.WaitGroup
		startOnce   sync.Once
		stopOnce    sync.Once
		cleanupOnce sync.Once
	}

	// Handler archives a batch of terminal runs
	Handler func([]api.RunID) error
)

const (
	DefaultBatchSize = 16

	maxRetries        = 3
	defaultRetryDelay = 100 * time.Millisecond
)

var ErrHandlerPanicked = errors.New("archive handler panicked")

// NewQueue creates a queue that feeds the handler at most batchSize runs
// at a time
func NewQueue(handler Handler, batchSize int) *Queue {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	t := caravan.NewTopic[api.RunID]()
	return &Queue{
		prod:       t.NewProducer(),
		cons:       t.NewConsumer(),
		handler:    handler,
		stop:       make(chan struct{}),
		batchSize:  batchSize,
		retryDelay: defaultRetryDelay,
	}
}

// Start begins draining the queue
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.wg.Go(func() {
			for {
				select {
				case <-q.stop:
					return
				case id, ok := <-q.cons.Receive():
					if !ok {
						return
					}
					q.handleBatch(q.collectBatch(id))
				}
			}
		})
	})
}

// Enqueue adds a terminal run to the queue
func (q *Queue) Enqueue(id api.RunID) {
	q.prod.Send() <- id
}

// Flush stops the queue after handling whatever is already queued
func (q *Queue) Flush() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
	q.cleanupOnce.Do(q.flush)
}

// Cancel stops the queue, dropping anything not yet handled
func (q *Queue) Cancel() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
	q.cleanupOnce.Do(q.close)
}

func (q *Queue) collectBatch(first api.RunID) []api.RunID {
	batch := []api.RunID{first}
	for len(batch) < q.batchSize {
		select {
		case id, ok := <-q.cons.Receive():
			if !ok {
				return batch
			}
			batch = append(batch, id)
		default:
			return batch
		}
	}
	return batch
}

func (q *Queue) flush() {
	for {
		select {
		case id, ok := <-q.cons.Receive():
			if !ok {
				q.close()
				return
			}
			q.handleBatch(q.collectBatch(id))
		default:
			q.close()
			return
		}
	}
}

func (q *Queue) close() {
	q.prod.Close()
	q.cons.Close()
}

func (q *Queue) handleBatch(batch []api.RunID) {
	for attempt := range maxRetries {
		err := q.tryHandleBatch(batch)
		if err == nil {
			return
		}
		slog.Error("Archive batch failed",
			slog.Int("batch_size", len(batch)),
			log.Attempt(attempt+1),
			log.Error(err))
		if attempt < maxRetries-1 {
			time.Sleep(q.retryDelay)
		}
	}
	slog.Error("Archive batch permanently failed",
		slog.Int("batch_size", len(batch)))
}

func (q *Queue) tryHandleBatch(batch []api.RunID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()
	return q.handler(batch)
}
