package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kode4food/tartan/internal/archive"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

// archiveRuns writes a batch of terminal runs, with their full ledger, to
// the archiver. Runs that can no longer be read are skipped
func (e *Engine) archiveRuns(ids []api.RunID) error {
	ctx, cancel := context.WithTimeout(
		context.WithoutCancel(e.ctx), finishTimeout,
	)
	defer cancel()

	var errs []error
	for _, id := range ids {
		st, err := e.GetRunState(ctx, id)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		evs, err := e.ledger.GetEvents(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = e.archiver.Put(ctx, &archive.Record{
			ArchivedAt: e.Now(),
			State:      st,
			Events:     evs,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("Run archived", log.RunID(id))
	}
	return errors.Join(errs...)
}
