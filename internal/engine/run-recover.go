package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kode4food/tartan/pkg/log"
)

// RecoverRuns re-drives every run the index lists as unfinished. Runs are
// replayed from the top of their flow body, and steps that already
// succeeded return their recorded values. A run whose flow is not
// registered in this process stays in the index until one that knows the
// flow starts
func (e *Engine) RecoverRuns(ctx context.Context) error {
	ids, err := e.index.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	slog.Info("Recovering runs", slog.Int("count", len(ids)))

	var errs []error
	for _, id := range ids {
		st, err := e.ledger.GetRun(ctx, id)
		if errors.Is(err, ErrRunNotFound) {
			// indexed, but the start never reached the ledger
			if err := e.index.Remove(ctx, id); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if st.Status.IsTerminal() {
			e.newDriver(nil, st.ID, st.Flow).finish(st)
			continue
		}

		def, err := e.GetFlow(st.Flow)
		if err != nil {
			slog.Warn("Run flow not registered",
				log.RunID(id),
				log.FlowName(st.Flow))
			continue
		}

		slog.Info("Recovering run",
			log.RunID(id),
			log.FlowName(st.Flow),
			slog.Int("steps", len(st.StepOrder)))
		e.launchRun(def, id)
	}
	return errors.Join(errs...)
}
