package engine

import (
	"errors"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

// Complete ends the run with a completion payload. The first terminal
// record wins: once the payload is recorded, no further step may begin,
// and a second call returns ErrAlreadyCompleted
func (c *Context) Complete(comp api.Completion) error {
	err := c.engine.ledger.CompleteRun(c.ledgerCtx(), c.run.ID, nil, &comp)
	if err != nil {
		if !errors.Is(err, ErrAlreadyCompleted) {
			c.logger.Warn("Completion rejected", log.Error(err))
		}
		return err
	}
	c.engine.releaseWaits(c.run.ID)
	c.logger.Info("Run completion recorded",
		log.StepName(c.lastStep))
	return nil
}
