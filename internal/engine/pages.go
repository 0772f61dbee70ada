package engine

import "github.com/kode4food/tartan/pkg/api"

// Page records human-facing content for the run. Page names share a
// namespace with the step names of the pass. A page recorded by an earlier
// pass is not written again
func (c *Context) Page(name api.PageName, content any) error {
	if err := c.claim(string(name), ErrDuplicatePageName); err != nil {
		return err
	}
	v, err := api.NewValue(content)
	if err != nil {
		return err
	}
	_, err = c.engine.ledger.AddPage(
		c.ledgerCtx(), c.run.ID, name, c.lastStep, v,
	)
	return err
}
