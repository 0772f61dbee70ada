package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// Definition names a flow and supplies its body
	Definition struct {
		Body FlowFunc
		Name api.FlowName
	}

	// FlowFunc is a flow body. It is invoked once per pass over a run, and
	// every pass must reach the same steps in the same order for the steps
	// that have already succeeded
	FlowFunc func(*Context) (any, error)

	registry struct {
		mu    sync.RWMutex
		flows map[api.FlowName]*Definition
	}
)

var (
	ErrFlowNotFound  = errors.New("flow not found")
	ErrFlowExists    = errors.New("flow exists")
	ErrFlowNameEmpty = errors.New("flow name empty")
	ErrFlowNoBody    = errors.New("flow has no body")
)

func newRegistry() *registry {
	return &registry{
		flows: map[api.FlowName]*Definition{},
	}
}

// Register adds flow definitions to the engine. Registration is all or
// nothing: if any definition is invalid or its name is taken, none are
// added
func (e *Engine) Register(defs ...*Definition) error {
	return e.flows.add(defs...)
}

// GetFlow returns the named flow definition
func (e *Engine) GetFlow(name api.FlowName) (*Definition, error) {
	return e.flows.get(name)
}

// ListFlows returns the names of every registered flow, sorted
func (e *Engine) ListFlows() []api.FlowName {
	return e.flows.names()
}

func (r *registry) add(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[api.FlowName]bool{}
	for _, def := range defs {
		if err := def.validate(); err != nil {
			return err
		}
		if _, ok := r.flows[def.Name]; ok || seen[def.Name] {
			return fmt.Errorf("%w: %s", ErrFlowExists, def.Name)
		}
		seen[def.Name] = true
	}
	for _, def := range defs {
		r.flows[def.Name] = def
	}
	return nil
}

func (r *registry) get(name api.FlowName) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	return def, nil
}

func (r *registry) names() []api.FlowName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.flows))
}

func (d *Definition) validate() error {
	if d == nil || d.Name == "" {
		return ErrFlowNameEmpty
	}
	if d.Body == nil {
		return fmt.Errorf("%w: %s", ErrFlowNoBody, d.Name)
	}
	return nil
}
