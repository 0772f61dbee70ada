package flowopt

import "github.com/kode4food/tartan/pkg/api"

type (
	// Options contains optional parameters for starting a run
	Options struct {
		Input    any
		Metadata api.Metadata
		ID       api.RunID
	}

	// Applier mutates Options during StartRun setup
	Applier func(*Options)
)

// DefaultOptions returns an Options instance with defaults applied
func DefaultOptions(apps ...Applier) *Options {
	opt := &Options{
		Metadata: api.Metadata{},
	}
	ApplyOptions(opt, apps...)
	return opt
}

// ApplyOptions applies option appliers in order
func ApplyOptions(opt *Options, apps ...Applier) {
	for _, app := range apps {
		app(opt)
	}
}

// WithInput sets the run's input. Anything JSON-encodable is accepted
func WithInput(input any) Applier {
	return func(opt *Options) {
		opt.Input = input
	}
}

// WithMetadata sets the run metadata
func WithMetadata(meta api.Metadata) Applier {
	return func(opt *Options) {
		opt.Metadata = meta
	}
}

// WithRunID starts the run under a caller-chosen ID rather than a random
// one
func WithRunID(id api.RunID) Applier {
	return func(opt *Options) {
		opt.ID = id
	}
}

// FromRequest converts a start request into appliers
func FromRequest(req *api.StartRunRequest) []Applier {
	apps := []Applier{WithMetadata(req.Metadata)}
	if !req.Input.IsEmpty() {
		apps = append(apps, WithInput(req.Input))
	}
	if req.ID != "" {
		apps = append(apps, WithRunID(req.ID))
	}
	return apps
}
