package mutation

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/splitledger/internal/model"
)

// ErrNotInitialized is returned by Process before Initialize has run.
var ErrNotInitialized = errors.New("registry not initialized for batch")

// PluginError wraps a failure of one plugin on one record.
type PluginError struct {
	Plugin string
	Source model.SourceKey
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s on %s: %v", e.Plugin, e.Source, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Output is the payload set derived for one source record.
type Output struct {
	Source   model.SourceKey
	Plugin   string
	Payloads []model.DerivedPayload
}

// BatchResult collects outputs and per-record failures for a batch.
type BatchResult struct {
	Outputs  []Output
	Failures []*PluginError
}

// Registry runs plugins in priority order. It is not safe for concurrent use;
// a batch is Initialize followed by Process calls.
type Registry struct {
	plugins     []Plugin
	active      []Plugin
	names       map[string]bool
	log         zerolog.Logger
	initialized bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{names: make(map[string]bool), log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a plugin. Panics on duplicate name or on a priority at or
// above DefaultPriority, since the default transform always runs last.
// Plugins of equal priority keep registration order.
func (r *Registry) Register(p Plugin) {
	name := p.Name()
	if name == DefaultPluginName {
		panic("plugin name is reserved: " + name)
	}
	if r.names[name] {
		panic("duplicate plugin name: " + name)
	}
	if p.Priority() >= DefaultPriority {
		panic(fmt.Sprintf("plugin %s: priority %d must be below %d", name, p.Priority(), DefaultPriority))
	}
	r.names[name] = true
	r.plugins = append(r.plugins, p)
	slices.SortStableFunc(r.plugins, func(a, b Plugin) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})
	r.initialized = false
}

// Plugins returns registered plugins in run order.
func (r *Registry) Plugins() []Plugin {
	return slices.Clone(r.plugins)
}

// Initialize runs batch precomputation for every plugin. A plugin whose
// Initialize fails is left out of this batch; the others still run. The
// returned error joins all initialization failures.
func (r *Registry) Initialize(records []model.SourceRecord) error {
	r.active = r.active[:0]
	var errs []error
	for _, p := range r.plugins {
		if in, ok := p.(Initializer); ok {
			if err := in.Initialize(records); err != nil {
				r.log.Error().Err(err).Str("plugin", p.Name()).Msg("plugin initialization failed, disabled for batch")
				errs = append(errs, fmt.Errorf("initializing %s: %w", p.Name(), err))
				continue
			}
		}
		r.active = append(r.active, p)
	}
	r.initialized = true
	r.log.Debug().Int("records", len(records)).Int("plugins", len(r.active)).Msg("registry initialized")
	return errors.Join(errs...)
}

// Process derives payloads for one record. The first plugin that both wants
// the record and reports it handled wins; otherwise the default transform
// applies. previous holds the currently stored derived records for rec.
func (r *Registry) Process(rec model.SourceRecord, previous []model.DerivedRecord) (Output, error) {
	if !r.initialized {
		return Output{}, ErrNotInitialized
	}

	for _, p := range r.active {
		if !p.ShouldHandle(rec) {
			continue
		}
		res, err := invoke(p, rec, previous)
		if err != nil {
			return Output{}, &PluginError{Plugin: p.Name(), Source: rec.Key(), Err: err}
		}
		if !res.Handled {
			r.log.Debug().Str("plugin", p.Name()).Str("source", rec.Key().String()).Msg("plugin declined record")
			continue
		}
		if verrs := ValidatePayloads(rec, res.Payloads); len(verrs) > 0 {
			return Output{}, &PluginError{Plugin: p.Name(), Source: rec.Key(), Err: &ContractError{Violations: verrs}}
		}
		return Output{Source: rec.Key(), Plugin: p.Name(), Payloads: res.Payloads}, nil
	}

	return Output{Source: rec.Key(), Plugin: DefaultPluginName, Payloads: DefaultTransform(rec, previous)}, nil
}

// ProcessBatch initializes the registry over records and processes each one.
// A failing record is reported in Failures and does not stop the batch.
func (r *Registry) ProcessBatch(records []model.SourceRecord, previous map[model.SourceKey][]model.DerivedRecord) (*BatchResult, error) {
	initErr := r.Initialize(records)

	result := &BatchResult{}
	for _, rec := range records {
		out, err := r.Process(rec, previous[rec.Key()])
		if err != nil {
			var pe *PluginError
			if !errors.As(err, &pe) {
				return result, err
			}
			r.log.Warn().Err(err).Str("source", rec.Key().String()).Msg("record failed")
			result.Failures = append(result.Failures, pe)
			continue
		}
		result.Outputs = append(result.Outputs, out)
	}
	return result, initErr
}

// invoke calls p.Process, turning a panic into an error.
func invoke(p Plugin, rec model.SourceRecord, previous []model.DerivedRecord) (res Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return p.Process(rec, previous)
}
