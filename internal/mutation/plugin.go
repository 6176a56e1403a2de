// Package mutation turns source records into derived payloads through a
// priority-ordered list of plugins, falling back to a 1:1 transform.
package mutation

import (
	"github.com/cleared-dev/splitledger/internal/model"
)

// DefaultPriority is the priority of the built-in 1:1 transform. Plugins
// with a lower priority run first.
const DefaultPriority = 100

// DefaultPluginName names the built-in transform in outputs and logs.
const DefaultPluginName = "default"

// Result is what a plugin returns for one record. When Handled is false the
// registry ignores Payloads and moves on to the next plugin.
type Result struct {
	Payloads []model.DerivedPayload
	Handled  bool
}

// Plugin derives payloads for the source records it recognises.
type Plugin interface {
	// Name must be unique within a registry.
	Name() string
	// Priority orders plugins, lowest first.
	Priority() int
	// ShouldHandle is a cheap pre-check; heavy work belongs in Initialize.
	ShouldHandle(rec model.SourceRecord) bool
	// Process derives payloads for rec. previous holds the derived records
	// currently stored for rec, ordered by split index.
	Process(rec model.SourceRecord, previous []model.DerivedRecord) (Result, error)
}

// Initializer is implemented by plugins that precompute over the whole batch
// before any record is processed.
type Initializer interface {
	Initialize(records []model.SourceRecord) error
}
