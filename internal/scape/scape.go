// Package scape hosts the simulated environments agents train against. A
// scape owns the world state for a whole population and exposes it one
// snapshot per tick.
package scape

import "paideia/internal/model"

// Spec describes the observation and action surface a scape exposes, so the
// platform can size a policy before the first snapshot.
type Spec struct {
	Name          string
	ObsSize       int
	NumActions    int
	MaxPopulation int
}

type Scape interface {
	Name() string
	Spec() Spec

	// Reset discards all world state and returns the initial snapshot.
	Reset() model.Snapshot

	// Step advances the world one tick under the given per-agent outputs and
	// returns the next snapshot. Outputs are aligned with the snapshot the
	// caller most recently observed; the returned snapshot's agent set may
	// differ from it.
	Step(outputs model.ActionOutputs) (model.Snapshot, error)
}
