package trainer

import (
	"github.com/photonml/photon/storage"
)

// Trainer is the per-process view of the training loop: loop counters, run
// configuration and the collaborators the connectors orchestrate. One
// trainer instance is owned by one thread of control; the connectors never
// lock.
type Trainer struct {
	Config Config

	// Loop counters. GlobalStep counts optimizer steps across epochs.
	GlobalStep   int
	CurrentEpoch int

	Module     Module
	DataModule DataModule
	Callbacks  []Callback
	Precision  PrecisionPlugin
	Strategy   Strategy
	Optimizers []Optimizer
	Schedulers []LRScheduler

	FS storage.Filesystem
}

// NewTrainer assembles a trainer around the mandatory collaborators.
func NewTrainer(cfg Config, module Module, strategy Strategy, fs storage.Filesystem) *Trainer {
	return &Trainer{
		Config:   cfg,
		Module:   module,
		Strategy: strategy,
		FS:       fs,
	}
}

// OnSaveCheckpoint collects per-callback state, in registration order.
func (t *Trainer) OnSaveCheckpoint(ck *Checkpoint) map[string]StateDict {
	states := make(map[string]StateDict, len(t.Callbacks))
	for _, cb := range t.Callbacks {
		if state := cb.OnSaveCheckpoint(ck); state != nil {
			states[cb.StateKey()] = state
		}
	}
	return states
}

// OnLoadCheckpoint distributes restored state to callbacks by state key, in
// registration order.
func (t *Trainer) OnLoadCheckpoint(states map[string]StateDict) {
	for _, cb := range t.Callbacks {
		if state, ok := states[cb.StateKey()]; ok {
			cb.OnLoadCheckpoint(state)
		}
	}
}

// accumulationFactor returns the gradient accumulation factor, defaulting
// to 1 when unset.
func (t *Trainer) accumulationFactor() int {
	if t.Config.AccumulateGradBatches <= 0 {
		return 1
	}
	return t.Config.AccumulateGradBatches
}
