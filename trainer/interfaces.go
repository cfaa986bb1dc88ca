// Package trainer holds the training-loop state shared by Photon's
// connectors and the contracts of its external collaborators: the module
// being trained, optimizers and schedulers, callbacks, the precision
// plugin, the datamodule and the execution strategy.
package trainer

import (
	"github.com/photonml/photon/core/tensor"
)

// StateDict is a free-form serializable state mapping.
type StateDict = map[string]any

// Module is the trainable unit: it owns the weights and gets hooks around
// checkpoint save and load, including the HPC-specific pair invoked for
// rotation checkpoints.
type Module interface {
	// LoadStateDict installs model weights.
	LoadStateDict(state map[string]*tensor.Tensor) error

	// OnSaveCheckpoint lets the module inject arbitrary additional keys
	// into the artifact just before it is written.
	OnSaveCheckpoint(ck *Checkpoint)

	// OnLoadCheckpoint gives the module access to the artifact before its
	// weights are restored.
	OnLoadCheckpoint(ck *Checkpoint)

	// OnHPCSave and OnHPCLoad are the rotation-checkpoint hook pair.
	OnHPCSave(ck *Checkpoint)
	OnHPCLoad(ck *Checkpoint)

	// HyperParameters returns the module's hyperparameter container, its
	// registered name and a type tag allowing exact reconstruction of
	// structured containers. A nil mapping means none were registered.
	HyperParameters() (name string, params StateDict, typeTag string)
}

// DataModule is the optional data pipeline with its own checkpoint hooks.
type DataModule interface {
	Name() string
	OnSaveCheckpoint(ck *Checkpoint)
	OnLoadCheckpoint(ck *Checkpoint)
}

// Callback receives symmetric save/load hooks, invoked once each in
// registration order. StateKey distinguishes instances of the same type.
type Callback interface {
	StateKey() string
	OnSaveCheckpoint(ck *Checkpoint) StateDict
	OnLoadCheckpoint(state StateDict)
}

// PrecisionPlugin persists and restores gradient-scaling state.
type PrecisionPlugin interface {
	OnSaveCheckpoint(ck *Checkpoint)
	OnLoadCheckpoint(ck *Checkpoint)
}

// Optimizer is the optimizer state-dict contract.
type Optimizer interface {
	StateDict() OptimizerState
	LoadStateDict(state OptimizerState) error
}

// LRScheduler is the scheduler state-dict contract.
type LRScheduler interface {
	StateDict() StateDict
	LoadStateDict(state StateDict) error
}

// Strategy abstracts single/multi-device and distributed execution. It
// produces device-appropriate state and performs cross-worker
// synchronization.
type Strategy interface {
	// RestoresModel reports that the strategy restores model state itself,
	// in which case the connector skips weight restoration.
	RestoresModel() bool

	// RestoresOptimizers reports that the strategy owns optimizer and
	// scheduler restoration.
	RestoresOptimizers() bool

	// ModuleStateDict returns a device-appropriate copy of the model
	// weights for serialization.
	ModuleStateDict() map[string]*tensor.Tensor

	// OptimizerState returns a device-appropriate representation of one
	// optimizer's state.
	OptimizerState(opt Optimizer) (OptimizerState, error)

	// OnSave transforms the artifact right before a write.
	OnSave(ck *Checkpoint) *Checkpoint

	// SaveCheckpoint performs the physical write. The write must be
	// atomic with respect to process crash.
	SaveCheckpoint(ck *Checkpoint, path string) error

	// Barrier blocks until every cooperating worker reached the same tag.
	Barrier(tag string)

	// ClearDeviceCache drops cached accelerator memory.
	ClearDeviceCache()

	// RootDevice is the device restored state is migrated to.
	RootDevice() tensor.Device
}

// ExperimentLogger is the external metrics logger; it is flushed before a
// rotation checkpoint so in-flight metrics are not lost.
type ExperimentLogger interface {
	Save() error
}
