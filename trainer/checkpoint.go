package trainer

import (
	"encoding/gob"

	"github.com/photonml/photon/core/tensor"
)

func init() {
	// concrete types carried inside StateDict values must be known to gob
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(&tensor.Tensor{})
	gob.Register([]float64{})
	gob.Register([]int{})
	gob.Register(map[string]float64{})
}

// Legacy artifact keys from the schema that predates per-callback state.
// Checkpoints carrying any of them must be upgraded before resuming.
var deprecatedCheckpointKeys = []string{
	"checkpoint_callback_best_model_score",
	"checkpoint_callback_best_model_path",
	"early_stop_callback_wait",
	"early_stop_callback_patience",
}

// Checkpoint is the single on-disk artifact holding the entire trainable
// state. Epoch and GlobalStep record the step about to run next, not the
// last completed one. OnlyWeights marks an artifact without optimizer and
// scheduler state, insufficient for a full-state resume.
type Checkpoint struct {
	Epoch      int
	GlobalStep int
	Version    string

	// OnlyWeights is recorded explicitly: gob drops zero-length slices,
	// so a full dump from a trainer with no optimizers would otherwise be
	// indistinguishable from a weights-only one after a round trip.
	OnlyWeights bool

	// StateDict holds the model weights.
	StateDict map[string]*tensor.Tensor

	// Callbacks maps callback state keys to per-callback state.
	Callbacks map[string]StateDict

	// OptimizerStates and LRSchedulers are ordered like the trainer's
	// optimizer and scheduler lists.
	OptimizerStates []OptimizerState
	LRSchedulers    []StateDict

	// ScalerState is the precision plugin's gradient-scaling state.
	ScalerState StateDict

	// Hyperparameters, with a type tag allowing exact reconstruction of
	// structured containers.
	HParamsName string
	HParams     StateDict
	HParamsType string

	// Datamodule state, keyed by the datamodule's name.
	DataModuleName  string
	DataModuleState StateDict

	// Extra carries free-form model-defined keys.
	Extra map[string]any
}

// SetExtra attaches a model-defined key to the artifact.
func (ck *Checkpoint) SetExtra(key string, value any) {
	if ck.Extra == nil {
		ck.Extra = make(map[string]any)
	}
	ck.Extra[key] = value
}

// GetExtra reads a model-defined key.
func (ck *Checkpoint) GetExtra(key string) (any, bool) {
	v, ok := ck.Extra[key]
	return v, ok
}

// WeightsOnly reports whether the artifact lacks optimizer and scheduler
// state.
func (ck *Checkpoint) WeightsOnly() bool {
	return ck.OnlyWeights
}

// deprecatedKeys returns the legacy schema markers present in the artifact.
func (ck *Checkpoint) deprecatedKeys() []string {
	var found []string
	for _, key := range deprecatedCheckpointKeys {
		if _, ok := ck.Extra[key]; ok {
			found = append(found, key)
		}
	}
	return found
}

// OptimizerState is one optimizer's serialized state: its parameter groups
// and the per-parameter buffers (momentum, variance and similar).
type OptimizerState struct {
	ParamGroups []ParamGroup
	State       map[string]map[string]*tensor.Tensor
}

// ParamGroup mirrors one optimizer parameter group.
type ParamGroup struct {
	LearningRate float64
	Params       []string
	Options      map[string]float64
}

// migrate relocates the buffers of every parameter in one group. Groups are
// migrated one at a time to bound peak memory.
func (s *OptimizerState) migrate(group ParamGroup, dev tensor.Device) {
	for _, param := range group.Params {
		buffers := s.State[param]
		for name, t := range buffers {
			if t != nil {
				buffers[name] = t.To(dev)
			}
		}
	}
}
