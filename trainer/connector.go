package trainer

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	photon "github.com/photonml/photon"
	"github.com/photonml/photon/core/tensor"
	"github.com/photonml/photon/pkg/errors"
	"github.com/photonml/photon/pkg/log"
	"github.com/photonml/photon/storage"
)

// ResumeState is the connector's lifecycle state.
type ResumeState int

const (
	// StateIdle: no resume requested, no artifact held in memory.
	StateIdle ResumeState = iota
	// StateResumePending: a resume path is recorded but not yet read.
	StateResumePending
	// StateLoaded: the artifact is held in memory, restoration in flight.
	StateLoaded
	// StateRestored: all states restored, artifact about to be released.
	StateRestored
)

func (s ResumeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResumePending:
		return "resume-pending"
	case StateLoaded:
		return "loaded"
	case StateRestored:
		return "restored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const hpcPrefix = "hpc_ckpt_"

var nonDigits = regexp.MustCompile(`[^0-9]`)

// CheckpointConnector orchestrates checkpoint persistence and resume for
// one trainer: resume-path discovery, artifact deserialization, ordered
// state restoration, and saving, including crash-resilient HPC rotation
// checkpoints.
type CheckpointConnector struct {
	trainer *Trainer

	state      ResumeState
	resumePath string
	loaded     *Checkpoint
	hpcResumed bool
}

// NewCheckpointConnector creates a connector. A non-empty resumeFrom records
// a resume request without reading anything.
func NewCheckpointConnector(t *Trainer, resumeFrom string) *CheckpointConnector {
	c := &CheckpointConnector{trainer: t}
	if resumeFrom != "" {
		c.ResumeFromCheckpoint(resumeFrom)
	}
	return c
}

// State returns the connector's lifecycle state.
func (c *CheckpointConnector) State() ResumeState {
	return c.state
}

// LoadedCheckpoint returns the in-memory artifact, if one is held.
func (c *CheckpointConnector) LoadedCheckpoint() *Checkpoint {
	return c.loaded
}

// ResumeFromCheckpoint signals the trainer to resume from the given path
// the next time the loop starts. The path is recorded, not read.
func (c *CheckpointConnector) ResumeFromCheckpoint(path string) {
	c.resumePath = path
	c.state = StateResumePending
}

// HPCResumePath returns the most recent rotation checkpoint in the weights
// directory, or "" when there is none.
func (c *CheckpointConnector) HPCResumePath() string {
	dir := c.trainer.Config.WeightsSavePath
	maxIdx, ok := c.MaxCkptInFolder(dir, hpcPrefix)
	if !ok {
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("%s%d.ckpt", hpcPrefix, maxIdx))
}

// ResumeStart resolves the effective resume path, preferring the most
// recent HPC rotation checkpoint over the explicitly requested path, and
// reads the artifact into memory. Without any path it is a no-op.
func (c *CheckpointConnector) ResumeStart() error {
	if hpc := c.HPCResumePath(); hpc != "" {
		c.resumePath = hpc
		c.hpcResumed = true
		c.state = StateResumePending
	}
	if c.resumePath == "" {
		return nil
	}

	// free as much accelerator memory as possible before the read
	c.trainer.Strategy.ClearDeviceCache()

	if !c.trainer.FS.Exists(c.resumePath) {
		return errors.NewCheckpointNotFoundError(c.resumePath)
	}

	slog.Info("Restoring states from the checkpoint file", log.CheckpointPathKey, c.resumePath)
	var ck Checkpoint
	if err := c.trainer.FS.Load(c.resumePath, &ck); err != nil {
		return err
	}
	c.loaded = &ck
	c.state = StateLoaded
	return nil
}

// ResumeEnd releases the in-memory artifact and synchronizes the workers.
// No worker advances past the barrier until all of them restored.
func (c *CheckpointConnector) ResumeEnd() {
	slog.Info("Restored all states from the checkpoint file", log.CheckpointPathKey, c.resumePath)
	c.state = StateRestored
	c.resumePath = ""
	c.loaded = nil
	c.hpcResumed = false

	c.trainer.Strategy.ClearDeviceCache()
	c.trainer.Strategy.Barrier("CheckpointConnector.resume_end")
	c.state = StateIdle
}

// Restore loads the artifact at path and restores everything at once, in
// fixed order: datamodule, model weights, callbacks, precision state, loop
// counters, optimizers and schedulers.
func (c *CheckpointConnector) Restore(path string) error {
	c.ResumeFromCheckpoint(path)
	if err := c.ResumeStart(); err != nil {
		return err
	}

	if err := c.restoreDataModule(); err != nil {
		return err
	}
	if err := c.restoreModel(); err != nil {
		return err
	}
	if err := c.restoreCallbacks(); err != nil {
		return err
	}
	if err := c.restoreTrainingState(); err != nil {
		return err
	}
	c.ResumeEnd()
	return nil
}

// HPCLoad restores a rotation checkpoint.
func (c *CheckpointConnector) HPCLoad(path string) error {
	c.hpcResumed = true
	return c.Restore(path)
}

// RestoreModelWeights restores only the model weights from path, outside
// the resume state machine.
func (c *CheckpointConnector) RestoreModelWeights(path string) error {
	ck := c.loaded
	if path != "" {
		var loaded Checkpoint
		if err := c.trainer.FS.Load(path, &loaded); err != nil {
			return err
		}
		ck = &loaded
	}
	if ck == nil {
		return errors.NewValueError("CheckpointConnector.RestoreModelWeights",
			"no checkpoint loaded and no path given")
	}
	c.trainer.Module.OnLoadCheckpoint(ck)
	return c.trainer.Module.LoadStateDict(ck.StateDict)
}

func (c *CheckpointConnector) restoreDataModule() error {
	if c.loaded == nil || c.trainer.DataModule == nil {
		return nil
	}
	c.trainer.DataModule.OnLoadCheckpoint(c.loaded)
	return nil
}

func (c *CheckpointConnector) restoreModel() error {
	if c.loaded == nil || c.trainer.Strategy.RestoresModel() {
		return nil
	}
	module := c.trainer.Module
	module.OnLoadCheckpoint(c.loaded)
	if c.hpcResumed {
		module.OnHPCLoad(c.loaded)
	}
	return module.LoadStateDict(c.loaded.StateDict)
}

func (c *CheckpointConnector) restoreCallbacks() error {
	if c.loaded == nil {
		return nil
	}
	if keys := c.loaded.deprecatedKeys(); len(keys) > 0 {
		return errors.NewDeprecatedSchemaError(keys)
	}
	c.trainer.OnLoadCheckpoint(c.loaded.Callbacks)
	return nil
}

func (c *CheckpointConnector) restoreTrainingState() error {
	if c.loaded == nil {
		return nil
	}
	if c.trainer.Precision != nil {
		c.trainer.Precision.OnLoadCheckpoint(c.loaded)
	}
	if err := c.RestoreProgress(); err != nil {
		return err
	}
	return c.restoreOptimizersAndSchedulers()
}

// RestoreProgress restores the loop counters verbatim. A restored epoch
// beyond the configured ceiling fails before any counter is mutated.
// Resuming mid-epoch is allowed but flagged: accumulation restarts at epoch
// granularity, not at the exact mid-epoch batch.
func (c *CheckpointConnector) RestoreProgress() error {
	if c.loaded == nil {
		return nil
	}
	t := c.trainer
	if t.Config.MaxEpochs != nil && c.loaded.Epoch > *t.Config.MaxEpochs {
		return errors.NewConfigurationError("CheckpointConnector.RestoreProgress",
			fmt.Sprintf("you restored a checkpoint with current_epoch=%d but max_epochs=%d",
				c.loaded.Epoch, *t.Config.MaxEpochs))
	}
	t.GlobalStep = c.loaded.GlobalStep
	t.CurrentEpoch = c.loaded.Epoch

	// the division accounts for global step advancing once per accumulated
	// batch; the inequality tolerates odd vs even batch counts
	expectedSteps := float64(t.Config.NumTrainingBatches) / float64(t.accumulationFactor())
	if t.Config.NumTrainingBatches != 0 && math.Mod(float64(t.GlobalStep), expectedSteps) > 1 {
		errors.Warn(errors.NewMidEpochResumeWarning(t.GlobalStep, expectedSteps))
	}
	return nil
}

func (c *CheckpointConnector) restoreOptimizersAndSchedulers() error {
	if c.loaded == nil || c.trainer.Strategy.RestoresOptimizers() {
		return nil
	}
	if c.loaded.WeightsOnly() {
		missing := []string{"optimizer_states", "lr_schedulers"}
		return errors.NewMissingStateError(missing...)
	}
	if err := c.restoreOptimizers(); err != nil {
		return err
	}
	return c.restoreSchedulers()
}

func (c *CheckpointConnector) restoreOptimizers() error {
	dev := c.trainer.Strategy.RootDevice()
	states := c.loaded.OptimizerStates
	for i, opt := range c.trainer.Optimizers {
		if i >= len(states) {
			break
		}
		state := states[i]
		if dev.Kind != tensor.KindCPU {
			// one group at a time to bound peak memory
			for _, group := range state.ParamGroups {
				state.migrate(group, dev)
			}
		}
		if err := opt.LoadStateDict(state); err != nil {
			return err
		}
	}
	return nil
}

func (c *CheckpointConnector) restoreSchedulers() error {
	states := c.loaded.LRSchedulers
	for i, sch := range c.trainer.Schedulers {
		if i >= len(states) {
			break
		}
		if err := sch.LoadStateDict(states[i]); err != nil {
			return err
		}
	}
	return nil
}

// DumpCheckpoint builds the artifact from the component states. The saved
// global step is always the current value plus one, and the epoch counter
// advances unless the configured step ceiling has been reached: an epoch is
// only complete when max-steps would not immediately halt it.
func (c *CheckpointConnector) DumpCheckpoint(weightsOnly bool) (*Checkpoint, error) {
	t := c.trainer

	epoch := t.CurrentEpoch
	globalStep := t.GlobalStep
	reachedMaxSteps := t.Config.MaxSteps != nil && *t.Config.MaxSteps <= globalStep

	globalStep++
	if !reachedMaxSteps {
		epoch++
	}

	ck := &Checkpoint{
		Epoch:       epoch,
		GlobalStep:  globalStep,
		Version:     photon.Version,
		OnlyWeights: weightsOnly,
		StateDict:   t.Strategy.ModuleStateDict(),
	}

	if !weightsOnly {
		ck.Callbacks = t.OnSaveCheckpoint(ck)

		optimizerStates := make([]OptimizerState, 0, len(t.Optimizers))
		for _, opt := range t.Optimizers {
			// the strategy dumps optimizer state so it is device-appropriate
			state, err := t.Strategy.OptimizerState(opt)
			if err != nil {
				return nil, err
			}
			optimizerStates = append(optimizerStates, state)
		}
		ck.OptimizerStates = optimizerStates

		schedulerStates := make([]StateDict, 0, len(t.Schedulers))
		for _, sch := range t.Schedulers {
			schedulerStates = append(schedulerStates, sch.StateDict())
		}
		ck.LRSchedulers = schedulerStates

		if t.Precision != nil {
			t.Precision.OnSaveCheckpoint(ck)
		}
	}

	if name, params, typeTag := t.Module.HyperParameters(); params != nil {
		ck.HParamsName = name
		ck.HParams = params
		ck.HParamsType = typeTag
	}

	// the model and the datamodule get a final chance to attach keys
	t.Module.OnSaveCheckpoint(ck)
	if t.DataModule != nil {
		ck.DataModuleName = t.DataModule.Name()
		t.DataModule.OnSaveCheckpoint(ck)
	}
	return ck, nil
}

// SaveCheckpoint builds the dump and delegates the physical write to the
// strategy.
func (c *CheckpointConnector) SaveCheckpoint(path string, weightsOnly bool) error {
	ck, err := c.DumpCheckpoint(weightsOnly)
	if err != nil {
		return err
	}
	slog.Info("Saving checkpoint",
		log.CheckpointPathKey, path,
		log.WeightsOnlyKey, weightsOnly,
		log.GlobalStepKey, ck.GlobalStep,
		log.EpochKey, ck.Epoch)
	return c.trainer.Strategy.SaveCheckpoint(ck, path)
}

// HPCSave writes the next rotation checkpoint into dir and returns its
// path. The experiment logger is flushed first so in-flight metrics are not
// lost. A write failing on a non-serializable attachment is retried once
// with the hyperparameters stripped, surfacing a warning instead of
// failing the save.
func (c *CheckpointConnector) HPCSave(dir string, logger ExperimentLogger) (string, error) {
	t := c.trainer
	if err := t.FS.MakeDirs(dir); err != nil {
		return "", err
	}
	if logger != nil {
		if err := logger.Save(); err != nil {
			return "", err
		}
	}

	maxIdx, ok := c.MaxCkptInFolder(dir, hpcPrefix)
	if !ok {
		maxIdx = 0
	}
	path := filepath.Join(dir, fmt.Sprintf("%s%d.ckpt", hpcPrefix, maxIdx+1))

	ck, err := c.DumpCheckpoint(false)
	if err != nil {
		return "", err
	}
	t.Module.OnHPCSave(ck)
	ck = t.Strategy.OnSave(ck)

	if err := t.FS.Save(ck, path); err != nil {
		var nonSer *errors.NonSerializableError
		if !errors.As(err, &nonSer) || ck.HParams == nil {
			return "", err
		}
		ck.HParams = nil
		ck.HParamsName = ""
		ck.HParamsType = ""
		errors.Warn(errors.NewDroppedHyperParamsWarning(err))
		if err := t.FS.Save(ck, path); err != nil {
			return "", err
		}
	}
	return path, nil
}

// MaxCkptInFolder scans the trainer's filesystem for rotation indices.
func (c *CheckpointConnector) MaxCkptInFolder(dir, prefix string) (int, bool) {
	return MaxCkptInFolder(c.trainer.FS, dir, prefix)
}

// GetMaxCkptPathFromFolder resolves the path of the most recent rotation
// checkpoint in dir.
func (c *CheckpointConnector) GetMaxCkptPathFromFolder(dir string) string {
	return MaxCkptPathFromFolder(c.trainer.FS, dir)
}

// MaxCkptInFolder scans dir for names containing prefix, parses the digits
// of each remainder as a rotation index and returns the maximum. ok is
// false when the directory is absent or holds no match.
func MaxCkptInFolder(fs storage.Filesystem, dir, prefix string) (int, bool) {
	if !fs.Exists(dir) {
		return 0, false
	}
	entries, err := fs.ListDir(dir)
	if err != nil {
		return 0, false
	}

	found := false
	maxIdx := 0
	for _, e := range entries {
		name := filepath.Base(e.Name)
		if !strings.Contains(name, prefix) {
			continue
		}
		parts := strings.Split(name, prefix)
		digits := nonDigits.ReplaceAllString(parts[len(parts)-1], "")
		idx, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if !found || idx > maxIdx {
			maxIdx = idx
			found = true
		}
	}
	return maxIdx, found
}

// MaxCkptPathFromFolder resolves the path of the most recent rotation
// checkpoint in dir. With no match the index defaults to zero.
func MaxCkptPathFromFolder(fs storage.Filesystem, dir string) string {
	maxIdx, ok := MaxCkptInFolder(fs, dir, hpcPrefix)
	if !ok {
		maxIdx = 0
	}
	return filepath.Join(dir, fmt.Sprintf("%s%d.ckpt", hpcPrefix, maxIdx))
}
