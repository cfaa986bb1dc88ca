package trainer

import (
	"path/filepath"
	"testing"

	"github.com/photonml/photon/core/tensor"
	"github.com/photonml/photon/pkg/errors"
	"github.com/photonml/photon/storage"
)

// events is a shared ordered log the fakes append to, for asserting the
// restoration sequence.
type events struct {
	seq []string
}

func (e *events) add(name string) {
	e.seq = append(e.seq, name)
}

type fakeModule struct {
	ev      *events
	weights map[string]*tensor.Tensor

	hparamsName string
	hparams     StateDict
	hparamsType string
}

func (m *fakeModule) LoadStateDict(state map[string]*tensor.Tensor) error {
	m.ev.add("module.load")
	m.weights = state
	return nil
}

func (m *fakeModule) OnSaveCheckpoint(ck *Checkpoint) { m.ev.add("module.on_save") }
func (m *fakeModule) OnLoadCheckpoint(ck *Checkpoint) { m.ev.add("module.on_load") }
func (m *fakeModule) OnHPCSave(ck *Checkpoint)        { m.ev.add("module.on_hpc_save") }
func (m *fakeModule) OnHPCLoad(ck *Checkpoint)        { m.ev.add("module.on_hpc_load") }

func (m *fakeModule) HyperParameters() (string, StateDict, string) {
	return m.hparamsName, m.hparams, m.hparamsType
}

type fakeDataModule struct {
	ev *events
}

func (d *fakeDataModule) Name() string                    { return "mnist" }
func (d *fakeDataModule) OnSaveCheckpoint(ck *Checkpoint) { d.ev.add("datamodule.on_save") }
func (d *fakeDataModule) OnLoadCheckpoint(ck *Checkpoint) { d.ev.add("datamodule.on_load") }

type fakeCallback struct {
	key    string
	state  StateDict
	loaded StateDict
}

func (c *fakeCallback) StateKey() string { return c.key }

func (c *fakeCallback) OnSaveCheckpoint(ck *Checkpoint) StateDict { return c.state }
func (c *fakeCallback) OnLoadCheckpoint(state StateDict)          { c.loaded = state }

type fakePrecision struct {
	ev *events
}

func (p *fakePrecision) OnSaveCheckpoint(ck *Checkpoint) {
	ck.ScalerState = StateDict{"scale": 1024.0}
}

func (p *fakePrecision) OnLoadCheckpoint(ck *Checkpoint) { p.ev.add("precision.on_load") }

type fakeOptimizer struct {
	ev     *events
	state  OptimizerState
	loaded *OptimizerState
}

func (o *fakeOptimizer) StateDict() OptimizerState { return o.state }

func (o *fakeOptimizer) LoadStateDict(state OptimizerState) error {
	o.ev.add("optimizer.load")
	o.loaded = &state
	return nil
}

type fakeScheduler struct {
	ev     *events
	state  StateDict
	loaded StateDict
}

func (s *fakeScheduler) StateDict() StateDict { return s.state }

func (s *fakeScheduler) LoadStateDict(state StateDict) error {
	s.ev.add("scheduler.load")
	s.loaded = state
	return nil
}

type fakeStrategy struct {
	ev *events
	fs storage.Filesystem

	restoresModel      bool
	restoresOptimizers bool
	rootDevice         tensor.Device

	barriers []string
}

func (s *fakeStrategy) RestoresModel() bool      { return s.restoresModel }
func (s *fakeStrategy) RestoresOptimizers() bool { return s.restoresOptimizers }

func (s *fakeStrategy) ModuleStateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"layer.weight": tensor.Vector(0.1, 0.2)}
}

func (s *fakeStrategy) OptimizerState(opt Optimizer) (OptimizerState, error) {
	return opt.StateDict(), nil
}

func (s *fakeStrategy) OnSave(ck *Checkpoint) *Checkpoint { return ck }

func (s *fakeStrategy) SaveCheckpoint(ck *Checkpoint, path string) error {
	return s.fs.Save(ck, path)
}

func (s *fakeStrategy) Barrier(tag string) {
	s.ev.add("barrier")
	s.barriers = append(s.barriers, tag)
}

func (s *fakeStrategy) ClearDeviceCache() {}

func (s *fakeStrategy) RootDevice() tensor.Device {
	return s.rootDevice
}

type fakeLogger struct {
	saves int
}

func (l *fakeLogger) Save() error {
	l.saves++
	return nil
}

// testHarness bundles a trainer, its fakes and a connector over a temp dir.
type testHarness struct {
	ev        *events
	trainer   *Trainer
	connector *CheckpointConnector
	module    *fakeModule
	strategy  *fakeStrategy
	optimizer *fakeOptimizer
	scheduler *fakeScheduler
	callback  *fakeCallback
	precision *fakePrecision
	dir       string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ev := &events{}
	fs := storage.NewLocalFS()
	dir := t.TempDir()

	module := &fakeModule{ev: ev}
	strategy := &fakeStrategy{ev: ev, fs: fs}
	optimizer := &fakeOptimizer{ev: ev, state: OptimizerState{
		ParamGroups: []ParamGroup{{
			LearningRate: 0.01,
			Params:       []string{"layer.weight"},
		}},
		State: map[string]map[string]*tensor.Tensor{
			"layer.weight": {"momentum": tensor.Vector(0.5, 0.5)},
		},
	}}
	scheduler := &fakeScheduler{ev: ev, state: StateDict{"last_epoch": 3}}
	callback := &fakeCallback{key: "EarlyStopping", state: StateDict{"wait": 2.0}}
	precision := &fakePrecision{ev: ev}

	cfg := DefaultConfig()
	cfg.WeightsSavePath = filepath.Join(dir, "weights")

	tr := NewTrainer(cfg, module, strategy, fs)
	tr.DataModule = &fakeDataModule{ev: ev}
	tr.Callbacks = []Callback{callback}
	tr.Precision = precision
	tr.Optimizers = []Optimizer{optimizer}
	tr.Schedulers = []LRScheduler{scheduler}

	return &testHarness{
		ev:        ev,
		trainer:   tr,
		connector: NewCheckpointConnector(tr, ""),
		module:    module,
		strategy:  strategy,
		optimizer: optimizer,
		scheduler: scheduler,
		callback:  callback,
		precision: precision,
		dir:       dir,
	}
}

func silenceWarnings(t *testing.T) *[]error {
	t.Helper()
	var captured []error
	errors.SetWarningHandler(func(w error) {
		captured = append(captured, w)
	})
	t.Cleanup(func() {
		errors.SetWarningHandler(func(w error) {})
	})
	return &captured
}

func TestDumpCheckpointArithmetic(t *testing.T) {
	h := newHarness(t)
	h.trainer.CurrentEpoch = 4
	h.trainer.GlobalStep = 100

	ck, err := h.connector.DumpCheckpoint(false)
	if err != nil {
		t.Fatal(err)
	}
	if ck.GlobalStep != 101 {
		t.Errorf("GlobalStep = %d, want 101", ck.GlobalStep)
	}
	if ck.Epoch != 5 {
		t.Errorf("Epoch = %d, want 5", ck.Epoch)
	}
}

func TestDumpCheckpointMaxStepsReached(t *testing.T) {
	h := newHarness(t)
	h.trainer.CurrentEpoch = 4
	h.trainer.GlobalStep = 100
	maxSteps := 100
	h.trainer.Config.MaxSteps = &maxSteps

	ck, err := h.connector.DumpCheckpoint(false)
	if err != nil {
		t.Fatal(err)
	}
	if ck.GlobalStep != 101 {
		t.Errorf("GlobalStep = %d, want 101 regardless of the step ceiling", ck.GlobalStep)
	}
	if ck.Epoch != 4 {
		t.Errorf("Epoch = %d, want 4: the epoch did not complete", ck.Epoch)
	}
}

func TestDumpCheckpointContents(t *testing.T) {
	h := newHarness(t)
	h.module.hparamsName = "hparams"
	h.module.hparams = StateDict{"lr": 0.01}
	h.module.hparamsType = "dict"

	ck, err := h.connector.DumpCheckpoint(false)
	if err != nil {
		t.Fatal(err)
	}
	if ck.WeightsOnly() {
		t.Error("full dump must carry optimizer and scheduler state")
	}
	if len(ck.OptimizerStates) != 1 || len(ck.LRSchedulers) != 1 {
		t.Errorf("optimizers=%d schedulers=%d, want 1 and 1",
			len(ck.OptimizerStates), len(ck.LRSchedulers))
	}
	if _, ok := ck.Callbacks["EarlyStopping"]; !ok {
		t.Error("dump must collect per-callback state under its state key")
	}
	if ck.ScalerState == nil {
		t.Error("dump must include the precision plugin's state")
	}
	if ck.HParamsName != "hparams" || ck.HParams == nil {
		t.Error("dump must attach registered hyperparameters")
	}
	if ck.DataModuleName != "mnist" {
		t.Errorf("DataModuleName = %q, want mnist", ck.DataModuleName)
	}
	if len(ck.StateDict) == 0 {
		t.Error("dump must carry the module state dict")
	}
}

func TestDumpWeightsOnly(t *testing.T) {
	h := newHarness(t)
	ck, err := h.connector.DumpCheckpoint(true)
	if err != nil {
		t.Fatal(err)
	}
	if !ck.WeightsOnly() {
		t.Error("weights-only dump must omit optimizer and scheduler state")
	}
	if len(ck.Callbacks) != 0 {
		t.Error("weights-only dump must omit callback state")
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	save := newHarness(t)
	save.trainer.CurrentEpoch = 2
	save.trainer.GlobalStep = 10

	path := filepath.Join(save.dir, "run.ckpt")
	if err := save.connector.SaveCheckpoint(path, false); err != nil {
		t.Fatal(err)
	}

	restore := newHarness(t)
	if err := restore.connector.Restore(path); err != nil {
		t.Fatal(err)
	}

	if restore.trainer.GlobalStep != 11 || restore.trainer.CurrentEpoch != 3 {
		t.Errorf("counters = (%d, %d), want (11, 3)",
			restore.trainer.GlobalStep, restore.trainer.CurrentEpoch)
	}
	if restore.module.weights == nil {
		t.Error("restore must install module weights")
	}
	if restore.callback.loaded == nil {
		t.Error("restore must distribute callback state")
	}
	if restore.optimizer.loaded == nil {
		t.Error("restore must load optimizer state")
	}
	if restore.scheduler.loaded == nil {
		t.Error("restore must load scheduler state")
	}
	if len(restore.strategy.barriers) != 1 || restore.strategy.barriers[0] != "CheckpointConnector.resume_end" {
		t.Errorf("barriers = %v, want the resume_end tag once", restore.strategy.barriers)
	}
	if restore.connector.State() != StateIdle {
		t.Errorf("state = %v, want idle after restore", restore.connector.State())
	}
	if restore.connector.LoadedCheckpoint() != nil {
		t.Error("restore must release the artifact")
	}
}

// A full dump from a trainer without optimizers must still restore as a
// full-state artifact. Gob drops zero-length slices, so nilness of the
// state slices cannot be what distinguishes a weights-only checkpoint.
func TestZeroOptimizerFullStateRestore(t *testing.T) {
	save := newHarness(t)
	save.trainer.Optimizers = nil
	save.trainer.Schedulers = nil

	path := filepath.Join(save.dir, "run.ckpt")
	if err := save.connector.SaveCheckpoint(path, false); err != nil {
		t.Fatal(err)
	}

	restore := newHarness(t)
	restore.trainer.Optimizers = nil
	restore.trainer.Schedulers = nil
	if err := restore.connector.Restore(path); err != nil {
		t.Fatalf("Restore() = %v, want success for a full dump", err)
	}

	ck := &Checkpoint{}
	if err := restore.trainer.FS.Load(path, ck); err != nil {
		t.Fatal(err)
	}
	if ck.WeightsOnly() {
		t.Error("a full dump must not read back as weights-only")
	}
}

func TestRestoreOrder(t *testing.T) {
	save := newHarness(t)
	path := filepath.Join(save.dir, "run.ckpt")
	if err := save.connector.SaveCheckpoint(path, false); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	if err := h.connector.Restore(path); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"datamodule.on_load",
		"module.on_load",
		"module.load",
		"precision.on_load",
		"optimizer.load",
		"scheduler.load",
		"barrier",
	}
	if len(h.ev.seq) != len(want) {
		t.Fatalf("event sequence = %v, want %v", h.ev.seq, want)
	}
	for i, name := range want {
		if h.ev.seq[i] != name {
			t.Fatalf("event[%d] = %q, want %q (full sequence %v)", i, h.ev.seq[i], name, h.ev.seq)
		}
	}
}

func TestRestoreNotFound(t *testing.T) {
	h := newHarness(t)
	err := h.connector.Restore(filepath.Join(h.dir, "missing.ckpt"))
	if err == nil {
		t.Fatal("restore from a missing path must fail")
	}
	var nf *errors.CheckpointNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("error = %v, want *CheckpointNotFoundError", err)
	}
}

func TestResumeFromCheckpointIsLazy(t *testing.T) {
	h := newHarness(t)
	h.connector.ResumeFromCheckpoint(filepath.Join(h.dir, "missing.ckpt"))

	if h.connector.State() != StateResumePending {
		t.Errorf("state = %v, want resume-pending", h.connector.State())
	}
	if h.connector.LoadedCheckpoint() != nil {
		t.Error("signalling a resume must not read the file")
	}
}

func TestResumePriorityHPCOverExplicit(t *testing.T) {
	h := newHarness(t)

	// explicit checkpoint at epoch 1
	h.trainer.CurrentEpoch = 0
	explicit := filepath.Join(h.dir, "explicit.ckpt")
	if err := h.connector.SaveCheckpoint(explicit, false); err != nil {
		t.Fatal(err)
	}

	// rotation checkpoint at epoch 8 in the weights dir
	h.trainer.CurrentEpoch = 7
	if _, err := h.connector.HPCSave(h.trainer.Config.WeightsSavePath, nil); err != nil {
		t.Fatal(err)
	}
	h.trainer.CurrentEpoch = 0
	h.trainer.GlobalStep = 0
	h.ev.seq = nil

	if err := h.connector.Restore(explicit); err != nil {
		t.Fatal(err)
	}
	if h.trainer.CurrentEpoch != 8 {
		t.Errorf("CurrentEpoch = %d, want 8: the rotation checkpoint outranks the explicit path",
			h.trainer.CurrentEpoch)
	}

	hpcLoaded := false
	for _, e := range h.ev.seq {
		if e == "module.on_hpc_load" {
			hpcLoaded = true
		}
	}
	if !hpcLoaded {
		t.Error("resuming a rotation checkpoint must fire the HPC load hook")
	}
}

func TestRestoreProgressEpochCeiling(t *testing.T) {
	save := newHarness(t)
	save.trainer.CurrentEpoch = 7
	path := filepath.Join(save.dir, "late.ckpt")
	if err := save.connector.SaveCheckpoint(path, false); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	maxEpochs := 5
	h.trainer.Config.MaxEpochs = &maxEpochs

	err := h.connector.Restore(path)
	if err == nil {
		t.Fatal("restoring an epoch beyond the ceiling must fail")
	}
	var ce *errors.ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("error = %v, want *ConfigurationError", err)
	}
	if h.trainer.CurrentEpoch != 0 || h.trainer.GlobalStep != 0 {
		t.Errorf("counters mutated to (%d, %d) despite the failure",
			h.trainer.GlobalStep, h.trainer.CurrentEpoch)
	}
}

func TestMidEpochResumeWarning(t *testing.T) {
	tests := []struct {
		name       string
		globalStep int
		accum      int
		wantWarn   bool
	}{
		{name: "aligned", globalStep: 19, wantWarn: false},
		{name: "one step in", globalStep: 20, wantWarn: false},
		{name: "mid epoch", globalStep: 24, wantWarn: true},
		{name: "mid epoch with accumulation", globalStep: 7, accum: 2, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captured := silenceWarnings(t)

			save := newHarness(t)
			save.trainer.GlobalStep = tt.globalStep
			path := filepath.Join(save.dir, "ck.ckpt")
			if err := save.connector.SaveCheckpoint(path, false); err != nil {
				t.Fatal(err)
			}

			h := newHarness(t)
			h.trainer.Config.NumTrainingBatches = 10
			if tt.accum != 0 {
				h.trainer.Config.AccumulateGradBatches = tt.accum
			}
			if err := h.connector.Restore(path); err != nil {
				t.Fatal(err)
			}

			warned := false
			for _, w := range *captured {
				var mw *errors.MidEpochResumeWarning
				if errors.As(w, &mw) {
					warned = true
				}
			}
			if warned != tt.wantWarn {
				t.Errorf("warned = %v, want %v (restored step %d)", warned, tt.wantWarn, tt.globalStep+1)
			}
		})
	}
}

func TestRestoreMissingState(t *testing.T) {
	save := newHarness(t)
	path := filepath.Join(save.dir, "weights.ckpt")
	if err := save.connector.SaveCheckpoint(path, true); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	err := h.connector.Restore(path)
	if err == nil {
		t.Fatal("full restore from a weights-only artifact must fail")
	}
	var ms *errors.MissingStateError
	if !errors.As(err, &ms) {
		t.Fatalf("error = %v, want *MissingStateError", err)
	}
	if len(ms.Missing) != 2 {
		t.Errorf("Missing = %v, want both optimizer_states and lr_schedulers", ms.Missing)
	}
}

func TestRestoreDeprecatedSchema(t *testing.T) {
	h := newHarness(t)
	ck, err := h.connector.DumpCheckpoint(false)
	if err != nil {
		t.Fatal(err)
	}
	ck.SetExtra("early_stop_callback_wait", 3.0)
	path := filepath.Join(h.dir, "legacy.ckpt")
	if err := h.trainer.FS.Save(ck, path); err != nil {
		t.Fatal(err)
	}

	err = h.connector.Restore(path)
	if err == nil {
		t.Fatal("restoring a legacy-schema artifact must fail")
	}
	var ds *errors.DeprecatedSchemaError
	if !errors.As(err, &ds) {
		t.Errorf("error = %v, want *DeprecatedSchemaError", err)
	}
}

func TestStrategyOwnedRestoration(t *testing.T) {
	save := newHarness(t)
	path := filepath.Join(save.dir, "weights.ckpt")
	if err := save.connector.SaveCheckpoint(path, true); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	h.strategy.restoresModel = true
	h.strategy.restoresOptimizers = true

	// a weights-only artifact restores cleanly when the strategy owns both
	if err := h.connector.Restore(path); err != nil {
		t.Fatal(err)
	}
	if h.module.weights != nil {
		t.Error("connector must not install weights when the strategy restores the model")
	}
	if h.optimizer.loaded != nil {
		t.Error("connector must not load optimizer state when the strategy owns it")
	}
}

func TestHPCRotation(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.dir, "hpc")
	logger := &fakeLogger{}

	first, err := h.connector.HPCSave(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "hpc_ckpt_1.ckpt" {
		t.Errorf("first rotation = %q, want hpc_ckpt_1.ckpt", filepath.Base(first))
	}
	if logger.saves != 1 {
		t.Errorf("logger saves = %d, want 1: flushed before the write", logger.saves)
	}

	second, err := h.connector.HPCSave(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(second) != "hpc_ckpt_2.ckpt" {
		t.Errorf("second rotation = %q, want hpc_ckpt_2.ckpt", filepath.Base(second))
	}
}

func TestMaxCkptInFolderParsing(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.dir, "scan")
	fs := h.trainer.FS
	if err := fs.MakeDirs(dir); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"hpc_ckpt_3.ckpt", "hpc_ckpt_7.ckpt", "other_2.ckpt", "notes.txt"} {
		if err := fs.Save(struct{ X int }{}, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}

	maxIdx, ok := h.connector.MaxCkptInFolder(dir, "hpc_ckpt_")
	if !ok || maxIdx != 7 {
		t.Errorf("MaxCkptInFolder = (%d, %v), want (7, true)", maxIdx, ok)
	}
	if got := filepath.Base(h.connector.GetMaxCkptPathFromFolder(dir)); got != "hpc_ckpt_7.ckpt" {
		t.Errorf("GetMaxCkptPathFromFolder = %q, want hpc_ckpt_7.ckpt", got)
	}

	if _, ok := h.connector.MaxCkptInFolder(filepath.Join(h.dir, "absent"), "hpc_ckpt_"); ok {
		t.Error("a missing directory must report no match")
	}
	if got := filepath.Base(h.connector.GetMaxCkptPathFromFolder(filepath.Join(h.dir, "empty"))); got != "hpc_ckpt_0.ckpt" {
		t.Errorf("path with no match = %q, want index 0", got)
	}
}

func TestHPCSaveDropsHParamsOnRetry(t *testing.T) {
	captured := silenceWarnings(t)

	h := newHarness(t)
	h.module.hparamsName = "hparams"
	h.module.hparams = StateDict{"callback": make(chan int)}
	h.module.hparamsType = "dict"

	dir := filepath.Join(h.dir, "hpc")
	path, err := h.connector.HPCSave(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	warned := false
	for _, w := range *captured {
		var dw *errors.DroppedHyperParamsWarning
		if errors.As(w, &dw) {
			warned = true
		}
	}
	if !warned {
		t.Error("dropping hyperparameters must surface a warning")
	}

	var ck Checkpoint
	if err := h.trainer.FS.Load(path, &ck); err != nil {
		t.Fatal(err)
	}
	if ck.HParams != nil || ck.HParamsName != "" {
		t.Error("retried artifact must not carry hyperparameters")
	}
}

func TestRestoreMigratesOptimizerState(t *testing.T) {
	save := newHarness(t)
	path := filepath.Join(save.dir, "run.ckpt")
	if err := save.connector.SaveCheckpoint(path, false); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	h.strategy.rootDevice = tensor.GPU(0)
	if err := h.connector.Restore(path); err != nil {
		t.Fatal(err)
	}

	buf := h.optimizer.loaded.State["layer.weight"]["momentum"]
	if buf == nil {
		t.Fatal("optimizer buffer missing after restore")
	}
	if buf.Device != tensor.GPU(0) {
		t.Errorf("buffer device = %v, want %v", buf.Device, tensor.GPU(0))
	}
	if buf.Data[0] != 0.5 {
		t.Errorf("migration changed values: %v", buf.Data)
	}
}
