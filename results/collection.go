package results

import (
	"fmt"

	"github.com/photonml/photon/core/tensor"
	"github.com/photonml/photon/pkg/errors"
)

// StepState is the explicit step context threaded through logging calls: the
// within-epoch batch index and the epoch-boundary flag. The training loop
// owns one StepState per collection and advances it at dataloader iteration
// boundaries; reset timing of the tensor accumulators is derived from it.
type StepState struct {
	batchIdx    int
	hasBatchIdx bool
	epochEnd    bool
}

// SetBatchIdx records the current within-epoch batch index.
func (s *StepState) SetBatchIdx(i int) {
	s.batchIdx = i
	s.hasBatchIdx = true
}

// BatchIdx returns the batch index and whether one is set.
func (s *StepState) BatchIdx() (int, bool) {
	return s.batchIdx, s.hasBatchIdx
}

// EndEpoch signals that the epoch boundary has been reached. Reaching the
// boundary always clears the batch index.
func (s *StepState) EndEpoch() {
	s.epochEnd = true
	s.hasBatchIdx = false
}

// OnEpochEnd reports whether the epoch boundary has been signalled.
func (s *StepState) OnEpochEnd() bool {
	return s.epochEnd
}

// Reset returns the state to the beginning of an epoch.
func (s *StepState) Reset() {
	s.epochEnd = false
	s.hasBatchIdx = false
}

// Options carries the per-key logging flags. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	ProgBar         bool
	Logger          bool
	OnStep          bool
	OnEpoch         bool
	ReduceFx        ReduceFx
	EnableGraph     bool
	DataloaderIdx   *int
	BatchSize       int // 0 means use the collection's inferred batch size
	MetricAttribute string
}

// DefaultOptions returns the default logging flags: routed to the logger,
// reduced by mean on the epoch view only.
func DefaultOptions() Options {
	return Options{Logger: true, OnEpoch: true, ReduceFx: Mean}
}

// ResetScope selects which value kinds a reset touches.
type ResetScope int

const (
	// ResetAll clears tensor accumulators and metric objects.
	ResetAll ResetScope = iota
	// ResetTensors clears only tensor accumulators.
	ResetTensors
	// ResetMetrics clears only externally-defined metric objects.
	ResetMetrics
)

func (s ResetScope) matches(isTensor bool) bool {
	switch s {
	case ResetTensors:
		return isTensor
	case ResetMetrics:
		return !isTensor
	default:
		return true
	}
}

// entry pairs a storage tree with the metadata shared by its leaves.
type entry struct {
	node *node
	meta *Metadata
}

// Collection maps composite "{hook}.{name}[.{dataloader_idx}]" keys to
// accumulator trees and drives the logging protocol, reset scheduling and
// view materialization. Each trainer process owns one collection per loop
// stage; updates must be serialized by the caller.
type Collection struct {
	training bool
	device   tensor.Device

	entries map[string]*entry
	order   []string

	batchSize int
	lastFx    string
	minimize  *tensor.Tensor
	extra     map[string]*tensor.Tensor
}

// NewCollection creates an empty collection. The device is where tensor
// accumulators are kept.
func NewCollection(training bool, dev tensor.Device) *Collection {
	return &Collection{
		training:  training,
		device:    dev,
		entries:   make(map[string]*entry),
		batchSize: 1,
	}
}

// Training reports whether the collection belongs to the training stage.
func (c *Collection) Training() bool {
	return c.training
}

// BatchSize returns the current inferred batch size.
func (c *Collection) BatchSize() int {
	return c.batchSize
}

// SetMinimize records the step's primary loss. The loss must carry a
// gradient path.
func (c *Collection) SetMinimize(loss *tensor.Tensor) error {
	if loss != nil && !loss.RequiresGrad {
		return errors.NewValueError("Collection.SetMinimize", "minimize must carry a gradient path")
	}
	c.minimize = loss
	return nil
}

// Minimize returns the recorded loss, if any.
func (c *Collection) Minimize() *tensor.Tensor {
	return c.minimize
}

// SetExtra stores the free-form extras a training step returned besides the
// loss. Tensors are detached from any gradient path.
func (c *Collection) SetExtra(extra map[string]*tensor.Tensor) {
	out := make(map[string]*tensor.Tensor, len(extra))
	for k, v := range extra {
		if v != nil {
			v = v.Detach()
		}
		out[k] = v
	}
	c.extra = out
}

// Extra returns the stored extras.
func (c *Collection) Extra() map[string]*tensor.Tensor {
	return c.extra
}

// Log feeds one value into the collection under the given hook and name.
//
// The storage key is built once per unique hook/name/dataloader triple; the
// value's nested shape is mirrored by accumulators on first use and must not
// change afterwards. When the active hook changes at the first batch of an
// epoch, the tensor accumulators scoped to the new hook are reset so the
// epoch starts fresh, while metric objects keep their own lifecycle.
func (c *Collection) Log(step *StepState, fx, name string, value Value, opts Options) error {
	if opts.OnStep && step.OnEpochEnd() {
		return errors.NewInvalidStateError("Collection.Log",
			"logging on_step after the epoch boundary has been signalled is not allowed")
	}

	// metrics must not retain the autodiff graph; accelerator-local values
	// that cannot be cached across steps move to the default device
	value = value.transform(func(v Value) Value {
		t, ok := v.Tensor()
		if !ok {
			return v
		}
		if !opts.EnableGraph {
			t = t.Detach()
		}
		if t.Device.Kind == tensor.KindTPU {
			t = t.To(c.device)
		}
		return TensorValue(t)
	})

	key := fx + "." + name
	if opts.DataloaderIdx != nil {
		// the key addresses storage; the suffixed hook scopes resets so
		// multiple dataloaders reset independently
		key = fmt.Sprintf("%s.%d", key, *opts.DataloaderIdx)
		fx = fmt.Sprintf("%s.%d", fx, *opts.DataloaderIdx)
	}

	e, ok := c.entries[key]
	if !ok {
		meta := &Metadata{
			Fx:              fx,
			Name:            name,
			ProgBar:         opts.ProgBar,
			Logger:          opts.Logger,
			OnStep:          opts.OnStep,
			OnEpoch:         opts.OnEpoch,
			ReduceFx:        opts.ReduceFx,
			DataloaderIdx:   opts.DataloaderIdx,
			MetricAttribute: opts.MetricAttribute,
		}
		n, err := c.buildNode(meta, value)
		if err != nil {
			return err
		}
		e = &entry{node: n, meta: meta}
		c.entries[key] = e
		c.order = append(c.order, key)
	}

	if c.shouldResetTensors(step, fx) {
		c.resetScoped(fx, ResetTensors)
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = c.batchSize
	}
	if err := c.update(e, value, batchSize); err != nil {
		return err
	}
	c.lastFx = fx
	return nil
}

// buildNode mirrors the value's nested shape with fresh accumulators, all
// sharing the entry's metadata.
func (c *Collection) buildNode(meta *Metadata, v Value) (*node, error) {
	if _, ok := v.Tensor(); ok {
		return &node{metric: newResultMetric(meta, true, c.device)}, nil
	}
	if _, ok := v.Metric(); ok {
		return &node{metric: newResultMetric(meta, false, c.device)}, nil
	}
	if mv, ok := v.Map(); ok {
		out := make(map[string]*node, len(mv))
		for k, child := range mv {
			n, err := c.buildNode(meta, child)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return &node{mapv: out}, nil
	}
	if lv, ok := v.List(); ok {
		out := make([]*node, 0, len(lv))
		for _, child := range lv {
			n, err := c.buildNode(meta, child)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return &node{listv: out}, nil
	}
	return nil, errors.NewValueError("Collection.Log",
		fmt.Sprintf("value for %q must be a tensor, a metric object, or a collection of them", meta.Name))
}

// shouldResetTensors reports whether the tensor accumulators of fx must be
// cleared: the hook changed since the previous log call and the epoch is at
// its first batch (or outside the batch loop).
func (c *Collection) shouldResetTensors(step *StepState, fx string) bool {
	if c.lastFx == fx {
		return false
	}
	idx, ok := step.BatchIdx()
	return !ok || idx == 0
}

func (c *Collection) update(e *entry, v Value, batchSize int) error {
	return e.node.zip(v, func(rm *ResultMetric, leaf Value) error {
		if t, ok := leaf.Tensor(); ok {
			return rm.UpdateTensor(t.To(c.device), batchSize)
		}
		if m, ok := leaf.Metric(); ok {
			return rm.UpdateMetric(m)
		}
		return errValueShape
	})
}

// resetScoped resets accumulators of the matching value kind scoped to fx
// (every hook when fx is empty).
func (c *Collection) resetScoped(fx string, scope ResetScope) {
	for _, key := range c.order {
		e := c.entries[key]
		e.node.each(func(rm *ResultMetric) {
			if scope.matches(rm.IsTensor()) && (fx == "" || rm.Meta().Fx == fx) {
				rm.Reset()
			}
		})
	}
}

// Reset clears the collection: accumulators in scope, the active-hook
// marker, and, when a step state is supplied, its epoch-boundary flag and
// batch index.
func (c *Collection) Reset(step *StepState, scope ResetScope) {
	c.resetScoped("", scope)
	c.lastFx = ""
	if step != nil {
		step.Reset()
	}
}

// To relocates every accumulator to the given device.
func (c *Collection) To(dev tensor.Device) {
	c.device = dev
	for _, key := range c.order {
		c.entries[key].node.each(func(rm *ResultMetric) {
			rm.To(dev)
		})
	}
	if c.minimize != nil {
		c.minimize = c.minimize.To(dev)
	}
}

// CPU relocates every accumulator to the default compute device.
func (c *Collection) CPU() {
	c.To(tensor.CPU)
}
