package results

import (
	"fmt"

	"github.com/photonml/photon/core/tensor"
)

// View holds the materialized metrics of one read, split by destination.
type View struct {
	// Callback metrics feed early stopping, checkpointing and other
	// callbacks. In training mode entries appear under both the base and
	// the forked name; outside training only epoch-level metrics on the
	// epoch view do. This asymmetry is a fixed contract.
	Callback map[string]Value

	// ProgressBar metrics are coerced to plain numeric scalars.
	ProgressBar map[string]Value

	// Log metrics go to the experiment logger under the forked name.
	Log map[string]Value

	// All is the catch-all: every valid entry under its forked name.
	All map[string]Value
}

func newView() View {
	return View{
		Callback:    make(map[string]Value),
		ProgressBar: make(map[string]Value),
		Log:         make(map[string]Value),
		All:         make(map[string]Value),
	}
}

// GetMetrics materializes the step view (onStep true) or the epoch view
// (onStep false) of every valid entry.
func (c *Collection) GetMetrics(onStep bool) (View, error) {
	out := newView()

	// step view reads the batch-local cache; epoch view computes lazily
	pick := c.pickComputed
	if onStep {
		pick = c.pickForwardCache
	}

	for _, key := range c.order {
		e := c.entries[key]

		// already consumed by a reset; nested leaves share the entry's
		// metadata so one check covers the whole tree
		if e.meta.HasReset {
			continue
		}

		value, err := e.node.materialize(pick)
		if err != nil {
			return View{}, err
		}
		if value.IsEmpty() {
			continue
		}

		name := e.meta.Name
		forked := e.meta.ForkedName(onStep)
		if e.meta.DataloaderIdx != nil {
			suffix := dataloaderName(*e.meta.DataloaderIdx)
			name += suffix
			forked += suffix
		}

		if e.meta.Logger {
			out.Log[forked] = value
		}
		if c.training || (e.meta.OnEpoch && !onStep) {
			out.Callback[name] = value
			out.Callback[forked] = value
		}
		if e.meta.ProgBar {
			out.ProgressBar[forked] = value.transform(toScalar)
		}
		out.All[forked] = value
	}
	return out, nil
}

// BatchMetrics returns the step-scoped view.
func (c *Collection) BatchMetrics() (View, error) {
	return c.GetMetrics(true)
}

// EpochMetrics returns the epoch-scoped view.
func (c *Collection) EpochMetrics() (View, error) {
	return c.GetMetrics(false)
}

// Metrics returns the view matching the step context: the epoch view once
// the boundary has been signalled, the batch view otherwise.
func (c *Collection) Metrics(step *StepState) (View, error) {
	if step.OnEpochEnd() {
		return c.EpochMetrics()
	}
	return c.BatchMetrics()
}

func (c *Collection) pickForwardCache(rm *ResultMetric) (*tensor.Tensor, error) {
	if !rm.Meta().OnStep {
		return nil, nil
	}
	fc := rm.ForwardCache()
	if fc == nil {
		return nil, nil
	}
	return fc.Detach(), nil
}

func (c *Collection) pickComputed(rm *ResultMetric) (*tensor.Tensor, error) {
	if !rm.Meta().OnEpoch {
		return nil, nil
	}
	t, err := rm.Compute()
	if err != nil {
		return nil, err
	}
	return t.Detach(), nil
}

func toScalar(v Value) Value {
	if t, ok := v.Tensor(); ok {
		if f, err := t.Item(); err == nil {
			return ScalarValue(f)
		}
		return ScalarValue(t.Mean())
	}
	return v
}

func dataloaderName(idx int) string {
	return fmt.Sprintf(dataloaderSuffix, idx)
}
