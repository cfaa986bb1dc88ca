// Package results implements the metric aggregation engine of the training
// loop: values logged under lifecycle hooks are accumulated per step and per
// epoch under a reduction policy and exposed through step-scoped and
// epoch-scoped views.
package results

import "fmt"

// ReduceFx is the closed set of reduction policies a logged quantity can
// carry. Dispatch is by exhaustive matching on the tag.
type ReduceFx int

const (
	Mean ReduceFx = iota
	Max
	Min
)

func (r ReduceFx) String() string {
	switch r {
	case Mean:
		return "mean"
	case Max:
		return "max"
	case Min:
		return "min"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Suffixes used to materialize display names.
const (
	stepSuffix       = "_step"
	epochSuffix      = "_epoch"
	dataloaderSuffix = "/dataloader_idx_%d"
)

// Metadata describes how one logged quantity is reduced, named and routed.
// It is immutable after creation except for HasReset, which tracks whether
// the owning accumulator has been consumed.
type Metadata struct {
	Fx              string
	Name            string
	ProgBar         bool
	Logger          bool
	OnStep          bool
	OnEpoch         bool
	ReduceFx        ReduceFx
	DataloaderIdx   *int
	MetricAttribute string
	HasReset        bool
}

// Forked reports whether the quantity produces both a step-scoped and an
// epoch-scoped output.
func (m *Metadata) Forked() bool {
	return m.OnStep && m.OnEpoch
}

// ForkedName returns the display name for the requested view. The fork
// suffix is applied only when the quantity is forked.
func (m *Metadata) ForkedName(onStep bool) string {
	if !m.Forked() {
		return m.Name
	}
	if onStep {
		return m.Name + stepSuffix
	}
	return m.Name + epochSuffix
}
