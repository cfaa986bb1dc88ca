package results

import (
	"fmt"
	"math"

	"github.com/photonml/photon/core/tensor"
	"github.com/photonml/photon/pkg/errors"
)

var errValueShape = errors.New(
	"photon: logged value shape does not match the shape first logged under this key")

// ResultMetric accumulates one logged quantity under the reduction policy of
// its Metadata. Tensor-kind metrics own scalar accumulator state; metric-kind
// entries delegate accumulation to the externally-defined metric object and
// only keep a reference plus the batch-local cache.
//
// Compute is lazy: it is not invoked until an epoch view requests it, and
// its result is cached until the next Reset.
type ResultMetric struct {
	meta     *Metadata
	isTensor bool

	// tensor-kind accumulator state
	value              *tensor.Tensor
	cumulatedBatchSize *tensor.Tensor

	// metric-kind reference
	metric Metric

	forwardCache *tensor.Tensor
	computed     *tensor.Tensor
}

func newResultMetric(meta *Metadata, isTensor bool, dev tensor.Device) *ResultMetric {
	rm := &ResultMetric{meta: meta, isTensor: isTensor}
	if isTensor {
		rm.initAccumulators(dev)
	}
	return rm
}

// initAccumulators sets the accumulator to the identity of the reduction.
func (rm *ResultMetric) initAccumulators(dev tensor.Device) {
	switch rm.meta.ReduceFx {
	case Mean:
		rm.value = tensor.Scalar(0).To(dev)
		rm.cumulatedBatchSize = tensor.Scalar(0).To(dev)
	case Max:
		rm.value = tensor.Scalar(math.Inf(-1)).To(dev)
	case Min:
		rm.value = tensor.Scalar(math.Inf(1)).To(dev)
	default:
		// left for Compute to reject
		rm.value = tensor.Scalar(0).To(dev)
	}
}

// Meta returns the metadata the accumulator is scoped to.
func (rm *ResultMetric) Meta() *Metadata {
	return rm.meta
}

// IsTensor reports the value kind.
func (rm *ResultMetric) IsTensor() bool {
	return rm.isTensor
}

// UpdateTensor folds the batch-reduced value into the accumulator. The
// batch-local mean is also kept as the step-view cache.
func (rm *ResultMetric) UpdateTensor(t *tensor.Tensor, batchSize int) error {
	if !rm.isTensor {
		return errors.NewValueError("ResultMetric.UpdateTensor", "metric-kind entry updated with a tensor")
	}
	m := t.Mean()
	dev := rm.value.Device
	switch rm.meta.ReduceFx {
	case Mean:
		rm.value = tensor.Scalar(rm.value.MustItem() + m*float64(batchSize)).To(dev)
		rm.cumulatedBatchSize = tensor.Scalar(rm.cumulatedBatchSize.MustItem() + float64(batchSize)).To(dev)
	case Max:
		rm.value = tensor.Scalar(math.Max(rm.value.MustItem(), m)).To(dev)
	case Min:
		rm.value = tensor.Scalar(math.Min(rm.value.MustItem(), m)).To(dev)
	}
	rm.forwardCache = tensor.Scalar(m).To(dev)
	rm.computed = nil
	rm.meta.HasReset = false
	return nil
}

// UpdateMetric replaces the stored metric-object reference and caches its
// batch-local output for step-view retrieval.
func (rm *ResultMetric) UpdateMetric(m Metric) error {
	if rm.isTensor {
		return errors.NewValueError("ResultMetric.UpdateMetric", "tensor-kind entry updated with a metric object")
	}
	rm.metric = m
	rm.forwardCache = m.BatchValue()
	rm.computed = nil
	rm.meta.HasReset = false
	return nil
}

// ForwardCache returns the batch-local value from the most recent update.
func (rm *ResultMetric) ForwardCache() *tensor.Tensor {
	return rm.forwardCache
}

// Compute reduces the accumulated state. The result is cached until Reset.
func (rm *ResultMetric) Compute() (*tensor.Tensor, error) {
	if rm.computed != nil {
		return rm.computed, nil
	}
	if rm.isTensor {
		switch rm.meta.ReduceFx {
		case Mean:
			rm.computed = tensor.Scalar(rm.value.Sum() / rm.cumulatedBatchSize.Sum()).To(rm.value.Device)
		case Max, Min:
			rm.computed = rm.value
		default:
			return nil, errors.NewUnsupportedReductionError(rm.meta.ReduceFx.String())
		}
		return rm.computed, nil
	}
	if rm.metric == nil {
		return nil, errors.NewValueError("ResultMetric.Compute",
			fmt.Sprintf("metric object for %q is not attached", rm.meta.Name))
	}
	t, err := rm.metric.Compute()
	if err != nil {
		return nil, err
	}
	rm.computed = t
	return rm.computed, nil
}

// Reset clears the accumulator back to the reduction identity, or delegates
// to the metric object's own reset, and marks the metadata consumed.
func (rm *ResultMetric) Reset() {
	if rm.isTensor {
		rm.initAccumulators(rm.value.Device)
	} else if rm.metric != nil {
		rm.metric.Reset()
	}
	rm.forwardCache = nil
	rm.computed = nil
	rm.meta.HasReset = true
}

// To relocates all accumulator state to the given device. Relocation never
// changes numeric content.
func (rm *ResultMetric) To(dev tensor.Device) {
	if rm.value != nil {
		rm.value = rm.value.To(dev)
	}
	if rm.cumulatedBatchSize != nil {
		rm.cumulatedBatchSize = rm.cumulatedBatchSize.To(dev)
	}
	if rm.forwardCache != nil {
		rm.forwardCache = rm.forwardCache.To(dev)
	}
	if rm.computed != nil {
		rm.computed = rm.computed.To(dev)
	}
}

func (rm *ResultMetric) String() string {
	state := fmt.Sprintf("value=%v", rm.value)
	if rm.isTensor && rm.meta.ReduceFx == Mean {
		state += fmt.Sprintf(", cumulated_batch_size=%v", rm.cumulatedBatchSize)
	}
	return fmt.Sprintf("ResultMetric(%s)", state)
}
