package results

import (
	"sort"

	"github.com/photonml/photon/core/tensor"
)

// Metric is the contract for externally-defined metric objects that manage
// their own accumulation lifecycle (the non-tensor value kind). The caller
// updates the object before logging it; the engine only keeps a reference,
// reads the batch-local cache, and triggers Compute and Reset.
type Metric interface {
	// Compute reduces the object's accumulated state into a tensor.
	Compute() (*tensor.Tensor, error)
	// Reset clears the object's accumulated state.
	Reset()
	// BatchValue returns the value produced by the most recent update, or
	// nil when the object has not been updated since its last reset.
	BatchValue() *tensor.Tensor
}

// Value is a recursive tagged tree of logged or materialized quantities:
// a leaf tensor, a leaf metric object, a leaf plain scalar (progress-bar
// views), a map of values or a list of values. The zero Value is empty.
type Value struct {
	tensor *tensor.Tensor
	metric Metric
	scalar *float64
	mapv   map[string]Value
	listv  []Value
}

// TensorValue wraps a tensor leaf.
func TensorValue(t *tensor.Tensor) Value {
	return Value{tensor: t}
}

// MetricValue wraps a metric-object leaf.
func MetricValue(m Metric) Value {
	return Value{metric: m}
}

// ScalarValue wraps a plain numeric leaf.
func ScalarValue(f float64) Value {
	return Value{scalar: &f}
}

// MapValue wraps a named collection of values.
func MapValue(m map[string]Value) Value {
	return Value{mapv: m}
}

// ListValue wraps an ordered collection of values.
func ListValue(vs ...Value) Value {
	return Value{listv: vs}
}

// Tensor returns the tensor leaf, if any.
func (v Value) Tensor() (*tensor.Tensor, bool) {
	return v.tensor, v.tensor != nil
}

// Metric returns the metric-object leaf, if any.
func (v Value) Metric() (Metric, bool) {
	return v.metric, v.metric != nil
}

// Float returns the plain numeric leaf, if any.
func (v Value) Float() (float64, bool) {
	if v.scalar == nil {
		return 0, false
	}
	return *v.scalar, true
}

// Map returns the named children, if any.
func (v Value) Map() (map[string]Value, bool) {
	return v.mapv, v.mapv != nil
}

// List returns the ordered children, if any.
func (v Value) List() ([]Value, bool) {
	return v.listv, v.listv != nil
}

// IsLeaf reports whether the value is a single quantity.
func (v Value) IsLeaf() bool {
	return v.tensor != nil || v.metric != nil || v.scalar != nil
}

// IsEmpty reports whether the tree holds no leaf at all.
func (v Value) IsEmpty() bool {
	if v.IsLeaf() {
		return false
	}
	for _, c := range v.mapv {
		if !c.IsEmpty() {
			return false
		}
	}
	for _, c := range v.listv {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// transform rebuilds the tree with every leaf replaced by fn's result.
// Leaves mapped to an empty Value are dropped, mirroring the engine's
// skip-empty rule for materialized views.
func (v Value) transform(fn func(Value) Value) Value {
	switch {
	case v.IsLeaf():
		return fn(v)
	case v.mapv != nil:
		out := make(map[string]Value, len(v.mapv))
		for k, c := range v.mapv {
			t := c.transform(fn)
			if !t.IsEmpty() {
				out[k] = t
			}
		}
		return Value{mapv: out}
	case v.listv != nil:
		out := make([]Value, 0, len(v.listv))
		for _, c := range v.listv {
			t := c.transform(fn)
			if !t.IsEmpty() {
				out = append(out, t)
			}
		}
		return Value{listv: out}
	default:
		return Value{}
	}
}

// sortedKeys returns the map keys of a value tree level in stable order.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// node is the storage-side mirror of a Value: a tree whose leaves are
// ResultMetric accumulators. One tree is built per storage key on the first
// log call and reused thereafter.
type node struct {
	metric *ResultMetric
	mapv   map[string]*node
	listv  []*node
}

// each applies fn to every accumulator in the tree.
func (n *node) each(fn func(*ResultMetric)) {
	if n == nil {
		return
	}
	if n.metric != nil {
		fn(n.metric)
		return
	}
	for _, c := range n.mapv {
		c.each(fn)
	}
	for _, c := range n.listv {
		c.each(fn)
	}
}

// zip walks the storage tree together with a structurally-matching input
// value and applies fn on each accumulator/leaf pair. A shape mismatch
// between the first log call and a later one is a programmer error.
func (n *node) zip(v Value, fn func(*ResultMetric, Value) error) error {
	if n == nil {
		return nil
	}
	if n.metric != nil {
		return fn(n.metric, v)
	}
	if n.mapv != nil {
		mv, ok := v.Map()
		if !ok {
			return errValueShape
		}
		for _, k := range sortedKeys(mv) {
			c, ok := n.mapv[k]
			if !ok {
				return errValueShape
			}
			if err := c.zip(mv[k], fn); err != nil {
				return err
			}
		}
		return nil
	}
	lv, ok := v.List()
	if !ok || len(lv) != len(n.listv) {
		return errValueShape
	}
	for i, c := range n.listv {
		if err := c.zip(lv[i], fn); err != nil {
			return err
		}
	}
	return nil
}

// materialize builds an output tree by picking a tensor from each
// accumulator. Accumulators for which pick returns nil are dropped; a tree
// with nothing left materializes as the empty Value.
func (n *node) materialize(pick func(*ResultMetric) (*tensor.Tensor, error)) (Value, error) {
	if n == nil {
		return Value{}, nil
	}
	if n.metric != nil {
		t, err := pick(n.metric)
		if err != nil {
			return Value{}, err
		}
		if t == nil {
			return Value{}, nil
		}
		return TensorValue(t), nil
	}
	if n.mapv != nil {
		out := make(map[string]Value, len(n.mapv))
		for k, c := range n.mapv {
			v, err := c.materialize(pick)
			if err != nil {
				return Value{}, err
			}
			if !v.IsEmpty() {
				out[k] = v
			}
		}
		if len(out) == 0 {
			return Value{}, nil
		}
		return Value{mapv: out}, nil
	}
	out := make([]Value, 0, len(n.listv))
	for _, c := range n.listv {
		v, err := c.materialize(pick)
		if err != nil {
			return Value{}, err
		}
		if !v.IsEmpty() {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return Value{}, nil
	}
	return Value{listv: out}, nil
}
