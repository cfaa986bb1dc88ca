package results

import (
	"sort"

	"github.com/photonml/photon/core/tensor"
)

// MetricState is the serialized form of one accumulator. The record tags the
// leaf so a loaded tree can be told apart from a plain nested container.
// Metric-object references do not survive serialization; only the attribute
// name they were registered under is kept, for re-attachment on load.
type MetricState struct {
	Meta               Metadata
	IsTensor           bool
	Value              *tensor.Tensor
	CumulatedBatchSize *tensor.Tensor
	ForwardCache       *tensor.Tensor
	Computed           *tensor.Tensor
}

// StateNode is the serialized mirror of a storage tree.
type StateNode struct {
	Metric *MetricState
	Map    map[string]*StateNode
	List   []*StateNode
}

// StateDict serializes every accumulator tree.
func (c *Collection) StateDict() map[string]*StateNode {
	out := make(map[string]*StateNode, len(c.entries))
	for _, key := range c.order {
		out[key] = nodeToState(c.entries[key].node)
	}
	return out
}

func nodeToState(n *node) *StateNode {
	if n == nil {
		return nil
	}
	if n.metric != nil {
		rm := n.metric
		return &StateNode{Metric: &MetricState{
			Meta:               *rm.meta,
			IsTensor:           rm.isTensor,
			Value:              rm.value,
			CumulatedBatchSize: rm.cumulatedBatchSize,
			ForwardCache:       rm.forwardCache,
			Computed:           rm.computed,
		}}
	}
	if n.mapv != nil {
		out := make(map[string]*StateNode, len(n.mapv))
		for k, child := range n.mapv {
			out[k] = nodeToState(child)
		}
		return &StateNode{Map: out}
	}
	out := make([]*StateNode, 0, len(n.listv))
	for _, child := range n.listv {
		out = append(out, nodeToState(child))
	}
	return &StateNode{List: out}
}

// LoadStateDict rebuilds accumulator trees from a serialized state. When a
// live metric mapping is supplied, metric-object references are re-attached
// by matching the recorded attribute name.
func (c *Collection) LoadStateDict(sd map[string]*StateNode, metrics map[string]Metric) error {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		// every leaf of an entry shares one Metadata, so the reset
		// bookkeeping stays in step across the whole tree after a load
		var meta *Metadata
		n := stateToNode(sd[key], &meta, c.device)
		if n == nil || meta == nil {
			continue
		}
		if _, exists := c.entries[key]; !exists {
			c.order = append(c.order, key)
		}
		c.entries[key] = &entry{node: n, meta: meta}
	}

	if metrics == nil {
		return nil
	}
	for _, key := range c.order {
		c.entries[key].node.each(func(rm *ResultMetric) {
			if rm.isTensor {
				return
			}
			if m, ok := metrics[rm.meta.MetricAttribute]; ok && rm.meta.MetricAttribute != "" {
				rm.metric = m
			}
		})
	}
	return nil
}

func stateToNode(s *StateNode, meta **Metadata, dev tensor.Device) *node {
	if s == nil {
		return nil
	}
	if s.Metric != nil {
		if *meta == nil {
			m := s.Metric.Meta
			*meta = &m
		}
		rm := &ResultMetric{
			meta:               *meta,
			isTensor:           s.Metric.IsTensor,
			value:              s.Metric.Value,
			cumulatedBatchSize: s.Metric.CumulatedBatchSize,
			forwardCache:       s.Metric.ForwardCache,
			computed:           s.Metric.Computed,
		}
		rm.To(dev)
		return &node{metric: rm}
	}
	if s.Map != nil {
		out := make(map[string]*node, len(s.Map))
		for k, child := range s.Map {
			out[k] = stateToNode(child, meta, dev)
		}
		return &node{mapv: out}
	}
	out := make([]*node, 0, len(s.List))
	for _, child := range s.List {
		out = append(out, stateToNode(child, meta, dev))
	}
	return &node{listv: out}
}
