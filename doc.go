// Package photon provides building blocks for machine-learning training
// loops in Go: a metric aggregation engine with step- and epoch-scoped
// views, and a checkpoint persistence layer with deterministic resume.
//
// # Packages
//
//   - results: metric aggregation (Metadata, ResultMetric, Collection)
//   - trainer: trainer state, collaborator contracts, CheckpointConnector
//   - storage: filesystem abstraction with atomic artifact writes
//   - core/tensor: the dense value type flowing through both subsystems
//   - curves: training-curve rendering
//   - pkg/errors, pkg/log: error taxonomy, warnings and structured logging
package photon

// Version is the framework version recorded in every checkpoint artifact.
const Version = "0.4.0"
