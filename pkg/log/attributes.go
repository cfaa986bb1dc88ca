// Standard attribute keys for training-loop log records.
//
// Keys follow a hierarchical naming convention ("loop.epoch",
// "checkpoint.path") so records can be filtered by subsystem.

package log

// Loop progress context.
const (
	// HookKey names the lifecycle hook a record belongs to,
	// e.g. "training_step", "validation_step", "training_epoch_end".
	HookKey = "loop.hook"

	// EpochKey is the zero-based epoch counter.
	EpochKey = "loop.epoch"

	// GlobalStepKey is the optimizer-step counter across epochs.
	GlobalStepKey = "loop.global_step"

	// BatchIdxKey is the within-epoch batch index.
	BatchIdxKey = "loop.batch_idx"

	// BatchSizeKey is the inferred size of the current batch.
	BatchSizeKey = "loop.batch_size"
)

// Metric aggregation context.
const (
	// MetricKey is the user-facing metric name, including any fork suffix.
	MetricKey = "metric.name"

	// ReductionKey is the reduction policy applied to a metric ("mean",
	// "max", "min").
	ReductionKey = "metric.reduction"

	// DataloaderIdxKey identifies the dataloader a metric was logged under.
	DataloaderIdxKey = "metric.dataloader_idx"
)

// Checkpoint context.
const (
	// CheckpointPathKey is the artifact path being read or written.
	CheckpointPathKey = "checkpoint.path"

	// CheckpointVersionKey is the framework version recorded in an artifact.
	CheckpointVersionKey = "checkpoint.version"

	// WeightsOnlyKey marks saves that contain only model weights.
	WeightsOnlyKey = "checkpoint.weights_only"
)

// Performance context.
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)
