// Package errors provides the error taxonomy and warning system used across
// Photon. Fatal conditions are structured error types carrying a stack trace
// via cockroachdb/errors; recoverable conditions are warning values routed
// through a process-global handler so embedding applications decide how they
// surface.
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================

var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("Photon-Warning: %v\n", w)
	}
	// zerolog sink, set lazily to avoid an import cycle with pkg/log.
	zerologWarnFunc func(warning error)
)

// SetWarningHandler replaces the process-wide warning handler.
//
// Example:
//
//	errors.SetWarningHandler(func(w error) {
//	    // swallow warnings
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc installs a zerolog-backed warning sink. When set it takes
// precedence over the plain handler.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn emits a non-fatal warning through the configured sink.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// MidEpochResumeWarning is emitted when a restored global step is not aligned
// to an epoch boundary. Training restarts at the beginning of the next epoch,
// which can skew results compared to an end-of-epoch checkpoint.
type MidEpochResumeWarning struct {
	GlobalStep    int
	ExpectedSteps float64
}

func (w *MidEpochResumeWarning) Error() string {
	return fmt.Sprintf(
		"resuming from a checkpoint that ended mid-epoch (global_step=%d, expected steps per epoch=%.1f)."+
			" Training will start from the beginning of the next epoch."+
			" Consider using an end-of-epoch checkpoint.",
		w.GlobalStep, w.ExpectedSteps)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *MidEpochResumeWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Int("global_step", w.GlobalStep).
		Float64("expected_steps_per_epoch", w.ExpectedSteps).
		Str("type", "MidEpochResumeWarning")
}

// NewMidEpochResumeWarning creates a new MidEpochResumeWarning.
func NewMidEpochResumeWarning(globalStep int, expectedSteps float64) *MidEpochResumeWarning {
	return &MidEpochResumeWarning{GlobalStep: globalStep, ExpectedSteps: expectedSteps}
}

// DroppedHyperParamsWarning is emitted when a checkpoint write failed on a
// non-serializable hyperparameter attachment and succeeded after dropping it.
type DroppedHyperParamsWarning struct {
	Err error
}

func (w *DroppedHyperParamsWarning) Error() string {
	return fmt.Sprintf("hyper_parameters dropped from checkpoint, an attached value is not serializable: %v", w.Err)
}

func (w *DroppedHyperParamsWarning) Unwrap() error { return w.Err }

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *DroppedHyperParamsWarning) MarshalZerologObject(e *zerolog.Event) {
	e.AnErr("cause", w.Err).
		Str("type", "DroppedHyperParamsWarning")
}

// NewDroppedHyperParamsWarning creates a new DroppedHyperParamsWarning.
func NewDroppedHyperParamsWarning(err error) *DroppedHyperParamsWarning {
	return &DroppedHyperParamsWarning{Err: err}
}

// ===========================================================================
//
//	Structured error types
//
// ===========================================================================

// CheckpointNotFoundError reports that a requested resume path does not exist.
type CheckpointNotFoundError struct {
	Path string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("photon: checkpoint at %s not found. Aborting training", e.Path)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *CheckpointNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("path", e.Path).
		Str("type", "CheckpointNotFoundError")
}

// NewCheckpointNotFoundError creates a new CheckpointNotFoundError with a stack trace.
func NewCheckpointNotFoundError(path string) error {
	return errors.WithStack(&CheckpointNotFoundError{Path: path})
}

// DeprecatedSchemaError reports a checkpoint written with an outdated schema.
type DeprecatedSchemaError struct {
	Keys []string
}

func (e *DeprecatedSchemaError) Error() string {
	return fmt.Sprintf(
		"photon: the checkpoint you're attempting to load follows an outdated schema (keys: %s)."+
			" Upgrade it with `photon ckpt upgrade` before resuming",
		strings.Join(e.Keys, ", "))
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DeprecatedSchemaError) MarshalZerologObject(event *zerolog.Event) {
	event.Strs("keys", e.Keys).
		Str("type", "DeprecatedSchemaError")
}

// NewDeprecatedSchemaError creates a new DeprecatedSchemaError with a stack trace.
func NewDeprecatedSchemaError(keys []string) error {
	return errors.WithStack(&DeprecatedSchemaError{Keys: keys})
}

// MissingStateError reports a full-state resume attempted from a checkpoint
// that lacks optimizer or scheduler state, i.e. a weights-only checkpoint.
type MissingStateError struct {
	Missing []string
}

func (e *MissingStateError) Error() string {
	return fmt.Sprintf(
		"photon: trying to restore training state but checkpoint contains only the model (missing: %s)."+
			" This is probably due to saving with weights_only set to true",
		strings.Join(e.Missing, ", "))
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *MissingStateError) MarshalZerologObject(event *zerolog.Event) {
	event.Strs("missing", e.Missing).
		Str("type", "MissingStateError")
}

// NewMissingStateError creates a new MissingStateError with a stack trace.
func NewMissingStateError(missing ...string) error {
	return errors.WithStack(&MissingStateError{Missing: missing})
}

// ConfigurationError reports a conflict between restored state and the
// configured run, for example a restored epoch beyond the epoch ceiling.
type ConfigurationError struct {
	Op      string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("photon: %s: %s", e.Op, e.Message)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *ConfigurationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("message", e.Message).
		Str("type", "ConfigurationError")
}

// NewConfigurationError creates a new ConfigurationError with a stack trace.
func NewConfigurationError(op, message string) error {
	return errors.WithStack(&ConfigurationError{Op: op, Message: message})
}

// UnsupportedReductionError reports a reduction tag outside {mean, max, min}
// reaching compute. This is a programmer error.
type UnsupportedReductionError struct {
	Reduction string
}

func (e *UnsupportedReductionError) Error() string {
	return fmt.Sprintf("photon: only [mean, max, min] reductions are supported, found %q", e.Reduction)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *UnsupportedReductionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("reduction", e.Reduction).
		Str("type", "UnsupportedReductionError")
}

// NewUnsupportedReductionError creates a new UnsupportedReductionError with a stack trace.
func NewUnsupportedReductionError(reduction string) error {
	return errors.WithStack(&UnsupportedReductionError{Reduction: reduction})
}

// NonSerializableError reports that an attached object could not be encoded
// into the checkpoint artifact.
type NonSerializableError struct {
	Op  string
	Err error
}

func (e *NonSerializableError) Error() string {
	return fmt.Sprintf("photon: %s: value is not serializable: %v", e.Op, e.Err)
}

func (e *NonSerializableError) Unwrap() error { return e.Err }

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NonSerializableError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		AnErr("cause", e.Err).
		Str("type", "NonSerializableError")
}

// NewNonSerializableError creates a new NonSerializableError with a stack trace.
func NewNonSerializableError(op string, err error) error {
	return errors.WithStack(&NonSerializableError{Op: op, Err: err})
}

// ValueError reports an argument whose value is invalid for the operation.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("photon: %s: %s", e.Op, e.Message)
}

// NewValueError creates a new ValueError with a stack trace.
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// InvalidStateError reports an operation invoked in a lifecycle state that
// does not allow it, for example step-scoped logging after the epoch boundary.
type InvalidStateError struct {
	Op      string
	Message string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("photon: %s: %s", e.Op, e.Message)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *InvalidStateError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("message", e.Message).
		Str("type", "InvalidStateError")
}

// NewInvalidStateError creates a new InvalidStateError with a stack trace.
func NewInvalidStateError(op, message string) error {
	return errors.WithStack(&InvalidStateError{Op: op, Message: message})
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether err matches the target error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As reports whether err can be assigned to the given target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates an error with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}
