// Testing utilities for structured logging: capture log output in memory
// for inspection without touching the process-wide default logger.

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// NewTestLogger creates a logger whose JSON output is captured in the
// returned buffer. Records flow through the same stacktrace-extracting
// handler the production setup uses.
func NewTestLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	buffer := &bytes.Buffer{}
	handler := slog.NewJSONHandler(buffer, &slog.HandlerOptions{Level: level})
	return slog.New(WrapByErrFmtHandler(handler)), buffer
}

// ParseRecords decodes every captured JSON record, one per line.
func ParseRecords(buffer *bytes.Buffer) ([]map[string]any, error) {
	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(buffer.Bytes()))
	for dec.More() {
		var record map[string]any
		if err := dec.Decode(&record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
