package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors joins the non-nil entries, logs them once under the
// operation name, and returns the joined error prefixed with it. A slice
// with no real failures yields nil and no log entry.
func AggregateErrors(operation string, failures []error, fields ...Field) error {
	joined := errors.Join(failures...)
	if joined == nil {
		return nil
	}
	messages := make([]string, 0, len(failures))
	for _, err := range failures {
		if err != nil {
			messages = append(messages, err.Error())
		}
	}
	logFields := append(fields,
		Field{Key: "operation", Value: operation},
		Field{Key: "failure_count", Value: len(messages)},
		Field{Key: "failures", Value: messages},
	)
	Log().Error("operation completed with failures", logFields...)
	return fmt.Errorf("%s: %w", operation, joined)
}
