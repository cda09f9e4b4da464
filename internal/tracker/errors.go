package tracker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput marks validation failures. Wrap it with context:
// fmt.Errorf("%w: title is required", ErrInvalidInput).
var ErrInvalidInput = errors.New("invalid input")

// ItemError reports a validation failure for one item of a bulk request.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BulkValidationError collects every invalid item of a bulk request. When
// returned, none of the items have been applied.
type BulkValidationError struct {
	Items []ItemError
}

func (e *BulkValidationError) Error() string {
	msgs := make([]string, len(e.Items))
	for i, item := range e.Items {
		msgs[i] = fmt.Sprintf("item %d: %s", item.Index, item.Message)
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (e *BulkValidationError) Unwrap() error {
	return ErrInvalidInput
}
