package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies a workflow failure for retry and reporting
// decisions.
type ErrorCategory string

const (
	CategoryNetwork       ErrorCategory = "network_error"
	CategoryVideoNotFound ErrorCategory = "video_not_found"
	CategoryVideoPrivate  ErrorCategory = "video_private"
	CategoryTranscode     ErrorCategory = "transcode_error"
	CategoryCancelled     ErrorCategory = "cancelled"
	CategoryUnknown       ErrorCategory = "unknown"
)

// Terminal reports whether the category never warrants a retry.
func (c ErrorCategory) Terminal() bool {
	switch c {
	case CategoryVideoNotFound, CategoryVideoPrivate, CategoryCancelled:
		return true
	}
	return false
}

// Error is the tagged failure type crossing the workflow boundary. External
// tool adapters wrap every failure in one of these; nothing else escapes
// into the coordinator.
type Error struct {
	Category ErrorCategory
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(category ErrorCategory, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Classify extracts the category from an error chain. Context cancellation
// maps to CategoryCancelled, anything untagged to CategoryUnknown.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Category
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCancelled
	}
	return CategoryUnknown
}
