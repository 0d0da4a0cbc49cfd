// Package errors provides error classification and retry support for the
// inference pipeline.
//
// The package implements a layered error handling approach:
//   - Categorization: classify errors as transient or permanent
//   - Retry: handle transient backend failures with bounded, fixed-delay retry
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: connection refused, backend still loading its model.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: malformed request, non-warming HTTP errors, bad config.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient creates a transient categorized error.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent creates a permanent categorized error.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// warmingSignal is the substring a llama-server emits while its model is
// still loading. A 503 carrying it is the only HTTP status treated as
// transient; every other non-200 is a hard failure for the call.
const warmingSignal = "Loading model"

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	// Already-categorized errors keep their classification.
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// Connection-level failures: the server may not be up yet.
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return CategoryTransient
	}

	// HTTP 503 is transient only while the backend reports it is warming up.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 503 && strings.Contains(httpErr.Message, warmingSignal) {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	// Unknown errors are permanent (fail safe).
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsWarming reports whether the error is the backend's warming-up signal.
func IsWarming(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 503 && strings.Contains(httpErr.Message, warmingSignal)
	}
	return false
}
