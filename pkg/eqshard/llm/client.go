// Package llm adapts the external inference collaborator behind a single
// capability interface. Two interchangeable backends exist: an HTTP client
// for a node-local llama-server and a subprocess client for a llama.cpp
// binary. The sharding/checkpoint/validation core never knows which one is
// in use.
package llm

import (
	"context"
	"fmt"
)

// Client is the narrow contract the pipeline invokes per row.
type Client interface {
	// Complete sends one prompt and returns the generated text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExhaustedError indicates the retry ceiling was reached without a
// successful call. It identifies the endpoint and attempt count so the
// operator can tell a dead server from a slow model load.
type ExhaustedError struct {
	Endpoint string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("inference backend at %s still failing after %d attempts: %v",
		e.Endpoint, e.Attempts, e.Err)
}

// Unwrap returns the last underlying failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Endpoint computes the node-local server address for a worker slot.
// Servers are launched one per accelerator at base+slot, matching the
// launch script's port plan.
func Endpoint(basePort, localSlot int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", basePort+localSlot)
}
