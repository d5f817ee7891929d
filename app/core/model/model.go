package model

import (
	"context"
	"errors"
	"fmt"
)

// Params carries the sampling parameters passed to a capability per call.
type Params struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Capability is a single model tier. Implementations must treat the context
// deadline as the call budget and classify failures as transient or fatal.
type Capability interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
	Tag() string
}

// TransientError marks a failure worth retrying: timeout, rate limit, upstream 5xx.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient model error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// FatalError marks a failure that retrying cannot fix: bad credentials, invalid request.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal model error: %v", e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyCtxErr maps context expiry to a transient failure, shared by both clients.
func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Cause: err}
	}
	return nil
}
