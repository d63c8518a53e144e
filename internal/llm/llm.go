// Package llm holds the model clients used for day generation and the
// middleware that wraps them with cross-cutting concerns.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client is the minimal surface the orchestrator needs from a model
// provider: prompt in, structured JSON out, or failure.
type Client interface {
	Name() string
	Close() error
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
}

// ErrInvalidJSON means the provider answered but the payload was empty or
// not parseable as JSON.
var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// PermanentError marks a failure that retrying cannot fix (bad request,
// context length exceeded). Retry middleware short-circuits on it.
type PermanentError struct {
	Err error
}

func NewPermanentError(err error) *PermanentError { return &PermanentError{Err: err} }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var pErr *PermanentError
	return errors.As(err, &pErr)
}
