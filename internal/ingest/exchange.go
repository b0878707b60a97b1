// Package ingest is the entry point for completed proxy exchanges. Each call
// filters, resolves, persists through the cache coordinator and emits one
// metadata entry. Failures stay scoped to the exchange that caused them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/any-hub/proxy2fs/internal/cache"
	"github.com/any-hub/proxy2fs/internal/metadata"
)

// Exchange is one completed request/response pair as delivered by the
// transport. Body is fully buffered. The ingestor never mutates it.
type Exchange struct {
	ID              string
	URL             *url.URL
	RequestHeaders  metadata.Headers
	ResponseHeaders metadata.Headers
	StatusCode      int
	ContentType     string
	Body            []byte
}

// State is the terminal outcome of one Ingest call.
type State string

const (
	StateMirrored  State = "complete"
	StateFailed    State = "failed"
	StateBusy      State = "busy"
	StateCancelled State = "cancelled"
	StateSkipped   State = "skipped"
	StateMalformed State = "malformed"
)

// Result reports what happened to an exchange.
type Result struct {
	State State
	Entry *metadata.Entry
	Err   error
}

// MalformedExchangeError marks an exchange missing a required field.
type MalformedExchangeError struct {
	ExchangeID string
	Field      string
}

func (e *MalformedExchangeError) Error() string {
	if e.ExchangeID == "" {
		return fmt.Sprintf("malformed exchange: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed exchange %s: missing %s", e.ExchangeID, e.Field)
}

func validate(ex *Exchange) error {
	if ex == nil {
		return &MalformedExchangeError{Field: "exchange"}
	}
	if ex.URL == nil || (ex.URL.Path == "" && ex.URL.Host == "" && ex.URL.Opaque == "") {
		return &MalformedExchangeError{ExchangeID: ex.ID, Field: "url"}
	}
	return nil
}

func classify(err error) State {
	var perr *cache.PersistenceError
	switch {
	case err == nil:
		return StateMirrored
	case errors.Is(err, cache.ErrBusy):
		return StateBusy
	case errors.As(err, &perr) && perr.Op == "cancel":
		return StateCancelled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StateCancelled
	default:
		return StateFailed
	}
}
