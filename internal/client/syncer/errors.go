package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/planbook/internal/client/client"
)

// TransportError is a failure talking to the server that a later pass may
// not see again: timeouts, refused connections, 5xx, rate limiting.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is the server (or the push logic on its behalf) refusing
// one outbox item. Retrying the same payload will fail the same way, so the
// item is parked and the pass moves on.
type RejectionError struct {
	Reason string
	Err    error
}

func (e *RejectionError) Error() string {
	switch {
	case e.Err == nil:
		return e.Reason
	case e.Reason == "":
		return e.Err.Error()
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *RejectionError) Unwrap() error { return e.Err }

// LocalStoreError is a failure of the local database. It ends the pass.
type LocalStoreError struct {
	Err error
}

func (e *LocalStoreError) Error() string { return "local store: " + e.Err.Error() }
func (e *LocalStoreError) Unwrap() error { return e.Err }

func localStore(err error) error {
	if err == nil {
		return nil
	}
	var ls *LocalStoreError
	if errors.As(err, &ls) {
		return err
	}
	return &LocalStoreError{Err: err}
}

// Classify maps an error from the Remote API onto the sync error taxonomy.
// client.ErrUnauthorized is returned as is: it concerns the whole pass, not
// one item, and no amount of retrying fixes it.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		tr  *TransportError
		rej *RejectionError
		ls  *LocalStoreError
		api *client.APIError
	)
	switch {
	case errors.As(err, &tr), errors.As(err, &rej), errors.As(err, &ls):
		return err
	case errors.Is(err, client.ErrUnauthorized):
		return err
	case errors.As(err, &api):
		return &RejectionError{Err: err}
	case errors.Is(err, client.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Err: err}
	}
	return &TransportError{Err: fmt.Errorf("unexpected remote failure: %w", err)}
}

// IsRetryable reports whether another pass may succeed without user action.
func IsRetryable(err error) bool {
	var tr *TransportError
	return errors.As(err, &tr)
}
