package latchman

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start when the latch is not latent.
	ErrAlreadyStarted = errors.New("cannot be started more than once")

	// ErrNotStarted is returned by Close when the latch was never started
	// or has already been closed.
	ErrNotStarted = errors.New("already closed or has not been started")

	// ErrClosed is returned by Await when the latch is closed before
	// leadership is acquired.
	ErrClosed = errors.New("leader latch closed")

	// ErrNoCandidates signals a broken invariant: the latch node exists but
	// the group listing came back empty even though our entry was just
	// created.
	ErrNoCandidates = errors.New("no candidates - unexpected state")

	// ErrEntryMissing signals a broken invariant: our own entry was not in
	// the group listing.
	ErrEntryMissing = errors.New("own latch node missing from listing")

	ErrBadPath = errors.New("bad path")
)

// StoreError wraps a coordination-store failure with the operation and path
// it occurred on.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Path: path, Err: err}
}
