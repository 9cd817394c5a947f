package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies store failures for callers.
type ErrorKind string

const (
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
	KindNotFound    ErrorKind = "not_found"
	KindInvalid     ErrorKind = "invalid"
	KindInternal    ErrorKind = "internal"
)

var (
	ErrConflict    = errors.New("storage: conflict")
	ErrUnavailable = errors.New("storage: unavailable")
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalid     = errors.New("storage: invalid request")

	// ErrInvalidMatch is returned when an upsert match does not name exactly
	// the collection's unique key.
	ErrInvalidMatch = errors.New("match must cover the unique key")
	// ErrUnknownField is returned for queries on fields with no column.
	ErrUnknownField = errors.New("field is not indexed")
	// ErrUnknownCollection is returned for unregistered collections.
	ErrUnknownCollection = errors.New("collection is not registered")
	// ErrSessionFinal is returned when a completed session would be reopened.
	ErrSessionFinal = errors.New("session is completed")
)

// StoreError wraps a failed store operation.
type StoreError struct {
	Op         string
	Collection string
	Kind       ErrorKind
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s %s (%s): %v", e.Op, e.Collection, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalid:
		return e.Kind == KindInvalid
	}
	return false
}

// KindOf returns the kind of a store error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func invalid(op, collection string, err error) error {
	return &StoreError{Op: op, Collection: collection, Kind: KindInvalid, Err: err}
}

// wrap classifies a driver error with the dialect first, then with the
// driver-independent rules.
func wrap(d dialect, op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind, ok := d.classify(err)
	if !ok {
		kind = classifyGeneric(err)
	}
	return &StoreError{Op: op, Collection: collection, Kind: kind, Err: err}
}

func classifyGeneric(err error) ErrorKind {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return KindNotFound
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	// database/sql does not export its closed-pool error
	if strings.Contains(err.Error(), "sql: database is closed") {
		return KindUnavailable
	}
	return KindInternal
}
