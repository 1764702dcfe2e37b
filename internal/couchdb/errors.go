package couchdb

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no document exists at the requested id.
	ErrNotFound = errors.New("not_found")
	// ErrConflict reports a revision mismatch on create, update or delete.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable reports a transport failure or a 5xx from the store.
	ErrUnavailable = errors.New("store_unavailable")
)

// StatusError carries the transport detail behind a store sentinel error.
type StatusError struct {
	Method string
	Path   string
	Status int
	Name   string
	Reason string

	sentinel error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("couchdb: %s %s returned %d", e.Method, e.Path, e.Status)
	if e.Name != "" {
		msg += fmt.Sprintf(" (%s: %s)", e.Name, e.Reason)
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.sentinel
}

func newStatusError(method, path string, status int, name, reason string) *StatusError {
	e := &StatusError{
		Method: method,
		Path:   path,
		Status: status,
		Name:   name,
		Reason: reason,
	}

	switch {
	case status == 404:
		e.sentinel = ErrNotFound
	case status == 409:
		e.sentinel = ErrConflict
	case status >= 500:
		e.sentinel = ErrUnavailable
	}

	return e
}

func transportError(method, path string, err error) error {
	return fmt.Errorf("couchdb: %s %s: %v: %w", method, path, err, ErrUnavailable)
}
