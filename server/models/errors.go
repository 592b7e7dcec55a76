package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidState = errors.New("invalid switch state")
	ErrConflict     = errors.New("concurrent update conflict")
	ErrDelivery     = errors.New("notification delivery failed")
	ErrPersistence  = errors.New("persistence unavailable")
	ErrInvalidInput = errors.New("invalid input")
)

// PersistenceError wraps a storage failure. It matches ErrPersistence
// with errors.Is while keeping the driver error reachable.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
