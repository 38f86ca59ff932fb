package main

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInventoryExhausted      = errors.New("inventory exhausted")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrUnauthenticated         = errors.New("not logged in")
	ErrInvalidState            = errors.New("invalid state")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrAlreadyLent             = errors.New("lending already exists")
	ErrStoreFailure            = errors.New("store failure")
	ErrEmailTaken              = errors.New("email already registered")
	ErrInvalidCredentials      = errors.New("password or email address are invalid")
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s doesn't exist", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ExhaustedError struct {
	GunID string
	Avail int
}

func (e ExhaustedError) Error() string {
	return fmt.Sprintf("gun %s is not available (amount %d)", e.GunID, e.Avail)
}

func (e ExhaustedError) Is(target error) bool { return target == ErrInventoryExhausted }

// StoreError wraps driver, timeout and commit failures.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

var businessErrors = []error{
	ErrNotFound, ErrInventoryExhausted, ErrInsufficientPermissions, ErrUnauthenticated,
	ErrInvalidState, ErrInvalidArgument, ErrAlreadyLent, ErrStoreFailure,
	ErrEmailTaken, ErrInvalidCredentials,
}

// asStoreError leaves business outcomes untouched and wraps everything else.
func asStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return &StoreError{Op: op, Err: err}
}
