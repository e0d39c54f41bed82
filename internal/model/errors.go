package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrCycle is returned when inserting a task whose dependency edges would close a cycle.
	ErrCycle = errors.New("dependency cycle")
	// ErrInvalidTransition is returned on an illegal ticket status transition.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPermission is returned when an authority level is below the operation threshold.
	ErrPermission = errors.New("insufficient authority")
	// ErrAlreadyAssigned is returned when a task claim loses the race to another caller.
	ErrAlreadyAssigned = errors.New("already assigned")
)
