package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are shared by the stores,
// the ledger and the outer surfaces.
// -----------------------------------------------------------------------------

// Exercise errors
var (
	ErrExerciseNotFound     = errors.New("exercise not found")
	ErrExercisePackNotFound = errors.New("exercise pack not found")
	ErrInvalidExerciseID    = errors.New("invalid exercise id")
)

// Progress errors
var (
	ErrProgressNotFound = errors.New("progress not found")
	ErrUserNotFound     = errors.New("user not found")
)

// Identity errors
var (
	ErrMissingUser  = errors.New("user identity required")
	ErrUnauthorized = errors.New("unauthorized")
)

// General errors
var (
	ErrInvalidInput = errors.New("invalid input")
)
