package repository

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrDuplicateIMEI = errors.New("imei already bound to another customer")
	ErrConflict      = errors.New("concurrent update conflict")
)

// maxUpdateAttempts bounds the re-read/re-apply loop of conditional updates.
const maxUpdateAttempts = 8

// Mutator edits a fresh copy of a record inside a conditional update. It may
// run more than once when a concurrent writer wins, so it must derive all of
// its effects from the record it is given.
type Mutator[T any] func(*T) error
