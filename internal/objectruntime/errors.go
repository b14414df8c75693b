package objectruntime

import "errors"

// Borrow/ownership errors, mirroring the original's
// ALREADY_BORROWED/ALREADY_TAKEN_OUT_OR_EMBEDED/NOT_FOUND abort codes.
var (
	ErrAlreadyExists          = errors.New("objectruntime: value already exists")
	ErrNotFound               = errors.New("objectruntime: value not found")
	ErrAlreadyBorrowed        = errors.New("objectruntime: object already borrowed")
	ErrAlreadyTakenOrEmbedded = errors.New("objectruntime: object already taken out or embedded")
)
