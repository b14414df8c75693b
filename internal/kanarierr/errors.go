// Package kanarierr implements the error taxonomy from the node's error
// handling design: validation, VM, storage, remote/DA and consistency
// errors are distinguishable via errors.As so callers can apply the right
// policy (reject, retry, or fail fast) without parsing messages.
package kanarierr

import (
	"fmt"

	"github.com/kanari-network/kanarinode/pkg/utils"
)

// Wrap adds context to err. Returns nil if err is nil.
func Wrap(err error, message string) error {
	return utils.Wrap(err, message)
}

// Kind distinguishes the error categories from the error handling design.
type Kind int

const (
	KindValidation Kind = iota
	KindVM
	KindStorage
	KindRemote
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindVM:
		return "vm"
	case KindStorage:
		return "storage"
	case KindRemote:
		return "remote"
	case KindConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Validation errors are reported to the
// caller, not logged as fatal; consistency errors are hard errors reported
// with detailed location by repair; storage errors may trigger a
// maintenance-mode transition in the sequencer.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New tags err with kind and an operation label.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation tags a validation-category error.
func Validation(op string, err error) error { return New(KindValidation, op, err) }

// VM tags a VM-category error.
func VM(op string, err error) error { return New(KindVM, op, err) }

// Storage tags a storage-category error.
func Storage(op string, err error) error { return New(KindStorage, op, err) }

// Remote tags a remote/DA-category error.
func Remote(op string, err error) error { return New(KindRemote, op, err) }

// Consistency tags a consistency-category error.
func Consistency(op string, err error) error { return New(KindConsistency, op, err) }

// Is reports whether err (or anything it wraps) is a kanarierr.Error of the
// given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
