package common

import (
	"errors"
	"fmt"
)

// Category classifies where an Error originated, mirroring the
// category field of the Error{category: INDEXER, ...} literal in
// secondary/indexer/settings.go.
type Category uint8

const (
	CategorySchema Category = iota
	CategoryPopulation
	CategoryProxy
	CategoryRecovery
)

func (c Category) String() string {
	switch c {
	case CategorySchema:
		return "SCHEMA"
	case CategoryPopulation:
		return "POPULATION"
	case CategoryProxy:
		return "PROXY"
	case CategoryRecovery:
		return "RECOVERY"
	default:
		return "UNKNOWN"
	}
}

// Severity mirrors the severity field of that same teacher literal.
type Severity uint8

const (
	SeverityWarn Severity = iota
	SeverityError
	SeverityFatal
)

// Error is the shared wrapper every error kind below is built from.
type Error struct {
	Category Category
	Severity Severity
	Cause    error
	Kind     ErrorKind
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorKind enumerates the error kinds surfaced to callers.
type ErrorKind uint8

const (
	AlreadyConstrained ErrorKind = iota
	AlreadyIndexed
	NoSuchIndex
	IndexPopulationFailed
	IndexEntryConflict
	IndexProxyAlreadyClosed
	ConstraintIndexDropRejected
)

func (k ErrorKind) String() string {
	switch k {
	case AlreadyConstrained:
		return "AlreadyConstrained"
	case AlreadyIndexed:
		return "AlreadyIndexed"
	case NoSuchIndex:
		return "NoSuchIndex"
	case IndexPopulationFailed:
		return "IndexPopulationFailed"
	case IndexEntryConflict:
		return "IndexEntryConflict"
	case IndexProxyAlreadyClosed:
		return "IndexProxyAlreadyClosed"
	case ConstraintIndexDropRejected:
		return "ConstraintIndexDropRejected"
	default:
		return "Unknown"
	}
}

// NewAlreadyConstrained reports that a regular index was requested over a
// pair already governed by a uniqueness constraint:
// "Unable to add index :label[L](property[P]) : Already constrained
// CONSTRAINT ON ( n:label[L] ) ASSERT n.property[P] IS UNIQUE."
func NewAlreadyConstrained(d IndexDescriptor) error {
	return &Error{
		Category: CategorySchema,
		Severity: SeverityWarn,
		Kind:     AlreadyConstrained,
		Cause: fmt.Errorf(
			"Unable to add index %s : Already constrained CONSTRAINT ON ( n:label[%d] ) ASSERT n.property[%d] IS UNIQUE.",
			d, d.LabelID, d.PropertyKeyID),
	}
}

// NewAlreadyIndexed reports that a second index over the same descriptor
// was attempted: exactly one index may exist per descriptor.
func NewAlreadyIndexed(d IndexDescriptor) error {
	return &Error{
		Category: CategorySchema,
		Severity: SeverityWarn,
		Kind:     AlreadyIndexed,
		Cause:    fmt.Errorf("Unable to add index %s : index already exists.", d),
	}
}

// NewNoSuchIndex reports a drop against a descriptor with no index:
// "Unable to drop index on :label[L](property[P]): No such INDEX ON
// :label[L](property[P])."
func NewNoSuchIndex(d IndexDescriptor) error {
	return &Error{
		Category: CategorySchema,
		Severity: SeverityWarn,
		Kind:     NoSuchIndex,
		Cause: fmt.Errorf(
			"Unable to drop index on %s: No such INDEX ON %s.", d, d),
	}
}

// NewIndexPopulationFailed wraps the populator's failure cause, the form
// that propagates to a FAILED(cause) delegate.
func NewIndexPopulationFailed(d IndexDescriptor, cause error) error {
	return &Error{
		Category: CategoryPopulation,
		Severity: SeverityError,
		Kind:     IndexPopulationFailed,
		Cause:    fmt.Errorf("index population failed for %s: %w", d, cause),
	}
}

// NewIndexEntryConflict reports a uniqueness violation observed by an
// IndexWriter during add/update.
func NewIndexEntryConflict(d IndexDescriptor, value interface{}, nodeIDs []uint64) error {
	return &Error{
		Category: CategoryPopulation,
		Severity: SeverityWarn,
		Kind:     IndexEntryConflict,
		Cause: fmt.Errorf(
			"index entry conflict on %s: value %v already indexed by node(s) %v", d, value, nodeIDs),
	}
}

// NewIndexProxyAlreadyClosed reports an update delivered to a proxy
// whose delegate has already failed (FailedDelegate.Apply), e.g. during
// shutdown races.
func NewIndexProxyAlreadyClosed(d IndexDescriptor) error {
	return &Error{
		Category: CategoryProxy,
		Severity: SeverityWarn,
		Kind:     IndexProxyAlreadyClosed,
		Cause:    fmt.Errorf("index proxy for %s is already closed", d),
	}
}

// NewConstraintIndexDropRejected reports a direct drop attempted against
// a constraint-backing index: "Constraint indexes cannot be dropped
// directly, instead drop the owning uniqueness constraint."
func NewConstraintIndexDropRejected() error {
	return &Error{
		Category: CategorySchema,
		Severity: SeverityWarn,
		Kind:     ConstraintIndexDropRejected,
		Cause:    fmt.Errorf("Constraint indexes cannot be dropped directly, instead drop the owning uniqueness constraint."),
	}
}

// IsExpectedPopulationNoise reports whether err is one of the two kinds
// that must not be logged at error severity: an expected uniqueness
// conflict on a constraint-backing index, or a proxy that was already
// closed during a shutdown race.
func IsExpectedPopulationNoise(err error) bool {
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.Kind == IndexEntryConflict || e.Kind == IndexProxyAlreadyClosed {
				return true
			}
			err = errors.Unwrap(e)
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}
