// Package common holds the value types, configuration, and error kinds
// shared across the schema-index population engine. It plays the role
// secondary/common plays for the indexer package: small, dependency-
// light types that every other package imports.
package common

import "fmt"

// IndexDescriptor identifies an index by the (label, property) pair it
// covers. Equality is structural: two descriptors with the same fields
// are the same index identity, and a descriptor is safe to use as a map
// key. No two indexes share a descriptor within one database.
type IndexDescriptor struct {
	LabelID      uint64
	PropertyKeyID uint64
}

func NewIndexDescriptor(labelID, propertyKeyID uint64) IndexDescriptor {
	return IndexDescriptor{LabelID: labelID, PropertyKeyID: propertyKeyID}
}

func (d IndexDescriptor) String() string {
	return fmt.Sprintf(":label[%d](property[%d])", d.LabelID, d.PropertyKeyID)
}

// UpdateKind classifies a NodePropertyUpdate.
type UpdateKind uint8

const (
	Added UpdateKind = iota
	Changed
	Removed
)

func (k UpdateKind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Changed:
		return "CHANGED"
	case Removed:
		return "REMOVED"
	default:
		return fmt.Sprintf("UpdateKind(%d)", uint8(k))
	}
}

// NodePropertyUpdate is one committed change to a node's property value
// that a live index delegate may need to apply. ValueBefore is nil for
// Added, ValueAfter is nil for Removed.
type NodePropertyUpdate struct {
	NodeID      uint64
	Kind        UpdateKind
	ValueBefore interface{}
	ValueAfter  interface{}
}

// IndexKind distinguishes a user-declared index from the hidden index a
// uniqueness constraint creates to enforce itself. Constraint-backing
// indexes are not independently droppable.
type IndexKind uint8

const (
	RegularIndex IndexKind = iota
	ConstraintBackingIndex
)

func (k IndexKind) String() string {
	if k == ConstraintBackingIndex {
		return "constraint-backing"
	}
	return "regular"
}
