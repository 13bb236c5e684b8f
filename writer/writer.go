// Package writer defines the pluggable persistent index sink
// PopulationJob drives. Implementations live outside this module --
// on-disk index formats are an explicit non-goal here -- this package
// only fixes the contract and the batch type used during live-update
// application.
package writer

import "github.com/sydefz/graphkernel/common"

// Batch is the unit update applies during the post-scan phase: one
// writer-level upsert or delete per property value, already resolved
// from a NodePropertyUpdate by the caller (Added/Changed -> upsert,
// Removed -> delete).
type Batch struct {
	NodeID uint64
	Value  interface{}
	Delete bool
}

// IndexWriter is the contract every persistent index sink must satisfy:
//
//   - Create must be called exactly once before any Add/Update.
//   - Add is used during the initial store scan, in ascending nodeId
//     order.
//   - Update is used once the scan frontier has passed a node, applying
//     live updates queued for it.
//   - On a uniqueness violation Add/Update return
//     common.NewIndexEntryConflict's error carrying the offending value
//     and node ids.
//   - Close(true) makes the index durable and queryable; Close(false)
//     discards partial state. Close is called exactly once.
//   - MarkFailed persists a human-readable failure record so restart
//     observes a FAILED index with cause.
type IndexWriter interface {
	Create() error
	Add(nodeID uint64, value interface{}) error
	Update(batch []Batch) error
	MarkFailed(reason error) error
	Close(success bool) error
}

// Descriptor is an alias of common.IndexDescriptor, the identity of the
// index a writer builds. IndexWriter itself takes no descriptor.
type Descriptor = common.IndexDescriptor
