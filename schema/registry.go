// Package schema implements creating and dropping indexes and
// constraints, and the list views used to query them. It is the layer
// that ties IndexDescriptor, FlippableProxy, and PopulationJob together
// behind a small transactional API.
//
// The real transaction manager is an external collaborator; Txn here is
// a minimal copy-on-write overlay sufficient to give the create-then-
// list, transactional-merge, and rollback properties concrete, testable
// semantics without depending on the store's actual MVCC implementation.
package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/populate"
	"github.com/sydefz/graphkernel/recovery"
	"github.com/sydefz/graphkernel/statemachine"
	"github.com/sydefz/graphkernel/storescan"
	"github.com/sydefz/graphkernel/writer"
)

// ScanFactory builds the StoreScan that will populate descriptor.
type ScanFactory func(descriptor common.IndexDescriptor) storescan.StoreScan

// WriterFactory builds the IndexWriter that will persist descriptor.
type WriterFactory func(descriptor common.IndexDescriptor) writer.IndexWriter

// OnlineApplyFactory builds the function an OnlineDelegate forwards
// post-flip updates to, for a given descriptor.
type OnlineApplyFactory func(descriptor common.IndexDescriptor) func(common.NodePropertyUpdate) error

type indexEntry struct {
	descriptor        common.IndexDescriptor
	kind              common.IndexKind
	ownerConstraintID *uint64

	proxy *populate.Proxy
	job   *populate.Job
}

// Registry is the schema-level implementation: the committed set of
// indexes and constraints, plus the factories needed to start a
// PopulationJob when one is declared.
type Registry struct {
	mu      sync.RWMutex
	entries map[common.IndexDescriptor]*indexEntry

	config             common.Config
	scanFactory        ScanFactory
	writerFactory      WriterFactory
	onlineApplyFactory OnlineApplyFactory
	clearSchemaCache   func()

	sf singleflight.Group

	nextConstraintID uint64
}

func NewRegistry(scanFactory ScanFactory, writerFactory WriterFactory, onlineApplyFactory OnlineApplyFactory, config common.Config) *Registry {
	if config == nil {
		config = common.DefaultConfig()
	}
	return &Registry{
		entries:            make(map[common.IndexDescriptor]*indexEntry),
		config:             config,
		scanFactory:        scanFactory,
		writerFactory:      writerFactory,
		onlineApplyFactory: onlineApplyFactory,
	}
}

// SetClearSchemaCache installs the callback PopulationJob invokes after a
// successful flip, so cached schema state built on "this index doesn't
// exist yet" is rebuilt on next access.
func (r *Registry) SetClearSchemaCache(fn func()) {
	r.mu.Lock()
	r.clearSchemaCache = fn
	r.mu.Unlock()
}

// CreateIndex is the dedup-guarded convenience path: concurrent calls for
// the same descriptor collapse onto a single creation attempt via
// singleflight, guaranteeing at most one populator per descriptor even
// under racing callers, instead of relying only on the registry mutex
// serializing individual map mutations.
func (r *Registry) CreateIndex(ctx context.Context, labelID, propertyKeyID uint64) (common.IndexDescriptor, error) {
	d := common.NewIndexDescriptor(labelID, propertyKeyID)
	v, err, _ := r.sf.Do(d.String(), func() (interface{}, error) {
		txn := r.Begin()
		got, cerr := txn.IndexCreate(labelID, propertyKeyID)
		if cerr != nil {
			return got, cerr
		}
		return got, txn.Commit()
	})
	return v.(common.IndexDescriptor), err
}

// CreateUniquenessConstraint declares a uniqueness constraint and its
// backing index in one committed transaction, so there is never a
// window where the backing index exists without its owner.
func (r *Registry) CreateUniquenessConstraint(ctx context.Context, labelID, propertyKeyID uint64) (common.IndexDescriptor, error) {
	d := common.NewIndexDescriptor(labelID, propertyKeyID)
	v, err, _ := r.sf.Do("constraint:"+d.String(), func() (interface{}, error) {
		txn := r.Begin()
		got, cerr := txn.UniquenessConstraintCreate(labelID, propertyKeyID)
		if cerr != nil {
			return got, cerr
		}
		return got, txn.Commit()
	})
	return v.(common.IndexDescriptor), err
}

// CreateOrphanConstraintIndex creates a constraint-backing index with no
// owning constraint committed, reproducing the crash window recovery
// must later close. It exists for recovery-path tests; ordinary callers
// want CreateUniquenessConstraint.
func (r *Registry) CreateOrphanConstraintIndex(ctx context.Context, labelID, propertyKeyID uint64) (common.IndexDescriptor, error) {
	txn := r.Begin()
	d, err := txn.ConstraintIndexCreateOrphan(labelID, propertyKeyID)
	if err != nil {
		return d, err
	}
	return d, txn.Commit()
}

// IndexHandle returns the bean-level handle for descriptor.
func (r *Registry) IndexHandle(descriptor common.IndexDescriptor) *IndexHandle {
	return &IndexHandle{registry: r, descriptor: descriptor}
}

func (r *Registry) lookup(d common.IndexDescriptor) (*indexEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[d]
	return e, ok
}

func (r *Registry) buildPopulation(d common.IndexDescriptor, e *indexEntry) (*populate.Job, *populate.Proxy) {
	scan := r.scanFactory(d)
	w := r.writerFactory(d)
	onlineApply := r.onlineApplyFactory(d)

	var opts []populate.Option
	if r.clearSchemaCache != nil {
		opts = append(opts, populate.WithClearSchemaCache(r.clearSchemaCache))
	}
	if e.kind == common.ConstraintBackingIndex && e.ownerConstraintID == nil {
		opts = append(opts, populate.WithAwaitingOwner())
	}
	return populate.NewJob(d, scan, w, onlineApply, r.config, opts...)
}

// ---- recovery.Registry ----

func (r *Registry) PersistedRules(ctx context.Context) ([]recovery.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]recovery.Rule, 0, len(r.entries))
	for _, e := range r.entries {
		rules = append(rules, recovery.Rule{
			Descriptor:        e.descriptor,
			Kind:              e.kind,
			OwnerConstraintID: e.ownerConstraintID,
		})
	}
	return rules, nil
}

func (r *Registry) HasOwningConstraint(ctx context.Context, rule recovery.Rule) (bool, error) {
	return rule.OwnerConstraintID != nil, nil
}

func (r *Registry) DropIndex(ctx context.Context, descriptor common.IndexDescriptor) error {
	txn := r.Begin()
	if err := txn.IndexDrop(descriptor); err != nil {
		return err
	}
	return txn.Commit()
}

// DropOrphan removes descriptor's entry as an orphan-recovery action: it
// validates the removal through the state machine's RECOVER_ORPHAN event
// rather than DROP, matching the distinct transition recovery drives
// instead of a user-initiated drop.
func (r *Registry) DropOrphan(ctx context.Context, descriptor common.IndexDescriptor) error {
	e, ok := r.lookup(descriptor)
	if !ok {
		return common.NewNoSuchIndex(descriptor)
	}
	if e.proxy != nil {
		if _, err := statemachine.Next(e.proxy.State(), statemachine.RecoverOrphan); err != nil && err != statemachine.ErrDropped {
			return err
		}
	}

	r.mu.Lock()
	delete(r.entries, descriptor)
	r.mu.Unlock()
	return nil
}

// dropCancelledPopulating removes descriptor's entry directly, bypassing
// the state machine's unconditional POPULATING -> DROP rejection. It is
// only reachable from IndexHandle.Drop after CancelPopulation has
// confirmed the backing job stopped, so the index being removed is
// inert rather than actually still populating.
func (r *Registry) dropCancelledPopulating(descriptor common.IndexDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[descriptor]; !ok {
		return common.NewNoSuchIndex(descriptor)
	}
	delete(r.entries, descriptor)
	return nil
}

// ---- constraint id allocation used by the happy-path constraint-create flow ----

func (r *Registry) allocateConstraintID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextConstraintID++
	return r.nextConstraintID
}

// IndexHandle is the bean-level handle applications hold for one index.
type IndexHandle struct {
	registry   *Registry
	descriptor common.IndexDescriptor
}

func (h *IndexHandle) Descriptor() common.IndexDescriptor { return h.descriptor }

// State reports the index's current IndexState, or false if the index
// doesn't exist.
func (h *IndexHandle) State() (statemachine.State, bool) {
	e, ok := h.registry.lookup(h.descriptor)
	if !ok {
		return 0, false
	}
	if e.proxy == nil {
		return 0, false
	}
	return e.proxy.State(), true
}

// CancelPopulation requests cancellation of this index's background
// population job and waits up to timeout for it to observe the request
// and stop. It only applies to an index still POPULATING; it is a
// no-op error for any other state. Once it returns nil, the index's job
// is inert and Drop can remove it despite never reaching ONLINE.
func (h *IndexHandle) CancelPopulation(timeout time.Duration) error {
	e, ok := h.registry.lookup(h.descriptor)
	if !ok {
		return common.NewNoSuchIndex(h.descriptor)
	}
	if e.job == nil || e.proxy == nil || e.proxy.State() != statemachine.Populating {
		return fmt.Errorf("%s is not populating, nothing to cancel", h.descriptor)
	}

	done := e.job.Cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for %s population job to cancel", h.descriptor)
	}
}

// Drop rejects constraint-backing indexes outright -- they must be
// removed by dropping the owning uniqueness constraint, not the index
// directly. A POPULATING index can only be dropped once
// CancelPopulation has confirmed its job stopped; otherwise it drops
// the index through a fresh transaction.
func (h *IndexHandle) Drop() error {
	e, ok := h.registry.lookup(h.descriptor)
	if !ok {
		return common.NewNoSuchIndex(h.descriptor)
	}
	if e.kind == common.ConstraintBackingIndex {
		return common.NewConstraintIndexDropRejected()
	}
	if e.proxy != nil && e.proxy.State() == statemachine.Populating && e.job != nil && e.job.IsCancelled() && e.job.Done() {
		return h.registry.dropCancelledPopulating(h.descriptor)
	}
	return h.registry.DropIndex(context.Background(), h.descriptor)
}
