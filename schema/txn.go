package schema

import (
	"fmt"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/statemachine"
)

// Txn is a copy-on-write overlay over the Registry's committed entries:
// reads inside a Txn see the snapshot taken at Begin plus this Txn's own
// staged writes; nothing is visible to other Txns until Commit.
type Txn struct {
	reg *Registry

	base    map[common.IndexDescriptor]*indexEntry
	added   map[common.IndexDescriptor]*indexEntry
	removed map[common.IndexDescriptor]bool
}

// Begin opens a transaction against the registry's current committed
// state.
func (r *Registry) Begin() *Txn {
	r.mu.RLock()
	base := make(map[common.IndexDescriptor]*indexEntry, len(r.entries))
	for d, e := range r.entries {
		base[d] = e
	}
	r.mu.RUnlock()

	return &Txn{
		reg:     r,
		base:    base,
		added:   make(map[common.IndexDescriptor]*indexEntry),
		removed: make(map[common.IndexDescriptor]bool),
	}
}

func (t *Txn) lookup(d common.IndexDescriptor) (*indexEntry, bool) {
	if t.removed[d] {
		return nil, false
	}
	if e, ok := t.added[d]; ok {
		return e, true
	}
	e, ok := t.base[d]
	return e, ok
}

func (t *Txn) hasConstraint(d common.IndexDescriptor) bool {
	e, ok := t.lookup(d)
	return ok && e.kind == common.ConstraintBackingIndex
}

// IndexCreate declares a regular index over (labelID, propertyKeyID). It
// fails with AlreadyConstrained if a uniqueness constraint already
// covers the pair, or AlreadyIndexed if a plain index already does.
func (t *Txn) IndexCreate(labelID, propertyKeyID uint64) (common.IndexDescriptor, error) {
	d := common.NewIndexDescriptor(labelID, propertyKeyID)

	if t.hasConstraint(d) {
		return d, common.NewAlreadyConstrained(d)
	}
	if _, exists := t.lookup(d); exists {
		return d, common.NewAlreadyIndexed(d)
	}

	t.added[d] = &indexEntry{descriptor: d, kind: common.RegularIndex}
	return d, nil
}

// UniquenessConstraintCreate declares a uniqueness constraint over
// (labelID, propertyKeyID), creating its backing index with the owner
// already set in the same commit -- the happy path never opens an
// orphan window. Contrast ConstraintIndexCreateOrphan, which simulates
// the crash window directly for recovery tests.
func (t *Txn) UniquenessConstraintCreate(labelID, propertyKeyID uint64) (common.IndexDescriptor, error) {
	d := common.NewIndexDescriptor(labelID, propertyKeyID)

	if _, exists := t.lookup(d); exists {
		return d, fmt.Errorf("Unable to add constraint on %s: an index or constraint already exists.", d)
	}

	id := t.reg.allocateConstraintID()
	t.added[d] = &indexEntry{descriptor: d, kind: common.ConstraintBackingIndex, ownerConstraintID: &id}
	return d, nil
}

// ConstraintIndexCreateOrphan creates a constraint-backing index with no
// owning constraint -- the side effect a bare constraint-index-create
// action produces when it runs without the surrounding constraint
// commit, used to exercise orphan recovery.
func (t *Txn) ConstraintIndexCreateOrphan(labelID, propertyKeyID uint64) (common.IndexDescriptor, error) {
	d := common.NewIndexDescriptor(labelID, propertyKeyID)

	if _, exists := t.lookup(d); exists {
		return d, common.NewAlreadyIndexed(d)
	}

	t.added[d] = &indexEntry{descriptor: d, kind: common.ConstraintBackingIndex, ownerConstraintID: nil}
	return d, nil
}

// IndexDrop fails with NoSuchIndex if absent. Whether the drop is legal
// for an existing index's current proxy state is decided by the shared
// state machine's DROP transition -- a populating index can't be
// dropped directly, the caller must cancel the population job first.
func (t *Txn) IndexDrop(d common.IndexDescriptor) error {
	e, ok := t.lookup(d)
	if !ok {
		return common.NewNoSuchIndex(d)
	}
	if e.proxy != nil {
		if _, err := statemachine.Next(e.proxy.State(), statemachine.Drop); err != nil && err != statemachine.ErrDropped {
			return err
		}
	}

	t.removed[d] = true
	delete(t.added, d)
	return nil
}

// IndexesGetForLabel returns regular (non-constraint-backing) indexes
// declared over labelID, visible in this transaction.
func (t *Txn) IndexesGetForLabel(labelID uint64) []common.IndexDescriptor {
	return t.filter(func(e *indexEntry) bool {
		return e.kind == common.RegularIndex && e.descriptor.LabelID == labelID
	})
}

// IndexesGetForLabelAndPropertyKey returns the regular index over
// exactly (labelID, propertyKeyID), if any.
func (t *Txn) IndexesGetForLabelAndPropertyKey(labelID, propertyKeyID uint64) (common.IndexDescriptor, bool) {
	d := common.NewIndexDescriptor(labelID, propertyKeyID)
	e, ok := t.lookup(d)
	if !ok || e.kind != common.RegularIndex {
		return common.IndexDescriptor{}, false
	}
	return d, true
}

// IndexesGetAll returns every regular index visible in this transaction.
func (t *Txn) IndexesGetAll() []common.IndexDescriptor {
	return t.filter(func(e *indexEntry) bool { return e.kind == common.RegularIndex })
}

// UniqueIndexesGetAll returns every constraint-backing index visible in
// this transaction, kept separate from IndexesGetAll so the two views
// never intermingle.
func (t *Txn) UniqueIndexesGetAll() []common.IndexDescriptor {
	return t.filter(func(e *indexEntry) bool { return e.kind == common.ConstraintBackingIndex })
}

// UniqueIndexesGetForLabel returns constraint-backing indexes over
// labelID visible in this transaction.
func (t *Txn) UniqueIndexesGetForLabel(labelID uint64) []common.IndexDescriptor {
	return t.filter(func(e *indexEntry) bool {
		return e.kind == common.ConstraintBackingIndex && e.descriptor.LabelID == labelID
	})
}

func (t *Txn) filter(keep func(*indexEntry) bool) []common.IndexDescriptor {
	seen := make(map[common.IndexDescriptor]*indexEntry, len(t.base)+len(t.added))
	for d, e := range t.base {
		seen[d] = e
	}
	for d, e := range t.added {
		seen[d] = e
	}
	for d := range t.removed {
		delete(seen, d)
	}

	out := make([]common.IndexDescriptor, 0, len(seen))
	for d, e := range seen {
		if keep(e) {
			out = append(out, d)
		}
	}
	return out
}

// Commit merges this transaction's writes into the registry and starts a
// PopulationJob for each newly declared index. Entries are wired with
// their job and proxy while still holding the registry lock, so no
// reader ever observes a committed entry with a nil proxy.
func (t *Txn) Commit() error {
	t.reg.mu.Lock()
	var toStart []*indexEntry
	for d := range t.removed {
		delete(t.reg.entries, d)
	}
	for d, e := range t.added {
		job, proxy := t.reg.buildPopulation(d, e)
		e.job = job
		e.proxy = proxy
		t.reg.entries[d] = e
		toStart = append(toStart, e)
	}
	t.reg.mu.Unlock()

	for _, e := range toStart {
		go e.job.Run()
	}
	return nil
}

// Rollback discards this transaction's staged writes. Because Txn never
// mutates the registry until Commit, Rollback is just letting the value
// go out of scope; the method exists so call sites read the same way
// begin/commit/rollback do at the caller's layer.
func (t *Txn) Rollback() {
	t.added = nil
	t.removed = nil
}
