package schema

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/statemachine"
	"github.com/sydefz/graphkernel/storescan"
	"github.com/sydefz/graphkernel/writer"
)

// waitForState polls h's state until it reaches one of want or the
// timeout elapses. Population runs on its own goroutine, so tests that
// care about the post-flip state need to wait for it rather than assume
// a synchronous transition.
func waitForState(t *testing.T, h *IndexHandle, want ...statemachine.State) statemachine.State {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		state, ok := h.State()
		if ok {
			for _, w := range want {
				if state == w {
					return state
				}
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state in %v, last seen %v (exists=%v)", want, state, ok)
		}
		time.Sleep(time.Millisecond)
	}
}

type nopWriter struct{}

func (nopWriter) Create() error                        { return nil }
func (nopWriter) Add(uint64, interface{}) error        { return nil }
func (nopWriter) Update([]writer.Batch) error          { return nil }
func (nopWriter) MarkFailed(error) error                { return nil }
func (nopWriter) Close(bool) error                     { return nil }

func newTestRegistry() *Registry {
	return NewRegistry(
		func(common.IndexDescriptor) storescan.StoreScan { return storescan.NewMemoryScan(nil) },
		func(common.IndexDescriptor) writer.IndexWriter { return nopWriter{} },
		func(common.IndexDescriptor) func(common.NodePropertyUpdate) error {
			return func(common.NodePropertyUpdate) error { return nil }
		},
		common.DefaultConfig(),
	)
}

func TestCreateIndexThenListImmediatelyVisible(t *testing.T) {
	r := newTestRegistry()
	d, err := r.CreateIndex(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}

	found := r.IndexHandle(d)
	if _, ok := found.State(); !ok {
		t.Fatal("newly created index not visible via IndexHandle")
	}

	txn := r.Begin()
	all := txn.IndexesGetAll()
	if len(all) != 1 || all[0] != d {
		t.Errorf("IndexesGetAll() = %v, want [%v]", all, d)
	}
}

func TestCreateIndexTwiceFails(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	if _, err := r.CreateIndex(ctx, 1, 2); err != nil {
		t.Fatalf("first CreateIndex error: %v", err)
	}
	_, err := r.CreateIndex(ctx, 1, 2)
	if err == nil {
		t.Fatal("second CreateIndex over the same descriptor should fail")
	}
	var e *common.Error
	if !errors.As(err, &e) || e.Kind != common.AlreadyIndexed {
		t.Errorf("error = %v, want AlreadyIndexed", err)
	}
}

func TestIndexCreateRejectsWhenConstrained(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	if _, err := r.CreateUniquenessConstraint(ctx, 1, 2); err != nil {
		t.Fatalf("CreateUniquenessConstraint error: %v", err)
	}
	_, err := r.CreateIndex(ctx, 1, 2)
	var e *common.Error
	if !errors.As(err, &e) || e.Kind != common.AlreadyConstrained {
		t.Errorf("error = %v, want AlreadyConstrained", err)
	}
}

func TestTransactionalMergeAcrossConcurrentCreates(t *testing.T) {
	r := newTestRegistry()

	txnA := r.Begin()
	txnB := r.Begin()

	dA, err := txnA.IndexCreate(1, 1)
	if err != nil {
		t.Fatalf("txnA.IndexCreate error: %v", err)
	}
	dB, err := txnB.IndexCreate(2, 2)
	if err != nil {
		t.Fatalf("txnB.IndexCreate error: %v", err)
	}

	if err := txnA.Commit(); err != nil {
		t.Fatalf("txnA.Commit error: %v", err)
	}
	if err := txnB.Commit(); err != nil {
		t.Fatalf("txnB.Commit error: %v", err)
	}

	all := r.Begin().IndexesGetAll()
	seen := map[common.IndexDescriptor]bool{}
	for _, d := range all {
		seen[d] = true
	}
	if !seen[dA] || !seen[dB] {
		t.Errorf("IndexesGetAll() = %v, want both %v and %v present after independent commits merge", all, dA, dB)
	}
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	r := newTestRegistry()
	txn := r.Begin()
	if _, err := txn.IndexCreate(1, 1); err != nil {
		t.Fatalf("IndexCreate error: %v", err)
	}
	txn.Rollback()

	all := r.Begin().IndexesGetAll()
	if len(all) != 0 {
		t.Errorf("IndexesGetAll() after rollback = %v, want empty", all)
	}
}

func TestDropRejectsConstraintBackingIndexDirectly(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	d, err := r.CreateUniquenessConstraint(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CreateUniquenessConstraint error: %v", err)
	}

	err = r.IndexHandle(d).Drop()
	var e *common.Error
	if !errors.As(err, &e) || e.Kind != common.ConstraintIndexDropRejected {
		t.Errorf("error = %v, want ConstraintIndexDropRejected", err)
	}
}

func TestDropNoSuchIndex(t *testing.T) {
	r := newTestRegistry()
	err := r.IndexHandle(common.NewIndexDescriptor(9, 9)).Drop()
	var e *common.Error
	if !errors.As(err, &e) || e.Kind != common.NoSuchIndex {
		t.Errorf("error = %v, want NoSuchIndex", err)
	}
}

func TestOrphanConstraintIndexRecoverableViaDropOrphan(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	d, err := r.CreateOrphanConstraintIndex(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CreateOrphanConstraintIndex error: %v", err)
	}

	waitForState(t, r.IndexHandle(d), statemachine.AwaitingConstraintOwner)

	rules, err := r.PersistedRules(ctx)
	if err != nil {
		t.Fatalf("PersistedRules error: %v", err)
	}
	if len(rules) != 1 || rules[0].OwnerConstraintID != nil {
		t.Fatalf("PersistedRules() = %+v, want one rule with no owner", rules)
	}

	owned, err := r.HasOwningConstraint(ctx, rules[0])
	if err != nil || owned {
		t.Fatalf("HasOwningConstraint() = (%v, %v), want (false, nil)", owned, err)
	}

	if err := r.DropOrphan(ctx, d); err != nil {
		t.Fatalf("DropOrphan error: %v", err)
	}
	if _, ok := r.IndexHandle(d).State(); ok {
		t.Error("orphan index still visible after DropOrphan")
	}
}

func TestViewsSeparateRegularFromConstraintBacking(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	reg, err := r.CreateIndex(ctx, 1, 1)
	if err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}
	uniq, err := r.CreateUniquenessConstraint(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CreateUniquenessConstraint error: %v", err)
	}

	txn := r.Begin()
	regular := txn.IndexesGetAll()
	unique := txn.UniqueIndexesGetAll()

	if len(regular) != 1 || regular[0] != reg {
		t.Errorf("IndexesGetAll() = %v, want [%v]", regular, reg)
	}
	if len(unique) != 1 || unique[0] != uniq {
		t.Errorf("UniqueIndexesGetAll() = %v, want [%v]", unique, uniq)
	}
}

func TestIndexHandleStateReportsPopulationResult(t *testing.T) {
	r := newTestRegistry()
	d, err := r.CreateIndex(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}

	waitForState(t, r.IndexHandle(d), statemachine.Online)
}

// blockingForeverScan never returns from Run until Stop is called,
// simulating a population job that is still scanning when cancellation
// is requested.
type blockingForeverScan struct {
	stopCh chan struct{}
	once   sync.Once
}

func newBlockingForeverScan() *blockingForeverScan {
	return &blockingForeverScan{stopCh: make(chan struct{})}
}

func (s *blockingForeverScan) Run(storescan.Visitor) error {
	<-s.stopCh
	return nil
}

func (s *blockingForeverScan) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func TestCancelPopulationThenDropSucceeds(t *testing.T) {
	scan := newBlockingForeverScan()
	r := NewRegistry(
		func(common.IndexDescriptor) storescan.StoreScan { return scan },
		func(common.IndexDescriptor) writer.IndexWriter { return nopWriter{} },
		func(common.IndexDescriptor) func(common.NodePropertyUpdate) error {
			return func(common.NodePropertyUpdate) error { return nil }
		},
		common.DefaultConfig(),
	)

	d, err := r.CreateIndex(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}
	h := r.IndexHandle(d)

	if state, ok := h.State(); !ok || state != statemachine.Populating {
		t.Fatalf("state before cancel = (%v, %v), want (Populating, true)", state, ok)
	}

	if err := h.CancelPopulation(time.Second); err != nil {
		t.Fatalf("CancelPopulation error: %v", err)
	}

	if err := h.Drop(); err != nil {
		t.Fatalf("Drop after CancelPopulation error: %v", err)
	}
	if _, ok := r.IndexHandle(d).State(); ok {
		t.Error("index still visible after Drop following CancelPopulation")
	}
}

func TestDropWithoutCancelFirstRejectsPopulatingIndex(t *testing.T) {
	scan := newBlockingForeverScan()
	defer scan.Stop()
	r := NewRegistry(
		func(common.IndexDescriptor) storescan.StoreScan { return scan },
		func(common.IndexDescriptor) writer.IndexWriter { return nopWriter{} },
		func(common.IndexDescriptor) func(common.NodePropertyUpdate) error {
			return func(common.NodePropertyUpdate) error { return nil }
		},
		common.DefaultConfig(),
	)

	d, err := r.CreateIndex(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}

	if err := r.IndexHandle(d).Drop(); err == nil {
		t.Fatal("Drop should reject a still-populating index that was never cancelled")
	}
}

func TestCancelPopulationRejectsNonPopulatingIndex(t *testing.T) {
	r := newTestRegistry()
	d, err := r.CreateIndex(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}
	waitForState(t, r.IndexHandle(d), statemachine.Online)

	if err := r.IndexHandle(d).CancelPopulation(time.Second); err == nil {
		t.Fatal("CancelPopulation should reject an already-online index")
	}
}
