package queue

import (
	"testing"

	"github.com/sydefz/graphkernel/common"
)

func mkUpdate(id uint64) common.NodePropertyUpdate {
	return common.NodePropertyUpdate{NodeID: id, Kind: common.Added, ValueAfter: id}
}

func TestEnqueueDrainWhileFIFO(t *testing.T) {
	q := New()
	for _, id := range []uint64{3, 1, 2} {
		q.Enqueue(mkUpdate(id))
	}

	var got []uint64
	n, err := q.DrainWhile(
		func(common.NodePropertyUpdate) bool { return true },
		func(u common.NodePropertyUpdate) error {
			got = append(got, u.NodeID)
			return nil
		},
		0,
	)
	if err != nil {
		t.Fatalf("DrainWhile error: %v", err)
	}
	if n != 3 {
		t.Fatalf("drained %d updates, want 3", n)
	}
	want := []uint64{3, 1, 2}
	for i, id := range want {
		if got[i] != id {
			t.Errorf("drain order[%d] = %d, want %d (FIFO)", i, got[i], id)
		}
	}
}

func TestDrainWhileStopsAtPredicate(t *testing.T) {
	q := New()
	q.Enqueue(mkUpdate(1))
	q.Enqueue(mkUpdate(5))
	q.Enqueue(mkUpdate(2))

	n, err := q.DrainWhile(
		func(u common.NodePropertyUpdate) bool { return u.NodeID <= 1 },
		func(common.NodePropertyUpdate) error { return nil },
		0,
	)
	if err != nil {
		t.Fatalf("DrainWhile error: %v", err)
	}
	if n != 1 {
		t.Fatalf("drained %d, want 1", n)
	}
	if q.Len() != 2 {
		t.Fatalf("remaining queue length = %d, want 2", q.Len())
	}
}

func TestDrainWhileStopsAtMaxBatch(t *testing.T) {
	q := New()
	for _, id := range []uint64{1, 2, 3, 4, 5} {
		q.Enqueue(mkUpdate(id))
	}

	n, err := q.DrainWhile(
		func(common.NodePropertyUpdate) bool { return true },
		func(common.NodePropertyUpdate) error { return nil },
		2,
	)
	if err != nil {
		t.Fatalf("DrainWhile error: %v", err)
	}
	if n != 2 {
		t.Fatalf("drained %d, want 2 (bounded by maxBatch)", n)
	}
	if q.Len() != 3 {
		t.Fatalf("remaining queue length = %d, want 3", q.Len())
	}

	n, err = q.DrainWhile(
		func(common.NodePropertyUpdate) bool { return true },
		func(common.NodePropertyUpdate) error { return nil },
		2,
	)
	if err != nil {
		t.Fatalf("DrainWhile error: %v", err)
	}
	if n != 2 {
		t.Fatalf("second batch drained %d, want 2", n)
	}
	if q.Len() != 1 {
		t.Fatalf("remaining queue length = %d, want 1", q.Len())
	}
}

func TestDrainWhileStopsOnApplyError(t *testing.T) {
	q := New()
	q.Enqueue(mkUpdate(1))
	q.Enqueue(mkUpdate(2))
	q.Enqueue(mkUpdate(3))

	wantErr := errBoom
	calls := 0
	n, err := q.DrainWhile(
		func(common.NodePropertyUpdate) bool { return true },
		func(u common.NodePropertyUpdate) error {
			calls++
			if u.NodeID == 2 {
				return wantErr
			}
			return nil
		},
		0,
	)
	if err != wantErr {
		t.Fatalf("DrainWhile error = %v, want %v", err, wantErr)
	}
	if n != 1 {
		t.Fatalf("applied count = %d, want 1 (stopped before counting the failing update)", n)
	}
	if q.Len() != 1 {
		t.Fatalf("remaining queue length = %d, want 1 (node 3 never reached)", q.Len())
	}
}

func TestNotifyChannelSignalsOnEnqueue(t *testing.T) {
	q := New()
	select {
	case <-q.NotifyChannel():
		t.Fatal("notify channel fired before any Enqueue")
	default:
	}

	q.Enqueue(mkUpdate(1))
	select {
	case <-q.NotifyChannel():
	default:
		t.Fatal("notify channel did not fire after Enqueue")
	}
}

func TestCounts(t *testing.T) {
	q := New()
	q.Enqueue(mkUpdate(1))
	q.Enqueue(mkUpdate(2))
	q.DrainWhile(func(common.NodePropertyUpdate) bool { return true }, func(common.NodePropertyUpdate) error { return nil }, 0)

	enq, deq := q.Counts()
	if enq != 2 || deq != 2 {
		t.Errorf("Counts() = (%d, %d), want (2, 2)", enq, deq)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
