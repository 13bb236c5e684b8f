package populate

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/logging"
	"github.com/sydefz/graphkernel/queue"
	"github.com/sydefz/graphkernel/statemachine"
	"github.com/sydefz/graphkernel/storescan"
	"github.com/sydefz/graphkernel/writer"
)

// Job is the PopulationJob: it owns the writer and the store scan
// exclusively until flip, and drives an index from nothing to ONLINE (or
// FAILED) underneath a Proxy.
type Job struct {
	descriptor common.IndexDescriptor
	config     common.Config

	proxy *Proxy
	q     *queue.UpdateQueue
	scan  storescan.StoreScan
	w     writer.IndexWriter

	// onlineApply backs the OnlineDelegate (or AwaitingOwnerDelegate)
	// installed on a successful flip; it is how post-flip committed
	// updates keep reaching the now-durable index.
	onlineApply func(common.NodePropertyUpdate) error
	// clearSchemaCache is invoked once, after a successful flip, so
	// derived schema state built on "this index doesn't exist yet" is
	// rebuilt on next access.
	clearSchemaCache func()
	// awaitingOwner marks a constraint-backing index whose owning
	// uniqueness constraint was not committed in the same transaction
	// that created it. Such an index flips to AWAITING_CONSTRAINT_OWNER
	// instead of ONLINE once populated, so recovery can recognize and
	// remove it if no constraint ever adopts it.
	awaitingOwner bool

	workerName string

	cancelled int32
	frontier  uint64

	doneCh   chan struct{}
	doneOnce sync.Once

	mu           sync.Mutex
	failureCause error

	scannedCount metrics.Counter
	drainedCount metrics.Counter
}

// Option configures a Job at construction.
type Option func(*Job)

func WithClearSchemaCache(fn func()) Option {
	return func(j *Job) { j.clearSchemaCache = fn }
}

// WithAwaitingOwner marks the job as populating a constraint-backing
// index that has no owning constraint committed yet.
func WithAwaitingOwner() Option {
	return func(j *Job) { j.awaitingOwner = true }
}

// NewJob builds a Job and the Proxy that will front it. The caller gets
// back both: the proxy to hand to committers, the job to run and
// eventually cancel.
func NewJob(descriptor common.IndexDescriptor, scan storescan.StoreScan, w writer.IndexWriter,
	onlineApply func(common.NodePropertyUpdate) error, config common.Config, opts ...Option) (*Job, *Proxy) {

	if config == nil {
		config = common.DefaultConfig()
	}

	q := queue.New()
	proxy := NewProxy(descriptor, NewPopulatingDelegate(q))

	j := &Job{
		descriptor:   descriptor,
		config:       config,
		proxy:        proxy,
		q:            q,
		scan:         scan,
		w:            w,
		onlineApply:  onlineApply,
		workerName:   config[common.KeyWorkerNamePrefix].String(),
		doneCh:       make(chan struct{}),
		scannedCount: metrics.NewCounter(),
		drainedCount: metrics.NewCounter(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, proxy
}

// Proxy returns the FlippableProxy fronting this job's index.
func (j *Job) Proxy() *Proxy { return j.proxy }

// Stats exposes the go-metrics counters tracking scan/drain progress.
func (j *Job) Stats() (scanned, drained int64) {
	return j.scannedCount.Count(), j.drainedCount.Count()
}

// Run executes the four phases of population: create, scan (with
// interleaved drain), cancellation check, flip. It must run on its own
// goroutine; the done-latch it releases in its outermost deferred call is
// what Cancel's returned channel waits on.
func (j *Job) Run() {
	renamed := "Populator-" + j.descriptor.String()
	if j.workerName != "" {
		renamed = j.workerName + "-" + j.descriptor.String()
	}
	logging.Infof("Job::Run renaming worker %s -> %s", j.descriptor, renamed)
	defer func() {
		logging.Infof("Job::Run restoring worker name for %s", j.descriptor)
		j.doneOnce.Do(func() { close(j.doneCh) })
	}()

	stopProgress := j.startProgressLogger()
	defer stopProgress()

	if err := j.w.Create(); err != nil {
		j.fail(err)
		return
	}

	if err := j.scan.Run(j.visit); err != nil {
		j.fail(err)
		return
	}

	if j.isCancelled() {
		logging.Infof("Job::Run %s cancelled after scan returned; closing writer unsuccessfully, staying POPULATING", j.descriptor)
		if err := j.w.Close(false); err != nil {
			logging.Warnf("Job::Run %s error closing writer after cancellation: %v", j.descriptor, err)
		}
		return
	}

	j.flipToOnline()
}

// visit is the storescan.Visitor: for each scanned node it adds the
// node's current value to the writer (ascending nodeId), advances the
// scan frontier, then opportunistically drains any queued updates that
// target nodes already passed by the scan. This bounds queue size and
// preserves per-node ordering.
func (j *Job) visit(update common.NodePropertyUpdate) error {
	if err := j.w.Add(update.NodeID, update.ValueAfter); err != nil {
		return err
	}
	atomic.StoreUint64(&j.frontier, update.NodeID)
	j.scannedCount.Inc(1)

	frontier := update.NodeID
	_, err := j.q.DrainWhile(
		func(u common.NodePropertyUpdate) bool { return u.NodeID <= frontier },
		j.applyLive,
		j.config[common.KeyDrainBatchSize].Int(),
	)
	return err
}

func (j *Job) applyLive(u common.NodePropertyUpdate) error {
	batch := writer.Batch{NodeID: u.NodeID, Value: u.ValueAfter, Delete: u.Kind == common.Removed}
	if err := j.w.Update([]writer.Batch{batch}); err != nil {
		return err
	}
	j.drainedCount.Inc(1)
	return nil
}

// flipToOnline atomically, under the proxy's flip barrier, drains
// whatever remains in the queue, closes the writer successfully, and
// clears cached schema state. A constraint-backing index with no owning
// constraint yet flips to AWAITING_CONSTRAINT_OWNER instead of ONLINE.
func (j *Job) flipToOnline() {
	var onSuccess Delegate
	if j.awaitingOwner {
		onSuccess = NewAwaitingOwnerDelegate(j.onlineApply)
	} else {
		onSuccess = NewOnlineDelegate(j.onlineApply)
	}

	action := func() error {
		batchSize := j.config[common.KeyDrainBatchSize].Int()
		for {
			applied, err := j.q.DrainWhile(func(common.NodePropertyUpdate) bool { return true }, j.applyLive, batchSize)
			if err != nil {
				return err
			}
			if applied == 0 || batchSize <= 0 {
				break
			}
		}
		if err := j.w.Close(true); err != nil {
			return err
		}
		if j.clearSchemaCache != nil {
			j.clearSchemaCache()
		}
		return nil
	}

	err := j.proxy.Flip(statemachine.FlipOK, action, onSuccess, func(cause error) Delegate {
		return unknownFailure(j.descriptor)
	})
	if err != nil {
		j.fail(err)
		return
	}

	scanned, drained := j.Stats()
	logging.Infof("Job::flipToOnline %s is %s (scanned=%d drained=%d)", j.descriptor, onSuccess.State(), scanned, drained)
}

// fail implements the double-flip: preemptively install a generic failed
// delegate (closing the race where live updates could still reach a
// populating delegate whose writer is about to be abandoned), persist
// the failure, then refine the delegate with the now-known cause.
func (j *Job) fail(cause error) {
	j.proxy.FlipTo(unknownFailure(j.descriptor))

	if err := j.w.MarkFailed(cause); err != nil {
		logging.Warnf("Job::fail %s failed to persist failure record: %v", j.descriptor, err)
	}
	if err := j.w.Close(false); err != nil {
		logging.Warnf("Job::fail %s error closing writer after failure: %v", j.descriptor, err)
	}

	j.mu.Lock()
	j.failureCause = cause
	j.mu.Unlock()

	j.proxy.FlipTo(NewFailedDelegate(j.descriptor, cause))

	if common.IsExpectedPopulationNoise(cause) {
		logging.Infof("Job::fail %s population stopped (expected): %v", j.descriptor, cause)
	} else {
		logging.Errorf("Job::fail %s population failed: %v", j.descriptor, cause)
	}
}

func unknownFailure(d common.IndexDescriptor) Delegate {
	return NewFailedDelegate(d, errors.New("index population failed (cause not yet recorded)"))
}

// FailureCause returns the recorded cause once the job has failed, or
// nil if it hasn't (yet).
func (j *Job) FailureCause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failureCause
}

func (j *Job) isCancelled() bool {
	return atomic.LoadInt32(&j.cancelled) == 1
}

// IsCancelled reports whether Cancel has been requested for this job.
// A populating index whose job is both cancelled and Done can be
// removed outright -- its proxy will never reach ONLINE.
func (j *Job) IsCancelled() bool {
	return j.isCancelled()
}

// Done reports, without blocking, whether the job's done-latch has
// already fired.
func (j *Job) Done() bool {
	select {
	case <-j.doneCh:
		return true
	default:
		return false
	}
}

// Cancel is idempotent: it flips the cancelled flag and stops the store
// scan cooperatively. It returns a channel that closes when the job's
// done-latch fires -- already closed if the job had already flipped, so
// cancelling an already-flipped job is a no-op that returns an
// already-completed future.
func (j *Job) Cancel() <-chan struct{} {
	if atomic.CompareAndSwapInt32(&j.cancelled, 0, 1) {
		logging.Infof("Job::Cancel %s cancellation requested", j.descriptor)
		j.scan.Stop()
	}
	return j.doneCh
}

// AwaitCompletion blocks until the job's done-latch fires or timeout
// elapses (0 means wait forever). The core itself places no timeout on
// completion; this is a convenience for hosts that want to bound the
// wait.
func (j *Job) AwaitCompletion(timeout time.Duration) bool {
	if timeout <= 0 {
		<-j.doneCh
		return true
	}
	select {
	case <-j.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// startProgressLogger starts the periodic scan-progress report modeled
// on secondary/indexer/system_state_logger.go's periodic capture loop,
// and returns a function that stops it.
func (j *Job) startProgressLogger() func() {
	interval := j.config[common.KeyProgressLogInterval].Duration()
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				scanned, drained := j.Stats()
				logging.Infof("Job::progress %s frontier=%d scanned=%d drained=%d queued=%d",
					j.descriptor, atomic.LoadUint64(&j.frontier), scanned, drained, j.q.Len())
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}
