// Package populate implements the two halves of online index population:
// the FlippableProxy that multiplexes index state for committers, and the
// PopulationJob that drives an index from nothing to ONLINE (or FAILED)
// underneath it.
//
// The flip barrier is grounded on secondary/indexer/storage_manager.go's
// "latest index snapshot" rotation: a single mutable slot readers/writers
// funnel through, replaced atomically under a lock rather than published
// via a lock-free pointer swap, because the replacement (draining the
// residual queue, closing the writer) must itself run to completion
// before any update is allowed to see the new delegate.
package populate

import (
	"sync"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/logging"
	"github.com/sydefz/graphkernel/queue"
	"github.com/sydefz/graphkernel/statemachine"
)

// Delegate is what a FlippableProxy's current slot holds: something that
// can accept a committed update and report the IndexState it represents.
type Delegate interface {
	State() statemachine.State
	Apply(update common.NodePropertyUpdate) error
}

// PopulatingDelegate queues every update it receives; nothing is applied
// to the writer directly by committer goroutines; the queue is drained
// by the owning PopulationJob.
type PopulatingDelegate struct {
	Queue *queue.UpdateQueue
}

func NewPopulatingDelegate(q *queue.UpdateQueue) *PopulatingDelegate {
	return &PopulatingDelegate{Queue: q}
}

func (d *PopulatingDelegate) State() statemachine.State { return statemachine.Populating }

func (d *PopulatingDelegate) Apply(update common.NodePropertyUpdate) error {
	d.Queue.Enqueue(update)
	return nil
}

// OnlineDelegate forwards committed updates straight to the writer: the
// index is durable and queryable, and every update arriving from here on
// must also be reflected to preserve the ONLINE invariant.
type OnlineDelegate struct {
	apply func(common.NodePropertyUpdate) error
}

func NewOnlineDelegate(apply func(common.NodePropertyUpdate) error) *OnlineDelegate {
	return &OnlineDelegate{apply: apply}
}

func (d *OnlineDelegate) State() statemachine.State { return statemachine.Online }

func (d *OnlineDelegate) Apply(update common.NodePropertyUpdate) error {
	return d.apply(update)
}

// AwaitingOwnerDelegate is what a constraint-backing index's proxy holds
// once its scan has finished but no uniqueness constraint has adopted it
// yet. It applies updates exactly like OnlineDelegate -- the index is
// fully populated and must keep tracking live writes -- but reports a
// distinct state so recovery can tell a genuinely orphaned backing index
// apart from one that's simply still populating.
type AwaitingOwnerDelegate struct {
	apply func(common.NodePropertyUpdate) error
}

func NewAwaitingOwnerDelegate(apply func(common.NodePropertyUpdate) error) *AwaitingOwnerDelegate {
	return &AwaitingOwnerDelegate{apply: apply}
}

func (d *AwaitingOwnerDelegate) State() statemachine.State { return statemachine.AwaitingConstraintOwner }

func (d *AwaitingOwnerDelegate) Apply(update common.NodePropertyUpdate) error {
	return d.apply(update)
}

// FailedDelegate rejects further updates. A committer hitting this is
// the shutdown-race case: the index is gone, writing to it is a no-op
// failure, not a surprise, so it must not be logged at error severity.
type FailedDelegate struct {
	Descriptor common.IndexDescriptor
	Cause      error
}

func NewFailedDelegate(descriptor common.IndexDescriptor, cause error) *FailedDelegate {
	return &FailedDelegate{Descriptor: descriptor, Cause: cause}
}

func (d *FailedDelegate) State() statemachine.State { return statemachine.Failed }

func (d *FailedDelegate) Apply(common.NodePropertyUpdate) error {
	return common.NewIndexProxyAlreadyClosed(d.Descriptor)
}

// Proxy is the FlippableProxy: it owns a single mutable delegate slot and
// performs atomic flips between delegate kinds.
type Proxy struct {
	descriptor common.IndexDescriptor

	// flipMu is the flip barrier. Apply/DelegateForUpdates take the read side so
	// many committers proceed concurrently; Flip/FlipTo take the write
	// side so no committer observes a delegate mid-replacement and no
	// flip runs concurrently with an Apply already in flight: a
	// successful flip happens-before any subsequent DelegateForUpdates
	// call returning the new delegate.
	flipMu   sync.RWMutex
	delegate Delegate
}

// NewProxy creates a proxy holding initial as its delegate (NewJob passes
// a PopulatingDelegate). It is created once per index at declaration and
// outlives the population job.
func NewProxy(descriptor common.IndexDescriptor, initial Delegate) *Proxy {
	return &Proxy{descriptor: descriptor, delegate: initial}
}

// DelegateForUpdates returns the current delegate. Callers pipe writes to
// it via Apply, not by calling methods on the returned value directly,
// so the read lock covers the whole operation.
func (p *Proxy) DelegateForUpdates() Delegate {
	p.flipMu.RLock()
	defer p.flipMu.RUnlock()
	return p.delegate
}

// Apply routes one committed update to whatever delegate is current,
// under the flip barrier's read side.
func (p *Proxy) Apply(update common.NodePropertyUpdate) error {
	p.flipMu.RLock()
	defer p.flipMu.RUnlock()
	return p.delegate.Apply(update)
}

// State reports the current delegate's IndexState.
func (p *Proxy) State() statemachine.State {
	return p.DelegateForUpdates().State()
}

// Flip acquires the flip barrier exclusively, runs action (which must
// durably commit the new state -- draining the residual queue and
// closing the writer), and on success installs onSuccess. If action
// fails, it installs the delegate onFailure(cause) produces instead and
// returns the error.
func (p *Proxy) Flip(event statemachine.Event, action func() error, onSuccess Delegate, onFailure func(cause error) Delegate) error {
	p.flipMu.Lock()
	defer p.flipMu.Unlock()

	if _, err := statemachine.Next(p.delegate.State(), event); err != nil {
		return err
	}

	if err := action(); err != nil {
		if !common.IsExpectedPopulationNoise(err) {
			logging.Errorf("Proxy::Flip action failed for %s: %v", p.descriptor, err)
		}
		p.delegate = onFailure(err)
		return err
	}

	p.delegate = onSuccess
	return nil
}

// FlipTo unconditionally installs delegate under the barrier. It backs
// the preemptive "flip to generic failed delegate" and the later "refine
// to cause-carrying failed delegate" double flip, where there is no
// action to run -- only an unconditional replacement.
func (p *Proxy) FlipTo(delegate Delegate) {
	p.flipMu.Lock()
	defer p.flipMu.Unlock()
	p.delegate = delegate
}

func (p *Proxy) Descriptor() common.IndexDescriptor {
	return p.descriptor
}
