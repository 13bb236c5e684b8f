// Package recovery implements the startup repair that closes the crash
// window between creating a constraint-backing index and committing the
// constraint that owns it: any constraint-backing index with no owning
// constraint is dropped before any user transaction is admitted.
package recovery

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/logging"
)

// Rule is the persisted per-index record needed to decide, at startup,
// whether an index is an orphaned constraint backer.
type Rule struct {
	Descriptor        common.IndexDescriptor
	Kind              common.IndexKind
	OwnerConstraintID *uint64
}

// Registry is the subset of the schema registry recovery needs: list the
// persisted rules and drop an orphan by descriptor. It is satisfied by
// schema.Registry.
type Registry interface {
	PersistedRules(ctx context.Context) ([]Rule, error)
	// HasOwningConstraint reports whether rule's owner constraint is
	// committed. It consults the schema registry, an external
	// collaborator; here it is a narrow callback so Coordinator stays
	// independent of the registry's storage details.
	HasOwningConstraint(ctx context.Context, rule Rule) (bool, error)
	// DropOrphan removes descriptor's entry as an orphan-recovery
	// action. Dropping an index that no longer exists must return an
	// error recognizable via common.NoSuchIndex, which Coordinator
	// treats as already-gone and suppresses.
	DropOrphan(ctx context.Context, descriptor common.IndexDescriptor) error
}

// Transactor runs action inside a transaction boundary. It is an
// external collaborator; Coordinator only needs the ability to wrap its
// drop calls in one.
type Transactor interface {
	Execute(ctx context.Context, action func(ctx context.Context) error) error
}

// Coordinator runs once at startup, before any user transaction is
// admitted, and repairs orphaned constraint-backing indexes.
type Coordinator struct {
	registry     Registry
	transactor   Transactor
	concurrency  int
	ownerRetries int
	ownerBackoff time.Duration
}

func NewCoordinator(registry Registry, transactor Transactor, config common.Config) *Coordinator {
	concurrency := 1
	ownerRetries := 1
	var ownerBackoff time.Duration
	if config != nil {
		if n := config[common.KeyRecoveryConcurrency].Int(); n > 0 {
			concurrency = n
		}
		if n := config[common.KeyRecoveryOwnerCheckRetries].Int(); n > 0 {
			ownerRetries = n
		}
		ownerBackoff = config[common.KeyRecoveryOwnerCheckBackoff].Duration()
	}
	return &Coordinator{
		registry:     registry,
		transactor:   transactor,
		concurrency:  concurrency,
		ownerRetries: ownerRetries,
		ownerBackoff: ownerBackoff,
	}
}

// Run sweeps every persisted index rule and drops the constraint-backing
// ones that have no owning constraint. It fans out across rules with
// bounded concurrency, the same errgroup.SetLimit shape
// claircore/libindex.go uses to bound per-manifest scan work, since each
// rule's HasOwningConstraint check is an independent, potentially
// network- or disk-bound schema lookup.
func (c *Coordinator) Run(ctx context.Context) error {
	rules, err := c.registry.PersistedRules(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, rule := range rules {
		rule := rule
		if rule.Kind != common.ConstraintBackingIndex {
			continue
		}
		g.Go(func() error {
			return c.recoverOne(gctx, rule)
		})
	}

	return g.Wait()
}

func (c *Coordinator) recoverOne(ctx context.Context, rule Rule) error {
	var owned bool
	err := common.Retry(c.ownerRetries, c.ownerBackoff, func(attempt int, cause error) {
		logging.Warnf("Coordinator::recoverOne retrying HasOwningConstraint for %s (attempt %d): %v", rule.Descriptor, attempt, cause)
	}, func() error {
		var err error
		owned, err = c.registry.HasOwningConstraint(ctx, rule)
		return err
	})
	if err != nil {
		return err
	}
	if owned {
		return nil
	}

	logging.Infof("Coordinator::recoverOne dropping orphaned constraint-backing index %s (no owning constraint)", rule.Descriptor)

	return c.transactor.Execute(ctx, func(ctx context.Context) error {
		err := c.registry.DropOrphan(ctx, rule.Descriptor)
		if err == nil {
			return nil
		}
		var e *common.Error
		if errors.As(err, &e) && e.Kind == common.NoSuchIndex {
			// Already gone: cleaned up by a concurrent recovery pass or
			// a prior crash partway through drop. Recovery suppresses
			// this specific case even though dropping a missing index
			// is itself normally an error.
			logging.Infof("Coordinator::recoverOne %s already gone, nothing to do", rule.Descriptor)
			return nil
		}
		return err
	})
}
