// Package storescan defines the forward-scan contract PopulationJob
// drives over the store, plus an in-memory StoreScan used by this
// module's own tests and suitable as a reference for a real store-backed
// implementation (the store itself is an external collaborator).
package storescan

import (
	"sync"

	"github.com/sydefz/graphkernel/common"
)

// Visitor receives one update per matching node during a scan. Returning
// a non-nil error aborts the scan with that error.
type Visitor func(update common.NodePropertyUpdate) error

// StoreScan is a single-pass forward scan over all nodes currently
// matching a descriptor. Run is synchronous and invoked on the populator
// goroutine; Stop is safe to call from any goroutine and is cooperative
// -- after Stop, Run returns promptly without guaranteeing it visited
// every matching node.
type StoreScan interface {
	Run(visit Visitor) error
	Stop()
}

// MemoryScan is a StoreScan over a fixed, in-memory snapshot of nodes,
// sorted ascending by NodeID, the order IndexWriter.Add must observe.
// It exists for tests and as a worked example of the contract; a real
// deployment's StoreScan is backed by the store's own node iterator.
type MemoryScan struct {
	nodes []common.NodePropertyUpdate

	mu      sync.Mutex
	stopped bool
}

// NewMemoryScan builds a scan over a copy of nodes, sorted ascending by
// NodeID. The caller's slice is left unmodified.
func NewMemoryScan(nodes []common.NodePropertyUpdate) *MemoryScan {
	sorted := make([]common.NodePropertyUpdate, len(nodes))
	copy(sorted, nodes)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].NodeID < sorted[j-1].NodeID; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &MemoryScan{nodes: sorted}
}

func (m *MemoryScan) Run(visit Visitor) error {
	for _, n := range m.nodes {
		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return nil
		}
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryScan) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}
