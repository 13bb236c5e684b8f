package common

import (
	"fmt"
	"time"
)

// ConfigValue is a single tunable, modeled on the map[string]ConfigValue
// idiom secondary/indexer/settings.go and secondary/indexer/util.go build
// on (e.g. config["numVbuckets"].Int()).
type ConfigValue struct {
	val interface{}
}

func (v ConfigValue) Int() int {
	switch t := v.val.(type) {
	case int:
		return t
	case int64:
		return int(t)
	default:
		return 0
	}
}

func (v ConfigValue) String() string {
	if s, ok := v.val.(string); ok {
		return s
	}
	return ""
}

func (v ConfigValue) Bool() bool {
	b, _ := v.val.(bool)
	return b
}

func (v ConfigValue) Duration() time.Duration {
	if d, ok := v.val.(time.Duration); ok {
		return d
	}
	return 0
}

// Config is the settings bag threaded through job, recovery, and
// registry construction.
type Config map[string]ConfigValue

// SetValue installs a raw value, mirroring secondary/indexer/settings.go's
// dynamic-settings update path.
func (c Config) SetValue(key string, val interface{}) {
	c[key] = ConfigValue{val: val}
}

const (
	// KeyDrainBatchSize bounds how many queued updates a single
	// DrainWhile call applies: Job.visit passes it directly, so one
	// scanned node's interleaved drain never processes more than this
	// many queued updates before control returns to the scan; the
	// terminal drain at flip applies the same per-call bound but calls
	// DrainWhile in a loop until the queue is empty.
	KeyDrainBatchSize = "population.drainBatchSize"
	// KeyProgressLogInterval controls how often PopulationJob logs scan
	// progress (system_state_logger.go-style periodic reporting).
	KeyProgressLogInterval = "population.progressLogInterval"
	// KeyRecoveryConcurrency bounds how many orphan indexes
	// RecoveryCoordinator inspects concurrently.
	KeyRecoveryConcurrency = "recovery.concurrency"
	// KeyWorkerNamePrefix prefixes the renamed populator goroutine label.
	KeyWorkerNamePrefix = "population.workerNamePrefix"
	// KeyRecoveryOwnerCheckRetries bounds how many times Coordinator
	// retries a single rule's HasOwningConstraint lookup before giving up.
	KeyRecoveryOwnerCheckRetries = "recovery.ownerCheckRetries"
	// KeyRecoveryOwnerCheckBackoff is the delay between
	// HasOwningConstraint retries.
	KeyRecoveryOwnerCheckBackoff = "recovery.ownerCheckBackoff"
)

// DefaultConfig returns the tunables this package needs with the values
// the indexer defaults to for comparable knobs.
func DefaultConfig() Config {
	c := make(Config)
	c.SetValue(KeyDrainBatchSize, 256)
	c.SetValue(KeyProgressLogInterval, 5*time.Second)
	c.SetValue(KeyRecoveryConcurrency, 4)
	c.SetValue(KeyWorkerNamePrefix, "Populator")
	c.SetValue(KeyRecoveryOwnerCheckRetries, 3)
	c.SetValue(KeyRecoveryOwnerCheckBackoff, 50*time.Millisecond)
	return c
}

func (v ConfigValue) GoString() string {
	return fmt.Sprintf("%v", v.val)
}
