// Command schemaindexd wires a schema registry, runs startup orphan
// recovery, and serves as the process entry point for the online
// schema-index population engine. Index storage and store-scan
// implementations are expected to be supplied by a real deployment;
// this binary wires in-memory stand-ins so the process is runnable on
// its own for local testing.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/sydefz/graphkernel/common"
	"github.com/sydefz/graphkernel/logging"
	"github.com/sydefz/graphkernel/recovery"
	"github.com/sydefz/graphkernel/schema"
	"github.com/sydefz/graphkernel/storescan"
	"github.com/sydefz/graphkernel/writer"
)

func main() {
	logging.Infof("schemaindexd started with command line: %v", os.Args)

	fset := flag.NewFlagSet("schemaindexd", flag.ContinueOnError)
	logLevel := fset.String("loglevel", "Info", "Log level - Trace, Info, Warn, Error, Fatal")
	drainBatchSize := fset.Int("drainBatchSize", 256, "Updates applied per DrainWhile call during population")
	progressLogInterval := fset.Duration("progressLogInterval", common.DefaultConfig()[common.KeyProgressLogInterval].Duration(), "Interval between population progress log lines")
	recoveryConcurrency := fset.Int("recoveryConcurrency", 4, "Number of orphan indexes inspected concurrently at startup")

	for i := 1; i < len(os.Args); i++ {
		if err := fset.Parse(os.Args[i : i+1]); err != nil {
			if strings.Contains(err.Error(), "flag provided but not defined") {
				logging.Warnf("ignoring unrecognized argument: %v", err)
			} else {
				logging.Fatalf("failed to parse arguments: %v", err)
			}
		}
	}

	logging.SetLevel(*logLevel)
	logging.SetExitOnFatal(true)

	config := common.DefaultConfig()
	config.SetValue(common.KeyDrainBatchSize, *drainBatchSize)
	config.SetValue(common.KeyProgressLogInterval, *progressLogInterval)
	config.SetValue(common.KeyRecoveryConcurrency, *recoveryConcurrency)

	registry := schema.NewRegistry(
		func(common.IndexDescriptor) storescan.StoreScan { return storescan.NewMemoryScan(nil) },
		func(common.IndexDescriptor) writer.IndexWriter { return &memoryWriter{} },
		func(common.IndexDescriptor) func(common.NodePropertyUpdate) error {
			return func(common.NodePropertyUpdate) error { return nil }
		},
		config,
	)
	registry.SetClearSchemaCache(func() {
		logging.Infof("schemaindexd schema cache cleared")
	})

	coordinator := recovery.NewCoordinator(registry, noopTransactor{}, config)
	if err := coordinator.Run(context.Background()); err != nil {
		logging.Fatalf("startup orphan recovery failed: %v", err)
	}

	logging.Infof("schemaindexd ready")
	select {}
}

// memoryWriter is a trivial in-process IndexWriter stand-in; a real
// deployment supplies its own persistent implementation.
type memoryWriter struct{}

func (*memoryWriter) Create() error                 { return nil }
func (*memoryWriter) Add(uint64, interface{}) error { return nil }
func (*memoryWriter) Update([]writer.Batch) error   { return nil }
func (*memoryWriter) MarkFailed(error) error        { return nil }
func (*memoryWriter) Close(bool) error              { return nil }

// noopTransactor runs the recovery action directly; a real deployment's
// Transactor wraps it in an actual transaction boundary.
type noopTransactor struct{}

func (noopTransactor) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	return action(ctx)
}
