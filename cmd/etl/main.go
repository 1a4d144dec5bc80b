// Command etl loads raw transaction files into the warehouse and maintains
// the summary aggregates.
//
//	etl load     --config pipeline.yaml [--resume | --resume-from-line N]
//	etl refresh  --config pipeline.yaml
//	etl summary  --config pipeline.yaml [--aggregate by_region]
//	etl migrate  --config pipeline.yaml
//	etl validate --config pipeline.yaml
//	etl probe    --config pipeline.yaml [--delimiter ';']
//	etl serve    --config pipeline.yaml [--addr :8080]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Register every storage backend; storage.kind picks one at runtime.
	_ "txetl/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "etl: %v\n", err)
		os.Exit(1)
	}
}
