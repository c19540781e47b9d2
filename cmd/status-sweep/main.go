// status-sweep runs one pass of the occurrence status sweeper and exits.
// Intended for a scheduled job when the long-running in-process sweeper is
// disabled.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... REDIS_ADDRESS=... go run ./cmd/status-sweep
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	logger := config.GetLogger()
	workflow.NewStatusSweeper(db, logger).SweepOnce(ctx)
	fmt.Println("sweep complete")
}
