// resync-subject pulls a subject's current snapshot from the system of
// record and reconciles the local store against it. Use when a subject has
// drifted and the push feed cannot be replayed.
//
// Usage (from backend directory):
//
//	DB_USER=... REDIS_ADDRESS=... SUBJECT_REGISTRY_BASE_URL=... \
//	  go run ./cmd/resync-subject -subject A1234BC
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/legacysync"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/google/uuid"
)

func main() {
	subjectId := flag.String("subject", "", "subject identifier to resync")
	flag.Parse()
	if *subjectId == "" {
		fmt.Fprintln(os.Stderr, "usage: resync-subject -subject <subjectId>")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetUserNameInContext(ctx, "Resync CLI")
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	result, err := legacysync.ResyncFromRegistry(ctx, *subjectId)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resync failed for %s: %v\n", *subjectId, err)
		os.Exit(1)
	}

	fmt.Printf("resync complete for %s: %d records touched (created %d/%d/%d, updated %d/%d/%d, deleted %d/%d/%d, relocated %d)\n",
		*subjectId, result.RecordsTouched(),
		result.AuthorisationsCreated, result.OccurrencesCreated, result.MovementsCreated,
		result.AuthorisationsUpdated, result.OccurrencesUpdated, result.MovementsUpdated,
		result.AuthorisationsDeleted, result.OccurrencesDeleted, result.MovementsDeleted,
		result.MovementsRelocated)
}
