// seed-reference migrates the schema and loads the reference catalog
// (absence types, sub-types, reason categories, reasons, accompaniment and
// transport codes plus the links between them).
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-reference
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetSourceInContext(ctx, models.SourceLocal)

	models.MigrateTable()

	if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.SeedReferenceData(tx, ctx)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed reference data: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("reference data seeded")
}
