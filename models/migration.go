package models

import (
	"log"

	"github.com/custodia-platform/absences_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ReferenceEntry{}, &ReferenceLink{},
		&Authorisation{}, &Occurrence{}, &Movement{},
		&History{},
		&DomainEventRecord{},
		&SyncRun{}, &SyncRunError{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
