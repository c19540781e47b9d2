package config

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/custodia-platform/absences_backend/appctx"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// The guard is exercised against a dry-run session: statements are built,
// never executed, so no database is needed.

type guardedRecord struct {
	ID       int
	PrisonId string
	Status   string
}

type unguardedRecord struct {
	ID    int
	Notes string
}

func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	// sql.Open never dials; the dry run keeps it that way.
	sqlDB, err := sql.Open("mysql", "root:pw@tcp(127.0.0.1:1)/dryrun")
	if err != nil {
		t.Fatalf("open lazy connection: %v", err)
	}
	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	if err := db.Use(NewPrisonGuardPlugin()); err != nil {
		t.Fatalf("register prison guard: %v", err)
	}
	return db
}

func builtSQL(t *testing.T, tx *gorm.DB) string {
	t.Helper()
	if tx.Error != nil {
		t.Fatalf("build statement: %v", tx.Error)
	}
	return tx.Statement.SQL.String()
}

func TestPrisonGuardScopesQueriesForPrisonContext(t *testing.T) {
	db := newDryRunDB(t)
	ctx := appctx.Set(context.Background(), appctx.ContextKeyPrisonId, "LEI")

	var rows []guardedRecord
	sqlText := builtSQL(t, db.WithContext(ctx).Where("status = ?", "APPROVED").Find(&rows))
	if !strings.Contains(sqlText, "prison_id") {
		t.Fatalf("expected prison_id filter, got: %s", sqlText)
	}
}

func TestPrisonGuardSkipsModelsWithoutPrisonColumn(t *testing.T) {
	db := newDryRunDB(t)
	ctx := appctx.Set(context.Background(), appctx.ContextKeyPrisonId, "LEI")

	var rows []unguardedRecord
	sqlText := builtSQL(t, db.WithContext(ctx).Find(&rows))
	if strings.Contains(sqlText, "prison_id") {
		t.Fatalf("model without prison_id must not be scoped: %s", sqlText)
	}
}

func TestPrisonGuardSkipScopeLiftsTheFilter(t *testing.T) {
	db := newDryRunDB(t)
	ctx := appctx.Set(context.Background(), appctx.ContextKeyPrisonId, "LEI")
	ctx = appctx.Set(ctx, appctx.ContextKeySkipPrisonScope, true)

	var rows []guardedRecord
	sqlText := builtSQL(t, db.WithContext(ctx).Find(&rows))
	if strings.Contains(sqlText, "prison_id") {
		t.Fatalf("skip-scope context must lift the prison filter: %s", sqlText)
	}
}

func TestPrisonGuardAdminBypass(t *testing.T) {
	db := newDryRunDB(t)
	ctx := appctx.Set(context.Background(), appctx.ContextKeyPrisonId, "LEI")
	ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, true)

	var rows []guardedRecord
	sqlText := builtSQL(t, db.WithContext(ctx).Find(&rows))
	if strings.Contains(sqlText, "prison_id") {
		t.Fatalf("admin context must lift the prison filter: %s", sqlText)
	}
}

func TestPrisonGuardDoesNotDuplicateExplicitFilter(t *testing.T) {
	db := newDryRunDB(t)
	ctx := appctx.Set(context.Background(), appctx.ContextKeyPrisonId, "LEI")

	var rows []guardedRecord
	sqlText := builtSQL(t, db.WithContext(ctx).Where("prison_id = ?", "MDI").Find(&rows))
	if got := strings.Count(sqlText, "prison_id"); got != 1 {
		t.Fatalf("expected exactly one prison_id filter, got %d in: %s", got, sqlText)
	}
}

func TestPrisonGuardNeutralWithoutPrisonContext(t *testing.T) {
	db := newDryRunDB(t)

	var rows []guardedRecord
	sqlText := builtSQL(t, db.WithContext(context.Background()).Find(&rows))
	if strings.Contains(sqlText, "prison_id") {
		t.Fatalf("context without a prison must not be scoped: %s", sqlText)
	}
}
