package legacysync_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/legacysync"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type stubIdentityClient struct{}

func (stubIdentityClient) GetSubjectIdentity(ctx context.Context, subjectId string) (*legacysync.SubjectIdentity, error) {
	return &legacysync.SubjectIdentity{
		SubjectId: subjectId,
		PrisonId:  "LEI",
		FirstName: "Test",
		LastName:  "Subject",
		Active:    true,
	}, nil
}

func TestReconcileMigrateThenResyncIsIdempotentAndRelocatesMovements(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "absences_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.SeedReferenceData(tx, ctx)
	}); err != nil {
		t.Fatalf("SeedReferenceData: %v", err)
	}

	legacysync.SetIdentityClient(stubIdentityClient{})

	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	// A caller from a different prison must not narrow what reconciliation
	// sees: the engine lifts the prison scope for the whole run.
	syncCtx := utils.SetPrisonIdInContext(ctx, "MDI")

	subjectId := "A1234BC"
	now := time.Now().UTC().Truncate(time.Second)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	legacyAuth := int64(1001)
	legacyOccPast := int64(2001)
	legacyOccFuture := int64(2002)
	legacyOut := int64(3001)
	legacyIn := int64(3002)

	pastOcc := legacysync.OccurrenceIn{
		LegacyId:  &legacyOccPast,
		ReleaseAt: now.AddDate(0, 0, -5),
		ReturnBy:  now.AddDate(0, 0, -4),
		Location:  "Leeds General Infirmary",
		Movements: []legacysync.MovementIn{
			{LegacyId: &legacyOut, Direction: "OUT", OccurredAt: now.AddDate(0, 0, -5).Add(time.Hour)},
			{LegacyId: &legacyIn, Direction: "IN", OccurredAt: now.AddDate(0, 0, -5).Add(6 * time.Hour)},
		},
	}
	futureOcc := legacysync.OccurrenceIn{
		LegacyId:  &legacyOccFuture,
		ReleaseAt: now.AddDate(0, 0, 3),
		ReturnBy:  now.AddDate(0, 0, 4),
		Location:  "Leeds General Infirmary",
	}
	snapshot := legacysync.AbsenceSnapshot{
		Authorisations: []legacysync.AuthorisationIn{{
			LegacyId: &legacyAuth,
			PrisonId: "LEI",
			Status:   "APPROVED",
			Categorisation: legacysync.CategorisationIn{
				TypeCode:           "SR",
				SubTypeCode:        "RDR",
				ReasonCategoryCode: "PW",
				ReasonCode:         "R15",
			},
			RepeatFlag:  true,
			FromDate:    today.AddDate(0, 0, -10),
			ToDate:      today.AddDate(0, 0, 10),
			Locations:   []string{"Leeds General Infirmary"},
			Occurrences: []legacysync.OccurrenceIn{pastOcc, futureOcc},
		}},
	}

	// 1) Migrate builds the full hierarchy and pre-publishes every event.
	result, err := legacysync.Migrate(syncCtx, subjectId, snapshot)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.AuthorisationsCreated != 1 || result.OccurrencesCreated != 2 || result.MovementsCreated != 2 {
		t.Fatalf("unexpected migrate counts: %+v", result)
	}
	if result.NoOp {
		t.Fatalf("migrate must not be a no-op")
	}

	var pendingEvents int64
	if err := db.WithContext(ctx).Model(&models.DomainEventRecord{}).
		Where("subject_id = ? AND publish_status <> ?", subjectId, models.OutboxPublishStatusSent).
		Count(&pendingEvents).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if pendingEvents != 0 {
		t.Fatalf("migrate left %d events unpublished; backfill must pre-publish", pendingEvents)
	}

	auths, unscheduled, err := models.GetSubjectHierarchy(ctx, db.WithContext(ctx), subjectId, false)
	if err != nil {
		t.Fatalf("GetSubjectHierarchy: %v", err)
	}
	if len(auths) != 1 || len(unscheduled) != 0 {
		t.Fatalf("expected 1 authorisation and no unscheduled movements, got %d/%d", len(auths), len(unscheduled))
	}
	if len(auths[0].Occurrences) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(auths[0].Occurrences))
	}
	statusByLegacy := map[int64]models.OccurrenceStatus{}
	idByLegacy := map[int64]int{}
	for _, occ := range auths[0].Occurrences {
		statusByLegacy[*occ.LegacyId] = occ.Status
		idByLegacy[*occ.LegacyId] = occ.ID
	}
	if statusByLegacy[legacyOccPast] != models.OccurrenceStatusCompleted {
		t.Fatalf("past occurrence should be COMPLETED, got %s", statusByLegacy[legacyOccPast])
	}
	if statusByLegacy[legacyOccFuture] != models.OccurrenceStatusScheduled {
		t.Fatalf("future occurrence should be SCHEDULED, got %s", statusByLegacy[legacyOccFuture])
	}

	// 2) Resyncing the identical snapshot must touch nothing.
	result, err = legacysync.Resync(syncCtx, subjectId, snapshot)
	if err != nil {
		t.Fatalf("Resync (identical): %v", err)
	}
	if !result.NoOp || result.RecordsTouched() != 0 {
		t.Fatalf("identical resync must be a no-op, got %+v", result)
	}

	// 3) Re-parenting the IN movement relocates it; identity survives.
	var movedBefore models.Movement
	if err := db.WithContext(ctx).Where("legacy_id = ?", legacyIn).First(&movedBefore).Error; err != nil {
		t.Fatalf("load movement before relocation: %v", err)
	}

	relocated := snapshot
	relocated.Authorisations = []legacysync.AuthorisationIn{snapshot.Authorisations[0]}
	pastOnly := pastOcc
	pastOnly.Movements = pastOcc.Movements[:1]
	futureWithIn := futureOcc
	inMove := pastOcc.Movements[1]
	inMove.OccurredAt = now.AddDate(0, 0, 3).Add(6 * time.Hour)
	futureWithIn.Movements = []legacysync.MovementIn{inMove}
	relocated.Authorisations[0].Occurrences = []legacysync.OccurrenceIn{pastOnly, futureWithIn}

	result, err = legacysync.Resync(syncCtx, subjectId, relocated)
	if err != nil {
		t.Fatalf("Resync (relocation): %v", err)
	}
	if result.MovementsRelocated != 1 {
		t.Fatalf("expected 1 relocated movement, got %+v", result)
	}
	if result.MovementsDeleted != 0 || result.MovementsCreated != 0 {
		t.Fatalf("relocation must not delete and recreate: %+v", result)
	}

	var movedAfter models.Movement
	if err := db.WithContext(ctx).Where("legacy_id = ?", legacyIn).First(&movedAfter).Error; err != nil {
		t.Fatalf("load movement after relocation: %v", err)
	}
	if movedAfter.ID != movedBefore.ID {
		t.Fatalf("movement identity changed across relocation: %d -> %d", movedBefore.ID, movedAfter.ID)
	}
	if movedAfter.OccurrenceId == nil || *movedAfter.OccurrenceId != idByLegacy[legacyOccFuture] {
		t.Fatalf("movement should now live under the future occurrence")
	}

	// 4) Dropping an occurrence that still holds a movement: the movement
	// relocates to unscheduled before the vacated occurrence is removed, so
	// the foreign key never fires.
	outMove := pastOcc.Movements[0]
	dropped := relocated
	dropped.Authorisations = []legacysync.AuthorisationIn{relocated.Authorisations[0]}
	dropped.Authorisations[0].Occurrences = []legacysync.OccurrenceIn{futureWithIn}
	dropped.UnscheduledMovements = []legacysync.MovementIn{outMove}

	result, err = legacysync.Resync(syncCtx, subjectId, dropped)
	if err != nil {
		t.Fatalf("Resync (dropped occurrence): %v", err)
	}
	if result.OccurrencesDeleted != 1 {
		t.Fatalf("expected the vacated occurrence deleted, got %+v", result)
	}
	if result.MovementsRelocated != 1 || result.MovementsDeleted != 0 {
		t.Fatalf("attached movement must relocate, not vanish: %+v", result)
	}

	var outAfter models.Movement
	if err := db.WithContext(ctx).Where("legacy_id = ?", legacyOut).First(&outAfter).Error; err != nil {
		t.Fatalf("load OUT movement after drop: %v", err)
	}
	if outAfter.OccurrenceId != nil {
		t.Fatalf("OUT movement should be unscheduled after its occurrence was dropped")
	}

	// 5) Merging into another subject: ownership transfers and the audit
	// fact records the change of owner.
	mergedSubject := "B9999ZZ"
	var authRow models.Authorisation
	if err := db.WithContext(ctx).Where("subject_id = ?", subjectId).First(&authRow).Error; err != nil {
		t.Fatalf("load authorisation before move: %v", err)
	}
	moveResult, err := legacysync.MoveSubject(syncCtx, legacysync.MoveRequest{
		FromSubjectId:    subjectId,
		ToSubjectId:      mergedSubject,
		AuthorisationIds: []int{authRow.ID},
	})
	if err != nil {
		t.Fatalf("MoveSubject: %v", err)
	}
	if moveResult.AuthorisationsUpdated != 1 {
		t.Fatalf("expected 1 authorisation moved, got %+v", moveResult)
	}

	var fact models.History
	if err := db.WithContext(ctx).
		Where("subject_id = ? AND reference_id = ? AND reference_type = ? AND action_type = ?",
			mergedSubject, authRow.ID, models.ReferenceTypeAuthorisation, "UPDATE").
		Order("id DESC").First(&fact).Error; err != nil {
		t.Fatalf("load move history fact: %v", err)
	}
	if fact.Before == fact.After {
		t.Fatalf("move history must record the ownership change; snapshots are identical")
	}
	if !strings.Contains(fact.After, mergedSubject) {
		t.Fatalf("after snapshot should carry the new subject id: %s", fact.After)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("absences-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("absences-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=absences_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
