package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@host:5432/ops?sslmode=disable", MigrateURL("postgres://u:p@host:5432/ops?sslmode=disable"))
	assert.Equal(t, "pgx5://host/ops", MigrateURL("postgresql://host/ops"))
	assert.Equal(t, "pgx5://host/ops", MigrateURL("pgx5://host/ops"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups, downs := 0, 0
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups++
		case strings.HasSuffix(n, ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, ups, downs)
}

func TestLedgerSchemaHasBucketIndex(t *testing.T) {
	b, err := fs.ReadFile(migrationFiles, "migrations/000001_notifications.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "ON notifications (dedup_key, bucket)")
}

func TestStatementsCoverQueries(t *testing.T) {
	for _, name := range []string{
		"health_check", "open_attendances", "pending_expenses", "pending_requests",
		"sla_tickets_overdue", "sla_tickets_due_soon", "expiring_services", "scheduled_meetings", "duty_assignments",
		"users_by_id", "area_manager_ids", "role_member_ids",
		"ledger_lock", "ledger_exists", "ledger_insert",
		"get_user_device_tokens", "deactivate_device_tokens",
	} {
		assert.NotEmpty(t, Statements[name], name)
	}
}

func TestRoleJoinsAreScopedToUserModel(t *testing.T) {
	for _, name := range []string{"users_by_id", "role_member_ids"} {
		assert.Contains(t, Statements[name], "mr.model_type = $2", name)
	}
	assert.Contains(t, Statements["users_by_id"], "mp.model_type = $2")
}

func TestDueFiltersRunBeforeLimit(t *testing.T) {
	assert.Contains(t, Statements["open_attendances"], "r.type = $2 AND r.recorded_at <= $3")
	assert.Contains(t, Statements["sla_tickets_overdue"], "t.sla_due_at < $2")
	assert.Contains(t, Statements["sla_tickets_due_soon"], "t.sla_due_at >= $2 AND t.sla_due_at <= $3")
}
