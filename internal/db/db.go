// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking and embedded schema migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/ops-reminders/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Statements are the prepared statements every connection carries, keyed
// by name. Callers pass the name as the SQL argument.
var Statements = map[string]string{
	"health_check": "SELECT 1",

	// Scanners: one bounded, time-windowed query per domain.
	"open_attendances": `
		SELECT a.id, a.user_id, u.name, a.date, r.type, r.recorded_at
		FROM attendances a
		JOIN users u ON u.id = a.user_id AND u.is_active
		JOIN LATERAL (
			SELECT type, recorded_at FROM attendance_records
			WHERE attendance_id = a.id
			ORDER BY recorded_at DESC, id DESC
			LIMIT 1
		) r ON true
		WHERE a.date = $1 AND r.type = $2 AND r.recorded_at <= $3
		ORDER BY r.recorded_at, a.id
		LIMIT $4`,
	"pending_expenses": `
		SELECT e.id, e.area_id, ar.name, COALESCE(e.user_id, 0), COALESCE(u.name, ''), e.description, e.created_at
		FROM expenses e
		JOIN areas ar ON ar.id = e.area_id
		LEFT JOIN users u ON u.id = e.user_id
		WHERE e.status = 'pending' AND e.created_at <= $1
		ORDER BY e.created_at
		LIMIT $2`,
	"pending_requests": `
		SELECT r.id, r.area_id, ar.name, COALESCE(r.user_id, 0), COALESCE(u.name, ''), r.title, r.created_at
		FROM requests r
		JOIN areas ar ON ar.id = r.area_id
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.status = 'pending' AND r.created_at <= $1
		ORDER BY r.created_at
		LIMIT $2`,
	"sla_tickets_overdue": `
		SELECT t.id, t.code, t.title, t.status, t.assigned_to, COALESCE(t.area_id, 0),
		       COALESCE(c.name, ''), t.sla_due_at
		FROM tickets t
		LEFT JOIN clients c ON c.id = t.client_id
		WHERE t.status = ANY($1) AND t.assigned_to IS NOT NULL
		  AND t.sla_due_at < $2
		ORDER BY t.sla_due_at
		LIMIT $3`,
	"sla_tickets_due_soon": `
		SELECT t.id, t.code, t.title, t.status, t.assigned_to, COALESCE(t.area_id, 0),
		       COALESCE(c.name, ''), t.sla_due_at
		FROM tickets t
		LEFT JOIN clients c ON c.id = t.client_id
		WHERE t.status = ANY($1) AND t.assigned_to IS NOT NULL
		  AND t.sla_due_at >= $2 AND t.sla_due_at <= $3
		ORDER BY t.sla_due_at
		LIMIT $4`,
	"expiring_services": `
		SELECT s.id, s.name, COALESCE(c.name, ''), s.end_date,
		       COALESCE(s.assigned_user_id, 0), COALESCE(c.executive_id, 0)
		FROM services s
		LEFT JOIN clients c ON c.id = s.client_id
		WHERE s.end_date = $1 AND s.deleted_at IS NULL
		ORDER BY s.id
		LIMIT $2`,
	"scheduled_meetings": `
		SELECT m.id, m.title, COALESCE(m.location, ''), m.status, m.send_reminders, m.start_time,
		       COALESCE(m.organizer_id, 0),
		       COALESCE(array_agg(p.user_id) FILTER (WHERE p.user_id IS NOT NULL), '{}')
		FROM meetings m
		LEFT JOIN meeting_participants p ON p.meeting_id = m.id
		WHERE m.status = 'scheduled' AND m.send_reminders
		  AND m.start_time BETWEEN $1 AND $2
		GROUP BY m.id
		ORDER BY m.start_time`,
	"duty_assignments": `
		SELECT s.id, COALESCE(s.user_id, 0), COALESCE(u.name, ''), s.duty_date, COALESCE(s.shift, ''), COALESCE(s.notes, '')
		FROM support_assignments s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.duty_date = $1
		ORDER BY s.id`,

	// Directory: users with their role and permission names.
	"users_by_id": `
		SELECT u.id, u.name, u.is_active,
		       COALESCE(array_agg(DISTINCT r.name) FILTER (WHERE r.name IS NOT NULL), '{}'),
		       COALESCE(array_agg(DISTINCT p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN model_has_roles mr ON mr.model_id = u.id AND mr.model_type = $2
		LEFT JOIN roles r ON r.id = mr.role_id
		LEFT JOIN role_has_permissions rp ON rp.role_id = r.id
		LEFT JOIN model_has_permissions mp ON mp.model_id = u.id AND mp.model_type = $2
		LEFT JOIN permissions p ON p.id = rp.permission_id OR p.id = mp.permission_id
		WHERE u.id = ANY($1)
		GROUP BY u.id`,
	"area_manager_ids": "SELECT user_id FROM area_managers WHERE area_id = $1 ORDER BY user_id",
	"role_member_ids": `
		SELECT mr.model_id FROM model_has_roles mr
		JOIN roles r ON r.id = mr.role_id
		WHERE r.name = $1 AND mr.model_type = $2
		ORDER BY mr.model_id`,

	// Ledger
	"ledger_lock":   "SELECT pg_advisory_xact_lock(hashtext($1))",
	"ledger_exists": "SELECT EXISTS (SELECT 1 FROM notifications WHERE dedup_key = $1 AND created_at >= $2)",
	"ledger_insert": `
		INSERT INTO notifications (
			id, user_id, type, title, message, action_url, priority, data,
			is_read, dedup_key, bucket, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,$9,$10,$11)
		ON CONFLICT (dedup_key, bucket) DO NOTHING`,

	// Device tokens
	"get_user_device_tokens": "SELECT token FROM user_devices WHERE user_id = $1 AND is_active = true",
	"deactivate_device_tokens": `
		UPDATE user_devices SET is_active = false, updated_at = NOW()
		WHERE token = ANY($1) AND is_active = true`,
}

func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range Statements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
