// Package store implements the reminder engine's storage capabilities:
// entity sources for every scanner, the user directory, the notification
// ledger and device tokens. Postgres backs everything; the ledger may
// alternatively live in Firestore.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/ops-reminders/internal/reminder"
	"github.com/albapepper/ops-reminders/internal/scanner"
)

// UserModelType is the model_type under which users hold roles and
// permissions in the host's polymorphic role tables.
const UserModelType = `App\Models\User`

// Postgres reads the operations database through prepared statements
// registered by package db.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// dateArg passes the calendar date of t, whatever its location.
func dateArg(t time.Time) pgtype.Date {
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

// --------------------------------------------------------------------------
// Entity sources
// --------------------------------------------------------------------------

func (s *Postgres) OpenAttendances(ctx context.Context, day, checkedInBy time.Time, limit int) ([]scanner.OpenAttendance, error) {
	rows, err := s.pool.Query(ctx, "open_attendances", dateArg(day), scanner.RecordCheckIn, checkedInBy, limit)
	if err != nil {
		return nil, fmt.Errorf("query open attendances: %w", err)
	}
	defer rows.Close()

	var out []scanner.OpenAttendance
	for rows.Next() {
		var a scanner.OpenAttendance
		if err := rows.Scan(&a.AttendanceID, &a.UserID, &a.UserName, &a.Date, &a.LastRecordType, &a.LastRecordAt); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Expenses returns the pending-expense source.
func (s *Postgres) Expenses() scanner.PendingSource { return pendingSource{s.pool, "pending_expenses"} }

// Requests returns the pending-request source.
func (s *Postgres) Requests() scanner.PendingSource { return pendingSource{s.pool, "pending_requests"} }

type pendingSource struct {
	pool *pgxpool.Pool
	stmt string
}

func (p pendingSource) PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]scanner.PendingApproval, error) {
	rows, err := p.pool.Query(ctx, p.stmt, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.stmt, err)
	}
	defer rows.Close()

	var out []scanner.PendingApproval
	for rows.Next() {
		var a scanner.PendingApproval
		if err := rows.Scan(&a.ID, &a.AreaID, &a.AreaName, &a.RequesterID, &a.RequesterName, &a.Subject, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.stmt, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) SLAOverdue(ctx context.Context, now time.Time, limit int) ([]scanner.OpenTicket, error) {
	return s.tickets(ctx, "sla_tickets_overdue", scanner.OpenTicketStatuses, now, limit)
}

func (s *Postgres) SLADueSoon(ctx context.Context, now, horizon time.Time, limit int) ([]scanner.OpenTicket, error) {
	return s.tickets(ctx, "sla_tickets_due_soon", scanner.OpenTicketStatuses, now, horizon, limit)
}

func (s *Postgres) tickets(ctx context.Context, stmt string, args ...any) ([]scanner.OpenTicket, error) {
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt, err)
	}
	defer rows.Close()

	var out []scanner.OpenTicket
	for rows.Next() {
		var t scanner.OpenTicket
		if err := rows.Scan(&t.ID, &t.Code, &t.Title, &t.Status, &t.AssigneeID, &t.AreaID, &t.ClientName, &t.SLADueAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) ExpiringOn(ctx context.Context, day time.Time, limit int) ([]scanner.ExpiringService, error) {
	rows, err := s.pool.Query(ctx, "expiring_services", dateArg(day), limit)
	if err != nil {
		return nil, fmt.Errorf("query expiring services: %w", err)
	}
	defer rows.Close()

	var out []scanner.ExpiringService
	for rows.Next() {
		var sv scanner.ExpiringService
		if err := rows.Scan(&sv.ID, &sv.Name, &sv.ClientName, &sv.EndDate, &sv.AssignedUserID, &sv.ClientExecutiveID); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *Postgres) ScheduledBetween(ctx context.Context, from, to time.Time) ([]scanner.UpcomingMeeting, error) {
	rows, err := s.pool.Query(ctx, "scheduled_meetings", from, to)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var out []scanner.UpcomingMeeting
	for rows.Next() {
		var m scanner.UpcomingMeeting
		if err := rows.Scan(&m.ID, &m.Title, &m.Location, &m.Status, &m.SendReminders, &m.StartTime,
			&m.OrganizerID, &m.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) AssignmentsOn(ctx context.Context, day time.Time) ([]scanner.DutyAssignment, error) {
	rows, err := s.pool.Query(ctx, "duty_assignments", dateArg(day))
	if err != nil {
		return nil, fmt.Errorf("query duty assignments: %w", err)
	}
	defer rows.Close()

	var out []scanner.DutyAssignment
	for rows.Next() {
		var a scanner.DutyAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.UserName, &a.DutyDate, &a.Shift, &a.Notes); err != nil {
			return nil, fmt.Errorf("scan duty assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Directory
// --------------------------------------------------------------------------

// Users loads accounts by id. Unknown ids are omitted.
func (s *Postgres) Users(ctx context.Context, ids []int64) ([]reminder.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, "users_by_id", ids, UserModelType)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []reminder.User
	for rows.Next() {
		var u reminder.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Active, &u.Roles, &u.Permissions); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Postgres) AreaManagers(ctx context.Context, areaID int64) ([]reminder.User, error) {
	ids, err := s.ids(ctx, "area_manager_ids", areaID)
	if err != nil {
		return nil, fmt.Errorf("area managers: %w", err)
	}
	return s.Users(ctx, ids)
}

func (s *Postgres) SuperAdmins(ctx context.Context) ([]reminder.User, error) {
	ids, err := s.ids(ctx, "role_member_ids", reminder.RoleSuperAdmin, UserModelType)
	if err != nil {
		return nil, fmt.Errorf("super admins: %w", err)
	}
	return s.Users(ctx, ids)
}

func (s *Postgres) ids(ctx context.Context, stmt string, args ...any) ([]int64, error) {
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// --------------------------------------------------------------------------
// Ledger
// --------------------------------------------------------------------------

func (s *Postgres) Exists(ctx context.Context, key reminder.Key, since time.Time) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, "ledger_exists", key.String(), since).Scan(&ok); err != nil {
		return false, fmt.Errorf("ledger lookback: %w", err)
	}
	return ok, nil
}

// Claim serializes claims per key with a transaction-scoped advisory lock,
// then checks the lookback and inserts. The (dedup_key, bucket) unique index
// backs the lookback when the lock is bypassed by another writer.
func (s *Postgres) Claim(ctx context.Context, rec *reminder.Record, cooldown time.Duration) (bool, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return false, fmt.Errorf("record id: %w", err)
	}
	key := rec.Key.String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "ledger_lock", key); err != nil {
		return false, fmt.Errorf("lock %s: %w", key, err)
	}

	if cooldown > 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "ledger_exists", key, rec.CreatedAt.Add(-cooldown)).Scan(&exists); err != nil {
			return false, fmt.Errorf("ledger lookback: %w", err)
		}
		if exists {
			return false, nil
		}
	}

	tag, err := tx.Exec(ctx, "ledger_insert",
		id, rec.UserID, rec.Type, rec.Title, rec.Message, rec.ActionURL, string(rec.Priority), rec.Data,
		key, reminder.Bucket(rec.CreatedAt, cooldown), rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return true, nil
}

// --------------------------------------------------------------------------
// Device tokens
// --------------------------------------------------------------------------

// ActiveTokens returns the active push tokens of a user.
func (s *Postgres) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, "get_user_device_tokens", userID)
	if err != nil {
		return nil, fmt.Errorf("get device tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan device tokens: %w", err)
	}
	return tokens, nil
}

// DeactivateTokens marks tokens as inactive and returns how many changed.
func (s *Postgres) DeactivateTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "deactivate_device_tokens", tokens)
	if err != nil {
		return 0, fmt.Errorf("deactivate device tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
