package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

const (
	PendingAge      = 24 * time.Hour
	PendingCooldown = 23 * time.Hour
	pendingLimit    = 200
)

// PendingApproval is an expense or request still waiting for approval.
type PendingApproval struct {
	ID            int64
	AreaID        int64
	AreaName      string
	RequesterID   int64
	RequesterName string
	Subject       string
	CreatedAt     time.Time
}

// PendingSource returns the oldest pending items with an area created at or
// before cutoff.
type PendingSource interface {
	PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]PendingApproval, error)
}

// PendingDue reports whether an item has waited at least PendingAge. Items
// without an area have nobody to escalate to and are never due.
func PendingDue(p PendingApproval, now time.Time) bool {
	return p.AreaID != 0 && now.Sub(p.CreatedAt) >= PendingAge
}

type approvalKind struct {
	job    string
	entity reminder.EntityType
	typ    string
	noun   string
	path   string
}

var (
	expenseKind = approvalKind{JobExpenses, reminder.EntityExpense, reminder.TypeExpensePending, "expense", "/expenses/%d"}
	requestKind = approvalKind{JobRequests, reminder.EntityRequest, reminder.TypeRequestPending, "request", "/requests/%d"}
)

// PendingReminders escalates stale approvals to area managers and admins.
type PendingReminders struct {
	kind approvalKind
	src  PendingSource
	opts Options
}

func NewExpenseReminders(src PendingSource, opts Options) *PendingReminders {
	return &PendingReminders{kind: expenseKind, src: src, opts: opts}
}

func NewRequestReminders(src PendingSource, opts Options) *PendingReminders {
	return &PendingReminders{kind: requestKind, src: src, opts: opts}
}

func (j *PendingReminders) Name() string { return j.kind.job }

func (j *PendingReminders) Scan(ctx context.Context, now time.Time) ([]reminder.Intent, error) {
	rows, err := j.src.PendingBefore(ctx, now.Add(-PendingAge), pendingLimit)
	if err != nil {
		return nil, fmt.Errorf("pending %ss: %w", j.kind.noun, err)
	}

	var intents []reminder.Intent
	for _, p := range rows {
		if !PendingDue(p, now) {
			continue
		}
		hours := int(now.Sub(p.CreatedAt) / time.Hour)
		intents = append(intents, reminder.Intent{
			EntityType:  j.kind.entity,
			EntityID:    p.ID,
			Type:        j.kind.typ,
			ReminderKey: "pending_over_24h",
			Title:       fmt.Sprintf("Pending %s awaiting approval", j.kind.noun),
			Message: fmt.Sprintf("%s's %s \"%s\" (%s) has been pending for %dh.",
				p.RequesterName, j.kind.noun, p.Subject, p.AreaName, hours),
			ActionURL: j.opts.url(fmt.Sprintf(j.kind.path, p.ID)),
			Priority:  reminder.PriorityHigh,
			Payload: map[string]any{
				"area_id":    p.AreaID,
				"created_at": p.CreatedAt,
			},
			Cooldown: PendingCooldown,
			Target:   reminder.Target{AreaID: p.AreaID, NotifyAdmins: true},
		})
	}
	return intents, nil
}
