package scanner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

const (
	SLAHorizon  = 60 * time.Minute
	SLACooldown = 55 * time.Minute
	ticketLimit = 200

	KeySLADueSoon = "sla_due_soon"
	KeySLAOverdue = "sla_overdue"
)

// OpenTicketStatuses are the statuses an SLA still applies to.
var OpenTicketStatuses = []string{"open", "assigned", "in_progress"}

// OpenTicket is an assigned ticket with an SLA deadline.
type OpenTicket struct {
	ID         int64
	Code       string
	Title      string
	Status     string
	AssigneeID int64
	AreaID     int64
	ClientName string
	SLADueAt   time.Time
}

// TicketSource returns open, assigned tickets by SLA deadline, earliest
// first. Overdue and due-soon tickets are bounded separately so a backlog of
// overdue tickets never hides the ones about to breach.
type TicketSource interface {
	// SLAOverdue returns tickets with sla_due_at < now.
	SLAOverdue(ctx context.Context, now time.Time, limit int) ([]OpenTicket, error)
	// SLADueSoon returns tickets with now <= sla_due_at <= horizon.
	SLADueSoon(ctx context.Context, now, horizon time.Time, limit int) ([]OpenTicket, error)
}

// SLAState evaluates a ticket at now. A ticket is due once its deadline is
// within SLAHorizon; past the deadline it is overdue and urgent.
func SLAState(t OpenTicket, now time.Time) (key string, priority reminder.Priority, due bool) {
	if t.AssigneeID == 0 || t.SLADueAt.IsZero() || !slices.Contains(OpenTicketStatuses, t.Status) {
		return "", "", false
	}
	if t.SLADueAt.After(now.Add(SLAHorizon)) {
		return "", "", false
	}
	if t.SLADueAt.Before(now) {
		return KeySLAOverdue, reminder.PriorityUrgent, true
	}
	return KeySLADueSoon, reminder.PriorityHigh, true
}

// SLAReminders warns assignees and their area about SLA deadlines.
type SLAReminders struct {
	src  TicketSource
	opts Options
}

func NewSLAReminders(src TicketSource, opts Options) *SLAReminders {
	return &SLAReminders{src: src, opts: opts}
}

func (j *SLAReminders) Name() string { return JobTickets }

func (j *SLAReminders) Scan(ctx context.Context, now time.Time) ([]reminder.Intent, error) {
	overdue, err := j.src.SLAOverdue(ctx, now, ticketLimit)
	if err != nil {
		return nil, fmt.Errorf("overdue tickets: %w", err)
	}
	soon, err := j.src.SLADueSoon(ctx, now, now.Add(SLAHorizon), ticketLimit)
	if err != nil {
		return nil, fmt.Errorf("due-soon tickets: %w", err)
	}
	rows := append(overdue, soon...)

	var intents []reminder.Intent
	for _, t := range rows {
		key, priority, due := SLAState(t, now)
		if !due {
			continue
		}

		title := fmt.Sprintf("Ticket %s SLA due soon", t.Code)
		msg := fmt.Sprintf("\"%s\" is due in %d min.", t.Title, int(t.SLADueAt.Sub(now).Minutes()))
		if key == KeySLAOverdue {
			title = fmt.Sprintf("Ticket %s SLA overdue", t.Code)
			msg = fmt.Sprintf("\"%s\" is %d min past its SLA.", t.Title, int(now.Sub(t.SLADueAt).Minutes()))
		}

		intents = append(intents, reminder.Intent{
			EntityType:  reminder.EntityTicket,
			EntityID:    t.ID,
			Type:        reminder.TypeTicketSLA,
			ReminderKey: key,
			Title:       title,
			Message:     msg,
			ActionURL:   j.opts.url(fmt.Sprintf("/tickets/%d", t.ID)),
			Priority:    priority,
			Payload: map[string]any{
				"code":       t.Code,
				"sla_due_at": t.SLADueAt,
			},
			Cooldown: SLACooldown,
			Target: reminder.Target{
				Owners:       []int64{t.AssigneeID},
				AreaID:       t.AreaID,
				NotifyAdmins: true,
			},
		})
	}
	return intents, nil
}
