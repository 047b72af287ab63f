package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

const DutyCooldown = 20 * time.Hour

// DutyAssignment is a support-roster entry.
type DutyAssignment struct {
	ID       int64
	UserID   int64
	UserName string
	DutyDate time.Time
	Shift    string
	Notes    string
}

// DutySource returns the roster assignments of one day.
type DutySource interface {
	AssignmentsOn(ctx context.Context, day time.Time) ([]DutyAssignment, error)
}

// DutyReminders tells assignees about their support duty the next day.
type DutyReminders struct {
	src  DutySource
	date time.Time // zero means "today"
	opts Options
}

// NewDutyReminders creates the job. A non-zero date replaces "today" as the
// base date; the reminder always targets the day after.
func NewDutyReminders(src DutySource, date time.Time, opts Options) *DutyReminders {
	return &DutyReminders{src: src, date: date, opts: opts}
}

func (j *DutyReminders) Name() string { return JobSupport }

// TargetDate is the duty date reminded about at now.
func (j *DutyReminders) TargetDate(now time.Time) time.Time {
	base := j.opts.today(now)
	if !j.date.IsZero() {
		y, m, d := j.date.Date()
		base = time.Date(y, m, d, 0, 0, 0, 0, j.opts.loc())
	}
	return base.AddDate(0, 0, 1)
}

func (j *DutyReminders) Scan(ctx context.Context, now time.Time) ([]reminder.Intent, error) {
	day := j.TargetDate(now)
	rows, err := j.src.AssignmentsOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("duty assignments %s: %w", day.Format(time.DateOnly), err)
	}

	var intents []reminder.Intent
	for _, a := range rows {
		if a.UserID == 0 || !sameDate(a.DutyDate, day) {
			continue
		}
		msg := fmt.Sprintf("You are on support duty tomorrow (%s).", day.Format(time.DateOnly))
		if a.Shift != "" {
			msg = fmt.Sprintf("You are on support duty tomorrow (%s, %s).", day.Format(time.DateOnly), a.Shift)
		}
		intents = append(intents, reminder.Intent{
			EntityType:  reminder.EntitySupportDuty,
			EntityID:    a.ID,
			Type:        reminder.TypeSupportDuty,
			ReminderKey: "duty_tomorrow",
			Title:       "Support duty tomorrow",
			Message:     msg,
			ActionURL:   j.opts.url("/support-calendar"),
			Priority:    reminder.PriorityHigh,
			Payload: map[string]any{
				"duty_date": day.Format(time.DateOnly),
			},
			Cooldown: DutyCooldown,
			Target:   reminder.Target{Owners: []int64{a.UserID}},
		})
	}
	return intents, nil
}
