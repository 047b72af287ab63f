package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

const (
	RecordCheckIn  = "check_in"
	RecordCheckOut = "check_out"

	CheckoutThreshold = 540 * time.Minute
	CheckoutCooldown  = 6 * time.Hour
	attendanceLimit   = 500
)

// OpenAttendance is today's attendance of an active user with its most
// recent clock record.
type OpenAttendance struct {
	AttendanceID   int64
	UserID         int64
	UserName       string
	Date           time.Time
	LastRecordType string
	LastRecordAt   time.Time
}

// AttendanceSource queries attendances of a day belonging to an active user
// whose latest record is a check-in made at or before checkedInBy. The limit
// applies after that filter, oldest check-in first.
type AttendanceSource interface {
	OpenAttendances(ctx context.Context, day, checkedInBy time.Time, limit int) ([]OpenAttendance, error)
}

// CheckoutDue reports whether the user checked in and has not checked out
// for at least CheckoutThreshold.
func CheckoutDue(a OpenAttendance, now time.Time) bool {
	return a.LastRecordType == RecordCheckIn && now.Sub(a.LastRecordAt) >= CheckoutThreshold
}

// CheckoutReminders reminds users who forgot to check out.
type CheckoutReminders struct {
	src  AttendanceSource
	opts Options
}

func NewCheckoutReminders(src AttendanceSource, opts Options) *CheckoutReminders {
	return &CheckoutReminders{src: src, opts: opts}
}

func (j *CheckoutReminders) Name() string { return JobAttendance }

func (j *CheckoutReminders) Scan(ctx context.Context, now time.Time) ([]reminder.Intent, error) {
	rows, err := j.src.OpenAttendances(ctx, j.opts.today(now), now.Add(-CheckoutThreshold), attendanceLimit)
	if err != nil {
		return nil, fmt.Errorf("open attendances: %w", err)
	}

	var intents []reminder.Intent
	for _, a := range rows {
		if a.UserID == 0 || !CheckoutDue(a, now) {
			continue
		}
		checkIn := a.LastRecordAt.In(j.opts.loc()).Format("15:04")
		intents = append(intents, reminder.Intent{
			EntityType:  reminder.EntityAttendance,
			EntityID:    a.AttendanceID,
			Type:        reminder.TypeAttendanceCheckout,
			ReminderKey: "missing_checkout",
			Title:       "Missing check-out",
			Message:     fmt.Sprintf("You checked in at %s and have not checked out yet.", checkIn),
			ActionURL:   j.opts.url("/attendance"),
			Priority:    reminder.PriorityNormal,
			Payload: map[string]any{
				"check_in_at": a.LastRecordAt,
			},
			Cooldown: CheckoutCooldown,
			Target:   reminder.Target{Owners: []int64{a.UserID}},
		})
	}
	return intents, nil
}
