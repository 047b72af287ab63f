package scanner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

const (
	ServiceCooldown = 20 * time.Hour
	MaxExpiryDays   = 90
	serviceLimit    = 300
)

// DefaultExpiryDays are the lead times used when none are requested.
var DefaultExpiryDays = []int{7, 1}

// ParseDays normalizes a CSV of lead times: non-integers and values outside
// [0, MaxExpiryDays] are dropped, duplicates removed, order kept. An empty
// result falls back to DefaultExpiryDays.
func ParseDays(csv string) []int {
	seen := make(map[int]bool)
	var days []int
	for _, part := range strings.Split(csv, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > MaxExpiryDays || seen[n] {
			continue
		}
		seen[n] = true
		days = append(days, n)
	}
	if len(days) == 0 {
		return append([]int(nil), DefaultExpiryDays...)
	}
	return days
}

// ExpiryKey is the reminder key for a lead time of n days.
func ExpiryKey(n int) string {
	if n == 0 {
		return "expires_today"
	}
	return fmt.Sprintf("expires_in_%dd", n)
}

// ExpiringService is a non-deleted service contract ending on a given date.
type ExpiringService struct {
	ID                int64
	Name              string
	ClientName        string
	EndDate           time.Time
	AssignedUserID    int64
	ClientExecutiveID int64
}

// ServiceSource returns services whose end_date equals day.
type ServiceSource interface {
	ExpiringOn(ctx context.Context, day time.Time, limit int) ([]ExpiringService, error)
}

// ExpiryReminders warns about service contracts expiring in N days.
type ExpiryReminders struct {
	src  ServiceSource
	days []int
	opts Options
}

// NewExpiryReminders creates the job for the given lead times; nil days
// means DefaultExpiryDays.
func NewExpiryReminders(src ServiceSource, days []int, opts Options) *ExpiryReminders {
	if len(days) == 0 {
		days = DefaultExpiryDays
	}
	return &ExpiryReminders{src: src, days: days, opts: opts}
}

func (j *ExpiryReminders) Name() string { return JobServices }

// Days returns the lead times this job scans for.
func (j *ExpiryReminders) Days() []int { return j.days }

func (j *ExpiryReminders) Scan(ctx context.Context, now time.Time) ([]reminder.Intent, error) {
	today := j.opts.today(now)

	var intents []reminder.Intent
	for _, n := range j.days {
		day := today.AddDate(0, 0, n)
		rows, err := j.src.ExpiringOn(ctx, day, serviceLimit)
		if err != nil {
			return nil, fmt.Errorf("services expiring %s: %w", day.Format(time.DateOnly), err)
		}
		for _, s := range rows {
			if !sameDate(s.EndDate, day) {
				continue
			}
			intents = append(intents, expiryIntent(s, n, day, j.opts))
		}
	}
	return intents, nil
}

func expiryIntent(s ExpiringService, n int, day time.Time, opts Options) reminder.Intent {
	title := fmt.Sprintf("Service expires in %d days", n)
	switch n {
	case 0:
		title = "Service expires today"
	case 1:
		title = "Service expires tomorrow"
	}

	var owners []int64
	for _, id := range []int64{s.AssignedUserID, s.ClientExecutiveID} {
		if id != 0 {
			owners = append(owners, id)
		}
	}

	return reminder.Intent{
		EntityType:  reminder.EntityService,
		EntityID:    s.ID,
		Type:        reminder.TypeServiceExpiry,
		ReminderKey: ExpiryKey(n),
		Title:       title,
		Message:     fmt.Sprintf("%s for %s ends on %s.", s.Name, s.ClientName, day.Format(time.DateOnly)),
		ActionURL:   opts.url(fmt.Sprintf("/services/%d", s.ID)),
		Priority:    reminder.PriorityHigh,
		Payload: map[string]any{
			"days_left": n,
			"end_date":  day.Format(time.DateOnly),
		},
		Cooldown: ServiceCooldown,
		Target:   reminder.Target{Owners: owners, NotifyAdmins: true},
	}
}
