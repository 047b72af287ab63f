package main

import (
	"fmt"
	"time"

	"github.com/albapepper/ops-reminders/internal/config"
	"github.com/albapepper/ops-reminders/internal/reminder"
	"github.com/albapepper/ops-reminders/internal/scanner"
	"github.com/albapepper/ops-reminders/internal/store"
)

// jobDef describes one reminder command and its default cadence.
type jobDef struct {
	Name    string
	Short   string // SCHEDULE_<SHORT> override
	Cadence string
	Help    string
}

var jobDefs = []jobDef{
	{scanner.JobAttendance, "attendance", "*/15 * * * *", "Remind employees who have not checked out"},
	{scanner.JobExpenses, "expenses", "0 * * * *", "Remind approvers of pending expenses"},
	{scanner.JobRequests, "requests", "5 * * * *", "Remind approvers of pending requests"},
	{scanner.JobTickets, "tickets", "*/10 * * * *", "Warn about tickets nearing or past their SLA"},
	{scanner.JobMeetings, "meetings", "*/5 * * * *", "Remind participants of upcoming meetings"},
	{scanner.JobServices, "services", "0 8 * * *", "Warn about services about to expire"},
	{scanner.JobSupport, "support", "0 17 * * *", "Remind staff of tomorrow's support duty"},
}

// jobArgs carries per-invocation overrides. Zero values use the defaults.
type jobArgs struct {
	Days []int
	Date time.Time
}

// buildJob returns the scanner for name, reading from src.
func buildJob(name string, src *store.Postgres, cfg *config.Config, args jobArgs) (reminder.Job, error) {
	opts := scanner.Options{Location: cfg.Location, BaseURL: cfg.AppURL}

	switch name {
	case scanner.JobAttendance:
		return scanner.NewCheckoutReminders(src, opts), nil
	case scanner.JobExpenses:
		return scanner.NewExpenseReminders(src.Expenses(), opts), nil
	case scanner.JobRequests:
		return scanner.NewRequestReminders(src.Requests(), opts), nil
	case scanner.JobTickets:
		return scanner.NewSLAReminders(src, opts), nil
	case scanner.JobMeetings:
		return scanner.NewMeetingReminders(src, opts), nil
	case scanner.JobServices:
		days := args.Days
		if len(days) == 0 {
			days = scanner.ParseDays(cfg.ServiceExpiryDays)
		}
		return scanner.NewExpiryReminders(src, days, opts), nil
	case scanner.JobSupport:
		return scanner.NewDutyReminders(src, args.Date, opts), nil
	}
	return nil, fmt.Errorf("unknown job %q", name)
}

// parseDate reads a YYYY-MM-DD flag value in loc. Empty means zero.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}
