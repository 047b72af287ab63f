// Package scanner holds one reminder job per business domain. Each job
// issues a bounded, time-windowed query against its source, evaluates a
// pure due-condition over every snapshot, and yields reminder intents.
// Jobs never mutate entity state and never read the wall clock: now is
// always passed in.
package scanner

import (
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Job names (CLI command names)
// --------------------------------------------------------------------------

const (
	JobAttendance = "attendance:send-checkout-reminders"
	JobExpenses   = "expenses:send-reminders"
	JobRequests   = "requests:send-reminders"
	JobTickets    = "tickets:send-reminders"
	JobMeetings   = "meetings:send-reminders"
	JobServices   = "services:send-expiry-reminders"
	JobSupport    = "support-calendar:send-reminders"
)

// Options carries settings shared by every scanner.
type Options struct {
	Location *time.Location // defines "today"; UTC when nil
	BaseURL  string         // prefix for action urls
}

func (o Options) loc() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func (o Options) url(path string) string {
	return strings.TrimRight(o.BaseURL, "/") + path
}

// today returns local midnight of now.
func (o Options) today(now time.Time) time.Time {
	return startOfDay(now.In(o.loc()))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// sameDate compares calendar dates regardless of location.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
