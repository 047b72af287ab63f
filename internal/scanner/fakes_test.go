package scanner

import (
	"context"
	"time"
)

var t0 = time.Date(2026, 3, 10, 17, 5, 0, 0, time.UTC)

// attendanceSource filters and truncates like the real query: rows are
// expected in check-in order.
type attendanceSource struct {
	rows        []OpenAttendance
	err         error
	day         time.Time
	checkedInBy time.Time
}

func (s *attendanceSource) OpenAttendances(_ context.Context, day, checkedInBy time.Time, limit int) ([]OpenAttendance, error) {
	s.day, s.checkedInBy = day, checkedInBy
	if s.err != nil {
		return nil, s.err
	}
	var out []OpenAttendance
	for _, a := range s.rows {
		if len(out) == limit {
			break
		}
		if a.LastRecordType == RecordCheckIn && !a.LastRecordAt.After(checkedInBy) {
			out = append(out, a)
		}
	}
	return out, nil
}

type pendingSource struct {
	rows   []PendingApproval
	err    error
	cutoff time.Time
}

func (s *pendingSource) PendingBefore(_ context.Context, cutoff time.Time, _ int) ([]PendingApproval, error) {
	s.cutoff = cutoff
	return s.rows, s.err
}

// ticketSource splits and truncates like the real queries: rows are
// expected in deadline order.
type ticketSource struct {
	rows    []OpenTicket
	horizon time.Time
}

func (s *ticketSource) SLAOverdue(_ context.Context, now time.Time, limit int) ([]OpenTicket, error) {
	return s.take(limit, func(t OpenTicket) bool { return t.SLADueAt.Before(now) }), nil
}

func (s *ticketSource) SLADueSoon(_ context.Context, now, horizon time.Time, limit int) ([]OpenTicket, error) {
	s.horizon = horizon
	return s.take(limit, func(t OpenTicket) bool {
		return !t.SLADueAt.Before(now) && !t.SLADueAt.After(horizon)
	}), nil
}

func (s *ticketSource) take(limit int, keep func(OpenTicket) bool) []OpenTicket {
	var out []OpenTicket
	for _, t := range s.rows {
		if len(out) == limit {
			break
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// serviceSource filters by end date like the real query.
type serviceSource struct {
	rows    []ExpiringService
	queried []time.Time
}

func (s *serviceSource) ExpiringOn(_ context.Context, day time.Time, _ int) ([]ExpiringService, error) {
	s.queried = append(s.queried, day)
	var out []ExpiringService
	for _, r := range s.rows {
		if sameDate(r.EndDate, day) {
			out = append(out, r)
		}
	}
	return out, nil
}

// meetingSource filters by start time like the real query.
type meetingSource struct {
	rows []UpcomingMeeting
}

func (s *meetingSource) ScheduledBetween(_ context.Context, from, to time.Time) ([]UpcomingMeeting, error) {
	var out []UpcomingMeeting
	for _, m := range s.rows {
		if !m.StartTime.Before(from) && !m.StartTime.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

type dutySource struct {
	rows []DutyAssignment
	day  time.Time
}

func (s *dutySource) AssignmentsOn(_ context.Context, day time.Time) ([]DutyAssignment, error) {
	s.day = day
	var out []DutyAssignment
	for _, a := range s.rows {
		if sameDate(a.DutyDate, day) {
			out = append(out, a)
		}
	}
	return out, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
