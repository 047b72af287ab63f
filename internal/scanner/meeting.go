package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

// MeetingWindow is one reminder slot before a meeting starts. A meeting
// fires when its start lies within Tolerance of now+Lead; the cooldown
// spans the whole window so a re-run inside it cannot fire twice.
type MeetingWindow struct {
	Key       string
	Lead      time.Duration
	Tolerance time.Duration
	Priority  reminder.Priority
	Label     string
}

// Cooldown covers the full width of the window.
func (w MeetingWindow) Cooldown() time.Duration { return 2 * w.Tolerance }

var MeetingWindows = []MeetingWindow{
	{Key: "starts_in_24h", Lead: 24 * time.Hour, Tolerance: 10 * time.Minute, Priority: reminder.PriorityHigh, Label: "tomorrow"},
	{Key: "starts_in_1h", Lead: time.Hour, Tolerance: 5 * time.Minute, Priority: reminder.PriorityUrgent, Label: "in 1 hour"},
	{Key: "starts_in_15m", Lead: 15 * time.Minute, Tolerance: 5 * time.Minute, Priority: reminder.PriorityUrgent, Label: "in 15 minutes"},
}

// UpcomingMeeting is a scheduled meeting with reminders enabled.
type UpcomingMeeting struct {
	ID             int64
	Title          string
	Location       string
	Status         string
	SendReminders  bool
	StartTime      time.Time
	OrganizerID    int64
	ParticipantIDs []int64
}

// MeetingSource returns scheduled meetings with reminders enabled whose
// start lies in [from, to].
type MeetingSource interface {
	ScheduledBetween(ctx context.Context, from, to time.Time) ([]UpcomingMeeting, error)
}

// InWindow reports whether m starts within w as seen at now.
func InWindow(m UpcomingMeeting, w MeetingWindow, now time.Time) bool {
	if m.Status != "scheduled" || !m.SendReminders {
		return false
	}
	target := now.Add(w.Lead)
	return !m.StartTime.Before(target.Add(-w.Tolerance)) && !m.StartTime.After(target.Add(w.Tolerance))
}

// MeetingReminders notifies organizer and participants ahead of meetings.
type MeetingReminders struct {
	src  MeetingSource
	opts Options
}

func NewMeetingReminders(src MeetingSource, opts Options) *MeetingReminders {
	return &MeetingReminders{src: src, opts: opts}
}

func (j *MeetingReminders) Name() string { return JobMeetings }

func (j *MeetingReminders) Scan(ctx context.Context, now time.Time) ([]reminder.Intent, error) {
	var intents []reminder.Intent
	for _, w := range MeetingWindows {
		target := now.Add(w.Lead)
		rows, err := j.src.ScheduledBetween(ctx, target.Add(-w.Tolerance), target.Add(w.Tolerance))
		if err != nil {
			return nil, fmt.Errorf("meetings %s: %w", w.Key, err)
		}
		for _, m := range rows {
			if !InWindow(m, w, now) {
				continue
			}
			intents = append(intents, j.intent(m, w))
		}
	}
	return intents, nil
}

func (j *MeetingReminders) intent(m UpcomingMeeting, w MeetingWindow) reminder.Intent {
	owners := make([]int64, 0, len(m.ParticipantIDs)+1)
	if m.OrganizerID != 0 {
		owners = append(owners, m.OrganizerID)
	}
	owners = append(owners, m.ParticipantIDs...)

	start := m.StartTime.In(j.opts.loc())
	msg := fmt.Sprintf("\"%s\" starts %s at %s.", m.Title, w.Label, start.Format("15:04"))
	if m.Location != "" {
		msg = fmt.Sprintf("\"%s\" starts %s at %s (%s).", m.Title, w.Label, start.Format("15:04"), m.Location)
	}

	return reminder.Intent{
		EntityType:  reminder.EntityMeeting,
		EntityID:    m.ID,
		Type:        reminder.TypeMeeting,
		ReminderKey: w.Key,
		Title:       "Meeting reminder",
		Message:     msg,
		ActionURL:   j.opts.url(fmt.Sprintf("/meetings/%d", m.ID)),
		Priority:    w.Priority,
		Payload: map[string]any{
			"start_time": m.StartTime,
		},
		Cooldown: w.Cooldown(),
		Target:   reminder.Target{Owners: owners},
	}
}
