// Package reminder is the dispatch core shared by every reminder job.
//
// Pipeline: scan due entities → resolve recipients → claim ledger entry →
// persist + push. Scanners live in package scanner; this package owns the
// intent/record types, the recipient resolver, the dedup guard and the
// dispatcher.
package reminder

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Enums
// --------------------------------------------------------------------------

// EntityType names the business entity a reminder is about.
type EntityType string

const (
	EntityAttendance  EntityType = "attendance"
	EntityExpense     EntityType = "expense"
	EntityRequest     EntityType = "request"
	EntityTicket      EntityType = "ticket"
	EntityService     EntityType = "service"
	EntityMeeting     EntityType = "meeting"
	EntitySupportDuty EntityType = "support_duty"
)

// IDField is the key under which the entity id is embedded in notification data.
func (e EntityType) IDField() string { return string(e) + "_id" }

// Priority of a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Audience separates the primary recipients of an intent from the
// super-admin broadcast. It is part of the ledger key, so each audience
// is deduplicated on its own.
type Audience string

const (
	AudiencePrimary Audience = "primary"
	AudienceAdmin   Audience = "broadcast_admin"
)

// Notification types written to the store.
const (
	TypeAttendanceCheckout = "attendance_checkout_reminder"
	TypeExpensePending     = "expense_pending_reminder"
	TypeRequestPending     = "request_pending_reminder"
	TypeTicketSLA          = "ticket_sla_reminder"
	TypeServiceExpiry      = "service_expiry_reminder"
	TypeMeeting            = "meeting_reminder"
	TypeSupportDuty        = "support_duty_reminder"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Target describes who an intent is addressed to before resolution.
type Target struct {
	Owners       []int64 // direct owner / assignee / participants
	AreaID       int64   // 0 when the entity has no area
	NotifyAdmins bool    // parallel super-admin broadcast
}

// Intent is a decision, made during a single scan, that an entity currently
// warrants a specific kind of reminder. Intents are never mutated.
type Intent struct {
	EntityType  EntityType
	EntityID    int64
	Type        string
	ReminderKey string
	Title       string
	Message     string
	ActionURL   string
	Priority    Priority
	Payload     map[string]any
	Cooldown    time.Duration
	Target      Target
}

// Key identifies a ledger entry: at most one record per key may exist
// within the intent's cooldown window.
type Key struct {
	UserID   int64
	Type     string
	Entity   EntityType
	EntityID int64
	Reminder string
	Audience Audience
}

// String renders the key in the form stored in the dedup_key column.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%d:%s:%s", k.UserID, k.Type, k.EntityID, k.Reminder, k.Audience)
}

// KeyFor builds the ledger key of an intent for one recipient.
func KeyFor(userID int64, audience Audience, in Intent) Key {
	return Key{
		UserID:   userID,
		Type:     in.Type,
		Entity:   in.EntityType,
		EntityID: in.EntityID,
		Reminder: in.ReminderKey,
		Audience: audience,
	}
}

// Record is a persisted in-app notification. It doubles as the dedup ledger.
type Record struct {
	ID        string
	UserID    int64
	Type      string
	Title     string
	Message   string
	ActionURL string
	Priority  Priority
	Data      map[string]any
	IsRead    bool
	CreatedAt time.Time
	Key       Key
}

// NewRecord builds the notification record for one recipient of an intent.
// Data always embeds the entity id, the reminder key and the audience.
func NewRecord(userID int64, audience Audience, in Intent, now time.Time) *Record {
	data := make(map[string]any, len(in.Payload)+4)
	for k, v := range in.Payload {
		data[k] = v
	}
	data["entity_type"] = string(in.EntityType)
	data[in.EntityType.IDField()] = in.EntityID
	data["reminder"] = in.ReminderKey
	data["audience"] = string(audience)

	return &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		ActionURL: in.ActionURL,
		Priority:  in.Priority,
		Data:      data,
		CreatedAt: now,
		Key:       KeyFor(userID, audience, in),
	}
}

// PushData flattens a record into the string map carried by a push message.
func (r *Record) PushData() map[string]string {
	out := make(map[string]string, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = stringify(v)
	}
	out["type"] = r.Type
	out["priority"] = string(r.Priority)
	out["notification_id"] = r.ID
	if r.ActionURL != "" {
		out["action_url"] = r.ActionURL
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// Delivery is one resolved recipient of an intent.
type Delivery struct {
	UserID   int64
	Audience Audience
}
