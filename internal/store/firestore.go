package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

const (
	notificationsCollection = "notifications"
	claimsCollection        = "notification_claims"
)

// Firestore keeps the notification ledger in Firestore. Every claim
// creates a notification document plus a claim document whose id is
// derived from (dedup_key, bucket), so a racing claim in the same window
// fails on create.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

type notificationDoc struct {
	ID        string         `firestore:"id"`
	UserID    int64          `firestore:"user_id"`
	Type      string         `firestore:"type"`
	Title     string         `firestore:"title"`
	Message   string         `firestore:"message"`
	ActionURL string         `firestore:"action_url"`
	Priority  string         `firestore:"priority"`
	Data      map[string]any `firestore:"data"`
	IsRead    bool           `firestore:"is_read"`
	DedupKey  string         `firestore:"dedup_key"`
	CreatedAt time.Time      `firestore:"created_at"`
}

func toDoc(rec *reminder.Record) notificationDoc {
	return notificationDoc{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Type:      rec.Type,
		Title:     rec.Title,
		Message:   rec.Message,
		ActionURL: rec.ActionURL,
		Priority:  string(rec.Priority),
		Data:      rec.Data,
		IsRead:    rec.IsRead,
		DedupKey:  rec.Key.String(),
		CreatedAt: rec.CreatedAt,
	}
}

// claimDocID is the claim document id for a record, or "" when the
// cooldown is zero and no window applies.
func claimDocID(rec *reminder.Record, cooldown time.Duration) string {
	b := reminder.Bucket(rec.CreatedAt, cooldown)
	if b == nil {
		return ""
	}
	return fmt.Sprintf("%s@%d", rec.Key.String(), *b)
}

func (f *Firestore) lookback(key string, since time.Time) firestore.Query {
	return f.client.Collection(notificationsCollection).
		Where("dedup_key", "==", key).
		Where("created_at", ">=", since).
		Limit(1)
}

func (f *Firestore) Exists(ctx context.Context, key reminder.Key, since time.Time) (bool, error) {
	iter := f.lookback(key.String(), since).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookback: %w", err)
	}
	return true, nil
}

func (f *Firestore) Claim(ctx context.Context, rec *reminder.Record, cooldown time.Duration) (bool, error) {
	key := rec.Key.String()
	claimID := claimDocID(rec, cooldown)

	var claimed bool
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		if cooldown > 0 {
			docs, err := tx.Documents(f.lookback(key, rec.CreatedAt.Add(-cooldown))).GetAll()
			if err != nil {
				return fmt.Errorf("ledger lookback: %w", err)
			}
			if len(docs) > 0 {
				return nil
			}
		}
		if claimID != "" {
			ref := f.client.Collection(claimsCollection).Doc(claimID)
			if err := tx.Create(ref, map[string]any{"dedup_key": key, "created_at": rec.CreatedAt}); err != nil {
				return err
			}
		}
		if err := tx.Create(f.client.Collection(notificationsCollection).Doc(rec.ID), toDoc(rec)); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}
