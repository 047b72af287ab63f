package reminder

import (
	"context"
	"time"
)

// Ledger is the notification store seen as a dedup ledger.
type Ledger interface {
	// Exists reports whether a record with key was created at or after since.
	Exists(ctx context.Context, key Key, since time.Time) (bool, error)

	// Claim inserts rec unless a record with the same key was created within
	// cooldown of rec.CreatedAt. The check and the insert are atomic. A zero
	// cooldown inserts unconditionally.
	Claim(ctx context.Context, rec *Record, cooldown time.Duration) (bool, error)
}

// Guard suppresses reminders already sent within their cooldown window.
type Guard struct {
	ledger Ledger
}

func NewGuard(ledger Ledger) *Guard {
	return &Guard{ledger: ledger}
}

// AlreadySent is the read-only lookback: true when an equivalent record
// exists with created_at >= now - cooldown.
func (g *Guard) AlreadySent(ctx context.Context, key Key, cooldown time.Duration, now time.Time) (bool, error) {
	if cooldown <= 0 {
		return false, nil
	}
	return g.ledger.Exists(ctx, key, now.Add(-cooldown))
}

// Claim persists rec if no equivalent record exists within cooldown.
// It returns false when the send is suppressed.
func (g *Guard) Claim(ctx context.Context, rec *Record, cooldown time.Duration) (bool, error) {
	if cooldown < 0 {
		cooldown = 0
	}
	return g.ledger.Claim(ctx, rec, cooldown)
}

// Bucket truncates t to the cooldown granularity. The store keeps a unique
// index on (dedup_key, bucket) so two claims racing past the lookback still
// cannot both land in the same window. Returns nil for a zero cooldown.
func Bucket(t time.Time, cooldown time.Duration) *int64 {
	secs := int64(cooldown / time.Second)
	if secs <= 0 {
		return nil
	}
	b := t.Unix() / secs
	return &b
}
