package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger is an in-memory Ledger with the same lookback semantics as the
// Postgres implementation.
type memLedger struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (l *memLedger) Exists(_ context.Context, key Key, since time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	return l.existsLocked(key, since), nil
}

func (l *memLedger) Claim(_ context.Context, rec *Record, cooldown time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if cooldown > 0 && l.existsLocked(rec.Key, rec.CreatedAt.Add(-cooldown)) {
		return false, nil
	}
	l.records = append(l.records, rec)
	return true, nil
}

func (l *memLedger) existsLocked(key Key, since time.Time) bool {
	for _, r := range l.records {
		if r.Key == key && !r.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *memLedger) forUser(id int64) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Record
	for _, r := range l.records {
		if r.UserID == id {
			out = append(out, r)
		}
	}
	return out
}

// memDirectory serves users from maps.
type memDirectory struct {
	users    map[int64]User
	managers map[int64][]int64 // area -> user ids
	err      error
}

func newDirectory(users ...User) *memDirectory {
	d := &memDirectory{users: map[int64]User{}, managers: map[int64][]int64{}}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *memDirectory) Users(_ context.Context, ids []int64) ([]User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *memDirectory) AreaManagers(ctx context.Context, areaID int64) ([]User, error) {
	return d.Users(ctx, d.managers[areaID])
}

func (d *memDirectory) SuperAdmins(_ context.Context) ([]User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []User
	for _, u := range d.users {
		if u.HasRole(RoleSuperAdmin) {
			out = append(out, u)
		}
	}
	return out, nil
}

type pushCall struct {
	UserIDs []int64
	Title   string
	Body    string
	URL     string
	Data    map[string]string
}

// recordingPusher records calls and fails for selected users.
type recordingPusher struct {
	mu      sync.Mutex
	calls   []pushCall
	failFor map[int64]bool
	panicOn map[int64]bool
}

func (p *recordingPusher) Send(_ context.Context, userIDs []int64, title, body, url string, data map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{UserIDs: userIDs, Title: title, Body: body, URL: url, Data: data})
	for _, id := range userIDs {
		if p.panicOn[id] {
			panic("gateway exploded")
		}
		if p.failFor[id] {
			return errors.New("gateway unavailable")
		}
	}
	return nil
}

func (p *recordingPusher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// staticJob returns a fixed set of intents.
type staticJob struct {
	name    string
	intents []Intent
	err     error
}

func (j staticJob) Name() string { return j.name }

func (j staticJob) Scan(context.Context, time.Time) ([]Intent, error) {
	return j.intents, j.err
}

func activeUser(id int64, roles ...string) User {
	return User{ID: id, Name: "user", Active: true, Roles: roles}
}
