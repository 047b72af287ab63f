package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("DELETE 3"), nil
}

var t0 = time.Date(2026, 3, 10, 17, 5, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPurgeInactiveTokens(t *testing.T) {
	db := &fakeExecer{}
	PurgeInactiveTokens(context.Background(), db, 30*24*time.Hour, t0, discard())

	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "DELETE FROM user_devices WHERE NOT is_active")
	assert.NotContains(t, db.calls[0].sql, "notifications")
	assert.Equal(t, []any{t0.Add(-30 * 24 * time.Hour)}, db.calls[0].args)
}

func TestPurgeErrorsAreLoggedNotFatal(t *testing.T) {
	db := &fakeExecer{err: errors.New("locked")}
	PurgeInactiveTokens(context.Background(), db, time.Hour, t0, discard())
	assert.Len(t, db.calls, 1)
}

func TestStartDisabled(t *testing.T) {
	db := &fakeExecer{}
	Start(context.Background(), db, Config{}, discard())
	assert.Empty(t, db.calls)
}

func TestStartReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Start(ctx, &fakeExecer{}, DefaultConfig(), discard())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
