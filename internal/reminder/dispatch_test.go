package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 17, 5, 0, 0, time.UTC)

func checkoutIntent() Intent {
	return Intent{
		EntityType:  EntityAttendance,
		EntityID:    42,
		Type:        TypeAttendanceCheckout,
		ReminderKey: "missing_checkout",
		Title:       "Missing check-out",
		Message:     "You have not checked out yet.",
		ActionURL:   "https://ops.example.com/attendance",
		Priority:    PriorityNormal,
		Cooldown:    6 * time.Hour,
		Target:      Target{Owners: []int64{1}},
	}
}

func TestNewRecordEmbedsEntityAndReminder(t *testing.T) {
	in := checkoutIntent()
	in.Payload = map[string]any{"check_in_at": "08:00"}

	rec := NewRecord(1, AudiencePrimary, in, t0)

	require.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(42), rec.Data["attendance_id"])
	assert.Equal(t, "missing_checkout", rec.Data["reminder"])
	assert.Equal(t, "primary", rec.Data["audience"])
	assert.Equal(t, "08:00", rec.Data["check_in_at"])
	assert.Equal(t, "1:attendance_checkout_reminder:42:missing_checkout:primary", rec.Key.String())

	data := rec.PushData()
	assert.Equal(t, "42", data["attendance_id"])
	assert.Equal(t, "missing_checkout", data["reminder"])
	assert.Equal(t, rec.ID, data["notification_id"])
	assert.Equal(t, "normal", data["priority"])
	assert.Equal(t, in.ActionURL, data["action_url"])

	_, shared := in.Payload["reminder"]
	assert.False(t, shared, "intent payload must not be mutated")
}

func TestDispatchPartialPushFailureIsolated(t *testing.T) {
	ledger := &memLedger{}
	push := &recordingPusher{failFor: map[int64]bool{2: true}}
	d := NewDispatcher(NewGuard(ledger), push, testLogger())

	deliveries := []Delivery{
		{UserID: 1, Audience: AudiencePrimary},
		{UserID: 2, Audience: AudiencePrimary},
		{UserID: 3, Audience: AudiencePrimary},
	}

	out, err := d.Dispatch(context.Background(), deliveries, checkoutIntent(), t0)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Sent: 3, PushFailed: 1}, out)
	assert.Equal(t, 3, ledger.count())
	assert.Equal(t, 3, push.callCount())
	assert.Len(t, ledger.forUser(1), 1)
	assert.Len(t, ledger.forUser(3), 1)
}

func TestDispatchRecoversPanickingGateway(t *testing.T) {
	ledger := &memLedger{}
	push := &recordingPusher{panicOn: map[int64]bool{1: true}}
	d := NewDispatcher(NewGuard(ledger), push, testLogger())

	out, err := d.Dispatch(context.Background(),
		[]Delivery{{UserID: 1, Audience: AudiencePrimary}, {UserID: 2, Audience: AudiencePrimary}},
		checkoutIntent(), t0)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Sent: 2, PushFailed: 1}, out)
	assert.Equal(t, 2, push.callCount())
}

func TestDispatchSuppressesOnlyTheDuplicatePair(t *testing.T) {
	ledger := &memLedger{}
	push := &recordingPusher{}
	d := NewDispatcher(NewGuard(ledger), push, testLogger())
	in := checkoutIntent()

	_, err := d.Dispatch(context.Background(), []Delivery{{UserID: 1, Audience: AudiencePrimary}}, in, t0)
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(),
		[]Delivery{{UserID: 1, Audience: AudiencePrimary}, {UserID: 2, Audience: AudiencePrimary}},
		in, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Outcome{Sent: 1, Suppressed: 1}, out)
	assert.Equal(t, 2, push.callCount())
}

func TestDispatchAudiencesAreDeduplicatedSeparately(t *testing.T) {
	ledger := &memLedger{}
	d := NewDispatcher(NewGuard(ledger), &recordingPusher{}, testLogger())
	in := checkoutIntent()

	out, err := d.Dispatch(context.Background(),
		[]Delivery{{UserID: 1, Audience: AudiencePrimary}, {UserID: 1, Audience: AudienceAdmin}},
		in, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Sent)
}

func TestDispatchLedgerFailureAborts(t *testing.T) {
	ledger := &memLedger{err: errors.New("store unreachable")}
	push := &recordingPusher{}
	d := NewDispatcher(NewGuard(ledger), push, testLogger())

	_, err := d.Dispatch(context.Background(), []Delivery{{UserID: 1, Audience: AudiencePrimary}}, checkoutIntent(), t0)
	require.ErrorContains(t, err, "store unreachable")
	assert.Zero(t, push.callCount())
}

func TestCooldownBoundary(t *testing.T) {
	ledger := &memLedger{}
	g := NewGuard(ledger)
	in := checkoutIntent()
	eps := time.Second

	claimed, err := g.Claim(context.Background(), NewRecord(1, AudiencePrimary, in, t0), in.Cooldown)
	require.NoError(t, err)
	require.True(t, claimed)

	key := KeyFor(1, AudiencePrimary, in)

	sent, err := g.AlreadySent(context.Background(), key, in.Cooldown, t0.Add(in.Cooldown-eps))
	require.NoError(t, err)
	assert.True(t, sent, "inside cooldown")

	sent, err = g.AlreadySent(context.Background(), key, in.Cooldown, t0.Add(in.Cooldown+eps))
	require.NoError(t, err)
	assert.False(t, sent, "after cooldown")

	claimed, err = g.Claim(context.Background(), NewRecord(1, AudiencePrimary, in, t0.Add(in.Cooldown-eps)), in.Cooldown)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = g.Claim(context.Background(), NewRecord(1, AudiencePrimary, in, t0.Add(in.Cooldown+eps)), in.Cooldown)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestBucket(t *testing.T) {
	require.Nil(t, Bucket(t0, 0))

	b := Bucket(t0, time.Hour)
	require.NotNil(t, b)
	assert.Equal(t, t0.Unix()/3600, *b)

	// a send at T and one a full cooldown later never share a bucket
	later := Bucket(t0.Add(time.Hour), time.Hour)
	assert.NotEqual(t, *b, *later)
}
