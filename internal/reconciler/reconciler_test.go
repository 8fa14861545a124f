package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-forward-scheduler/internal/gateway"
	"mail-forward-scheduler/internal/metrics"
	"mail-forward-scheduler/internal/models"
	"mail-forward-scheduler/internal/store"
)

// promauto registers against the default registry, so one Metrics
// instance is shared across all tests in the package
var testMetrics = metrics.NewMetrics()

// fakeGateway records calls and can be told to fail per mailbox
type fakeGateway struct {
	createCalls  []string
	disableCalls []string
	failFor      map[string]bool
}

func (f *fakeGateway) GetRule(ctx context.Context, mailbox string) (*gateway.Rule, error) {
	return nil, nil
}

func (f *fakeGateway) CreateOrUpdateRule(ctx context.Context, mailbox, forwardTo, forwardName string, enabled bool) (*gateway.Rule, error) {
	f.createCalls = append(f.createCalls, mailbox)
	if f.failFor[mailbox] {
		return nil, fmt.Errorf("gateway unavailable")
	}
	return &gateway.Rule{ID: "rule-1", Name: gateway.RuleName, ForwardTo: forwardTo, Enabled: enabled}, nil
}

func (f *fakeGateway) Enable(ctx context.Context, mailbox, ruleID string) error {
	return nil
}

func (f *fakeGateway) Disable(ctx context.Context, mailbox, ruleID string) error {
	f.disableCalls = append(f.disableCalls, mailbox)
	if f.failFor[mailbox] {
		return fmt.Errorf("gateway unavailable")
	}
	return nil
}

func (f *fakeGateway) Delete(ctx context.Context, mailbox, ruleID string) (bool, error) {
	return true, nil
}

func newTestReconciler(now time.Time) (*Reconciler, *store.MemoryStore, *fakeGateway) {
	memStore := store.NewMemoryStore()
	gw := &fakeGateway{failFor: make(map[string]bool)}
	rec := New(memStore, gw, testMetrics, nil)
	rec.now = func() time.Time { return now }
	return rec, memStore, gw
}

func seedSchedule(t *testing.T, memStore *store.MemoryStore, user, status string, startsAt, endsAt time.Time, ruleID *string) *models.ForwardingSchedule {
	t.Helper()
	schedule := &models.ForwardingSchedule{
		UserEmail:      user,
		ForwardToEmail: "backup@example.com",
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		Status:         status,
		ExternalRuleID: ruleID,
	}
	require.NoError(t, memStore.Create(schedule))
	return schedule
}

func TestActivatesDuePendingSchedule(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)

	seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(-time.Minute), t0.Add(2*time.Hour), nil)

	report := rec.Run(context.Background())

	assert.Equal(t, 1, report.Activated)
	assert.Equal(t, 0, report.Deactivated)
	assert.Equal(t, 0, report.Missed)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"alice@example.com"}, gw.createCalls)

	schedules, err := memStore.ListByUser("alice@example.com")
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, models.StatusActive, schedules[0].Status)
	require.NotNil(t, schedules[0].ExternalRuleID)
	assert.Equal(t, "rule-1", *schedules[0].ExternalRuleID)
}

func TestPendingBeforeWindowLeftAlone(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)

	seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(time.Hour), t0.Add(3*time.Hour), nil)

	report := rec.Run(context.Background())

	assert.Equal(t, 0, report.Activated)
	assert.Empty(t, gw.createCalls)

	schedules, _ := memStore.ListByUser("alice@example.com")
	assert.Equal(t, models.StatusPending, schedules[0].Status)
}

func TestMissedWindowExpiresWithoutGatewayCall(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)

	// entire window elapsed before any pass ran against it
	seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(-3*time.Hour), t0.Add(-time.Hour), nil)

	report := rec.Run(context.Background())

	assert.Equal(t, 0, report.Activated)
	assert.Equal(t, 1, report.Missed)
	assert.Empty(t, report.Errors)
	assert.Empty(t, gw.createCalls, "missed window must never reach the external system")

	schedules, _ := memStore.ListByUser("alice@example.com")
	assert.Equal(t, models.StatusExpired, schedules[0].Status)
	assert.Nil(t, schedules[0].ExternalRuleID)
}

func TestDeactivatesExpiredActiveSchedule(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)

	ruleID := "rule-1"
	seedSchedule(t, memStore, "alice@example.com", models.StatusActive,
		t0.Add(-3*time.Hour), t0.Add(-time.Minute), &ruleID)

	report := rec.Run(context.Background())

	assert.Equal(t, 1, report.Deactivated)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"alice@example.com"}, gw.disableCalls)

	schedules, _ := memStore.ListByUser("alice@example.com")
	assert.Equal(t, models.StatusExpired, schedules[0].Status)
}

func TestActivationFailureLeavesPendingAndRetries(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)
	gw.failFor["alice@example.com"] = true

	seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(-time.Minute), t0.Add(2*time.Hour), nil)

	report := rec.Run(context.Background())

	assert.Equal(t, 0, report.Activated)
	assert.Equal(t, 0, report.Missed, "a failed activation is not a missed window")
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "enable failed")

	schedules, _ := memStore.ListByUser("alice@example.com")
	assert.Equal(t, models.StatusPending, schedules[0].Status)

	// later pass succeeds once the gateway recovers
	gw.failFor["alice@example.com"] = false
	rec.now = func() time.Time { return t0.Add(time.Minute) }

	report = rec.Run(context.Background())
	assert.Equal(t, 1, report.Activated)
	assert.Empty(t, report.Errors)

	schedules, _ = memStore.ListByUser("alice@example.com")
	assert.Equal(t, models.StatusActive, schedules[0].Status)
}

func TestDisableFailureKeepsActive(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)
	gw.failFor["alice@example.com"] = true

	ruleID := "rule-1"
	seedSchedule(t, memStore, "alice@example.com", models.StatusActive,
		t0.Add(-3*time.Hour), t0.Add(-time.Minute), &ruleID)

	report := rec.Run(context.Background())

	assert.Equal(t, 0, report.Deactivated)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "disable failed")

	// still ACTIVE: the store must not claim the window ended while the
	// rule may still be forwarding mail
	schedules, _ := memStore.ListByUser("alice@example.com")
	assert.Equal(t, models.StatusActive, schedules[0].Status)
}

func TestOneFailureDoesNotAbortPass(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)
	gw.failFor["alice@example.com"] = true

	seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(-time.Minute), t0.Add(2*time.Hour), nil)
	seedSchedule(t, memStore, "bob@example.com", models.StatusPending,
		t0.Add(-time.Minute), t0.Add(2*time.Hour), nil)

	report := rec.Run(context.Background())

	assert.Equal(t, 1, report.Activated)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, gw.createCalls, "bob@example.com")

	schedules, _ := memStore.ListByUser("bob@example.com")
	assert.Equal(t, models.StatusActive, schedules[0].Status)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)

	ruleID := "rule-1"
	seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(-time.Minute), t0.Add(2*time.Hour), nil)
	seedSchedule(t, memStore, "bob@example.com", models.StatusActive,
		t0.Add(-3*time.Hour), t0.Add(-time.Minute), &ruleID)

	first := rec.Run(context.Background())
	assert.Equal(t, 1, first.Activated)
	assert.Equal(t, 1, first.Deactivated)

	gw.createCalls = nil
	gw.disableCalls = nil

	// no wall-clock progress, so nothing left to do
	second := rec.Run(context.Background())
	assert.Equal(t, 0, second.Activated)
	assert.Equal(t, 0, second.Deactivated)
	assert.Equal(t, 0, second.Missed)
	assert.Empty(t, second.Errors)
	assert.Empty(t, gw.createCalls)
	assert.Empty(t, gw.disableCalls)
}

func TestFullWindowLifecycle(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, gw := newTestReconciler(t0)

	// window [T0+1h, T0+3h)
	schedule := seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(time.Hour), t0.Add(3*time.Hour), nil)

	// before the window opens: nothing happens
	report := rec.Run(context.Background())
	assert.Equal(t, 0, report.Activated)
	assert.Empty(t, gw.createCalls)

	// window opens
	rec.now = func() time.Time { return t0.Add(time.Hour) }
	report = rec.Run(context.Background())
	assert.Equal(t, 1, report.Activated)

	current, _ := memStore.GetByID(schedule.ID)
	assert.Equal(t, models.StatusActive, current.Status)

	// window closes
	rec.now = func() time.Time { return t0.Add(3 * time.Hour) }
	report = rec.Run(context.Background())
	assert.Equal(t, 1, report.Deactivated)
	assert.Equal(t, []string{"alice@example.com"}, gw.disableCalls)

	current, _ = memStore.GetByID(schedule.ID)
	assert.Equal(t, models.StatusExpired, current.Status)
}

func TestConcurrentPassLosesRaceGracefully(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec, memStore, _ := newTestReconciler(t0)

	schedule := seedSchedule(t, memStore, "alice@example.com", models.StatusPending,
		t0.Add(-time.Minute), t0.Add(2*time.Hour), nil)

	// another pass transitions the row between our scan and our write
	ruleID := "rule-1"
	applied, err := memStore.TransitionStatus(schedule.ID, models.StatusPending, models.StatusActive, &ruleID)
	require.NoError(t, err)
	require.True(t, applied)

	report := rec.Run(context.Background())

	// the stale transition is skipped, not counted and not an error
	assert.Equal(t, 0, report.Activated)
	assert.Empty(t, report.Errors)
}
