package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-forward-scheduler/internal/models"
)

func TestCreateAssignsID(t *testing.T) {
	s := NewMemoryStore()

	schedule := &models.ForwardingSchedule{
		UserEmail:      "alice@example.com",
		ForwardToEmail: "bob@example.com",
		StartsAt:       time.Now(),
		EndsAt:         time.Now().Add(time.Hour),
		Status:         models.StatusPending,
	}
	require.NoError(t, s.Create(schedule))
	assert.NotEmpty(t, schedule.ID)

	got, err := s.GetByID(schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@example.com", got.UserEmail)

	missing, err := s.GetByID("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransitionStatusIsConditional(t *testing.T) {
	s := NewMemoryStore()

	schedule := &models.ForwardingSchedule{
		UserEmail:      "alice@example.com",
		ForwardToEmail: "bob@example.com",
		StartsAt:       time.Now().Add(-time.Hour),
		EndsAt:         time.Now().Add(time.Hour),
		Status:         models.StatusPending,
	}
	require.NoError(t, s.Create(schedule))

	ruleID := "rule-1"
	applied, err := s.TransitionStatus(schedule.ID, models.StatusPending, models.StatusActive, &ruleID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ := s.GetByID(schedule.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	require.NotNil(t, got.ExternalRuleID)
	assert.Equal(t, "rule-1", *got.ExternalRuleID)

	// second writer operating on the stale PENDING snapshot loses the race
	applied, err = s.TransitionStatus(schedule.ID, models.StatusPending, models.StatusActive, &ruleID)
	require.NoError(t, err)
	assert.False(t, applied)

	// nil rule id leaves the stored one untouched
	applied, err = s.TransitionStatus(schedule.ID, models.StatusActive, models.StatusExpired, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ = s.GetByID(schedule.ID)
	assert.Equal(t, models.StatusExpired, got.Status)
	require.NotNil(t, got.ExternalRuleID)
	assert.Equal(t, "rule-1", *got.ExternalRuleID)
}

func TestDueQueries(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	duePending := &models.ForwardingSchedule{
		UserEmail: "a@example.com", ForwardToEmail: "x@example.com",
		StartsAt: now.Add(-time.Minute), EndsAt: now.Add(time.Hour),
		Status: models.StatusPending,
	}
	futurePending := &models.ForwardingSchedule{
		UserEmail: "b@example.com", ForwardToEmail: "x@example.com",
		StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour),
		Status: models.StatusPending,
	}
	dueActive := &models.ForwardingSchedule{
		UserEmail: "c@example.com", ForwardToEmail: "x@example.com",
		StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Minute),
		Status: models.StatusActive,
	}
	runningActive := &models.ForwardingSchedule{
		UserEmail: "d@example.com", ForwardToEmail: "x@example.com",
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
		Status: models.StatusActive,
	}
	for _, schedule := range []*models.ForwardingSchedule{duePending, futurePending, dueActive, runningActive} {
		require.NoError(t, s.Create(schedule))
	}

	activations, err := s.ListDueForActivation(now)
	require.NoError(t, err)
	require.Len(t, activations, 1)
	assert.Equal(t, duePending.ID, activations[0].ID)

	deactivations, err := s.ListDueForDeactivation(now)
	require.NoError(t, err)
	require.Len(t, deactivations, 1)
	assert.Equal(t, dueActive.ID, deactivations[0].ID)

	count, err := s.CountInStatuses(models.StatusPending, models.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestListByUserInStatuses(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	for _, status := range []string{models.StatusPending, models.StatusCancelled, models.StatusExpired} {
		require.NoError(t, s.Create(&models.ForwardingSchedule{
			UserEmail: "alice@example.com", ForwardToEmail: "x@example.com",
			StartsAt: now, EndsAt: now.Add(time.Hour), Status: status,
		}))
	}
	require.NoError(t, s.Create(&models.ForwardingSchedule{
		UserEmail: "bob@example.com", ForwardToEmail: "x@example.com",
		StartsAt: now, EndsAt: now.Add(time.Hour), Status: models.StatusPending,
	}))

	inFlight, err := s.ListByUserInStatuses("alice@example.com", models.StatusPending, models.StatusActive)
	require.NoError(t, err)
	assert.Len(t, inFlight, 1)
	assert.Equal(t, models.StatusPending, inFlight[0].Status)

	all, err := s.ListByUser("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
