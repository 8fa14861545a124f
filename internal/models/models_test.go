package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowIsHalfOpen(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	schedule := &ForwardingSchedule{StartsAt: start, EndsAt: end}

	assert.False(t, schedule.WindowContains(start.Add(-time.Second)))
	assert.True(t, schedule.WindowContains(start), "start boundary is inclusive")
	assert.True(t, schedule.WindowContains(start.Add(time.Hour)))
	assert.False(t, schedule.WindowContains(end), "end boundary is exclusive")

	assert.False(t, schedule.WindowElapsed(end.Add(-time.Second)))
	assert.True(t, schedule.WindowElapsed(end))
	assert.True(t, schedule.WindowElapsed(end.Add(time.Hour)))
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, (&ForwardingSchedule{Status: StatusPending}).IsTerminal())
	assert.False(t, (&ForwardingSchedule{Status: StatusActive}).IsTerminal())
	assert.True(t, (&ForwardingSchedule{Status: StatusExpired}).IsTerminal())
	assert.True(t, (&ForwardingSchedule{Status: StatusCancelled}).IsTerminal())
}
