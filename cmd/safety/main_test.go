package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
)

func TestParseArgs(t *testing.T) {
	now := time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC)

	ra, err := parseArgs([]string{"--tenant", "t1", "--action", "notify_guardian"}, now)
	require.NoError(t, err)
	assert.Equal(t, "t1", ra.tenantID)
	assert.Equal(t, domain.ActionNotifyGuardian, ra.action)
	assert.Equal(t, now, ra.day)

	ra, err = parseArgs([]string{"--tenant", "t1", "--action", "welcome_message", "--day", "2026-03-08"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), ra.day)

	_, err = parseArgs([]string{"--action", "notify_guardian"}, now)
	assert.EqualError(t, err, "tenant required")

	_, err = parseArgs([]string{"--tenant", "t1", "--action", "drop_tables"}, now)
	assert.Error(t, err)

	_, err = parseArgs([]string{"--tenant", "t1", "--action", "notify_guardian", "--day", "09.03.2026"}, now)
	assert.Error(t, err)
}
