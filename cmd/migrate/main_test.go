package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/migrations"
)

func TestRunValidatesArgs(t *testing.T) {
	assert.EqualError(t, run([]string{"--dsn", "postgres://localhost/db"}), "action required")
	assert.Error(t, run([]string{"--bogus"}))
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	entries, err := migrations.EmbeddedFS.ReadDir(".")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"00001_directory.sql", "00002_automation.sql", "00003_outbox.sql"}, names)
}
