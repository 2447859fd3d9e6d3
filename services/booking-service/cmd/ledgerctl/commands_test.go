package main

import (
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsOf(t *testing.T) {
	at, err := asOf("2026-05-04T09:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)))

	_, err = asOf("yesterday")
	assert.Error(t, err)

	now, err := asOf("")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, time.Minute)
}

func TestCommandLineParses(t *testing.T) {
	parser, err := kong.New(&CLI, kong.Name("ledgerctl"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{"--database", "postgres://localhost/booking", "mark-paid", "r-1", "r-2"})
	require.NoError(t, err)
	assert.Contains(t, kctx.Command(), "mark-paid")
	assert.Equal(t, []string{"r-1", "r-2"}, CLI.MarkPaid.Records)

	kctx, err = parser.Parse([]string{"--database", "postgres://localhost/booking", "expire-points", "--at", "2026-05-04T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "expire-points", kctx.Command())
	assert.Equal(t, "2026-05-04T00:00:00Z", CLI.ExpirePoints.At)
}
