package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterBuildNumbersPlaceholdersInOrder(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	sql, args, err := NewFilter().
		Where("business_id = ?", "biz-1").
		WhereIf(false, "attendant_id = ?", "att-1").
		Where("created_at >= ? AND created_at < ?", from, to).
		Build("ORDER BY created_at LIMIT ?", 50)
	require.NoError(t, err)

	assert.Equal(t, " WHERE (business_id = $1) AND (created_at >= $2 AND created_at < $3) ORDER BY created_at LIMIT $4", sql)
	assert.Equal(t, []any{"biz-1", from, to, 50}, args)
}

func TestFilterBuildEmpty(t *testing.T) {
	sql, args, err := NewFilter().Build("")
	require.NoError(t, err)
	assert.Equal(t, "", sql)
	assert.Empty(t, args)
}

func TestFilterRejectsPlaceholderMismatch(t *testing.T) {
	_, _, err := NewFilter().Where("a = ? AND b = ?", 1).Build("")
	assert.Error(t, err)

	_, _, err = NewFilter().Where("a = ?", 1).Build("LIMIT ?")
	assert.Error(t, err)
}
