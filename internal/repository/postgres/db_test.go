package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	assert.True(t, fromNullTime(nil).IsZero())

	now := time.Now().UTC()
	p := nullTime(now)
	require.NotNil(t, p)
	assert.True(t, now.Equal(fromNullTime(p)))
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"users", "resources", "resource_health", "validation_records", "journal_events"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}
