package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronRejectsBadExpressions(t *testing.T) {
	cases := []string{
		"",
		"* * * *",
		"* * * * * *",
		"x * * * *",
	}
	for _, expr := range cases {
		_, err := parseCron(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestNextCronTimeDaily(t *testing.T) {
	after := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTimeSameDay(t *testing.T) {
	after := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTimeMonthly(t *testing.T) {
	after := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTimeValueList(t *testing.T) {
	after := time.Date(2025, 3, 10, 0, 20, 0, 0, time.UTC)

	next, err := nextCronTime("15,45 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 45, 0, 0, time.UTC), next)
}
