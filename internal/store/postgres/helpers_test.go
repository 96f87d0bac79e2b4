package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perptools/journal/internal/domain"
)

func TestApplyScopeNumbersPlaceholders(t *testing.T) {
	query := "SELECT * FROM fills WHERE 1=1"
	args := []any{}

	query, args = applyScope(query, args, domain.AccountScope{Source: "apex", AccountID: "a1"})

	assert.Equal(t, "SELECT * FROM fills WHERE 1=1 AND source = $1 AND account_id = $2", query)
	assert.Equal(t, []any{"apex", "a1"}, args)
}

func TestApplyScopeEmptyMatchesAll(t *testing.T) {
	query := "SELECT * FROM fills WHERE 1=1"
	args := []any{}

	query, args = applyScope(query, args, domain.AccountScope{})

	assert.Equal(t, "SELECT * FROM fills WHERE 1=1", query)
	assert.Empty(t, args)
}

func TestApplyWindowContinuesNumbering(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	query := "SELECT * FROM fills WHERE 1=1"
	args := []any{}
	query, args = applyScope(query, args, domain.AccountScope{Source: "apex"})
	query, args = applyWindow(query, args, domain.ListOpts{Since: &since, Until: &until}, "timestamp")

	assert.Equal(t,
		"SELECT * FROM fills WHERE 1=1 AND source = $1 AND timestamp >= $2 AND timestamp <= $3",
		query)
	assert.Equal(t, []any{"apex", since, until}, args)
}

func TestApplyPageZeroLimitIsUnbounded(t *testing.T) {
	query := "SELECT * FROM trades WHERE 1=1"
	args := []any{}

	query, args = applyPage(query, args, domain.ListOpts{})

	assert.Equal(t, "SELECT * FROM trades WHERE 1=1", query)
	assert.Empty(t, args)
}

func TestApplyPageLimitOffset(t *testing.T) {
	query := "SELECT * FROM trades WHERE 1=1"
	args := []any{"apex"}

	query, args = applyPage(query, args, domain.ListOpts{Limit: 50, Offset: 100})

	assert.Equal(t, "SELECT * FROM trades WHERE 1=1 LIMIT $2 OFFSET $3", query)
	assert.Equal(t, []any{"apex", 50, 100}, args)
}
