package postgres

import (
	"fmt"

	"github.com/perptools/journal/internal/domain"
)

// Query-building helpers shared by the stores. All of them append to a query
// that already contains a WHERE clause and keep the placeholder numbering in
// step with the args slice.

func applyScope(query string, args []any, scope domain.AccountScope) (string, []any) {
	if scope.Source != "" {
		query += fmt.Sprintf(" AND source = $%d", len(args)+1)
		args = append(args, scope.Source)
	}
	if scope.AccountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", len(args)+1)
		args = append(args, scope.AccountID)
	}
	return query, args
}

func applyWindow(query string, args []any, opts domain.ListOpts, column string) (string, []any) {
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args)+1)
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, len(args)+1)
		args = append(args, *opts.Until)
	}
	return query, args
}

func applyPage(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}
	return query, args
}
