// Package cortex runs completions as a SQL function call on the same
// connection that stores the conversations.
package cortex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stupiduntilnot/cortexchat/internal/db"
)

// DefaultFunction is the managed completion function exposed by Snowflake.
const DefaultFunction = "SNOWFLAKE.CORTEX.COMPLETE"

// Backend implements model.Provider with `SELECT <function>(?, ?)`.
type Backend struct {
	db    *sql.DB
	query string
}

// New returns a Backend calling function, or DefaultFunction when empty.
func New(database *sql.DB, function string) (*Backend, error) {
	if function == "" {
		function = DefaultFunction
	}
	if err := db.ValidateIdentifier(function); err != nil {
		return nil, err
	}
	return &Backend{
		db:    database,
		query: "SELECT " + function + "(?, ?) AS response",
	}, nil
}

// Complete binds model and prompt as parameters and returns the raw response.
func (b *Backend) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	var resp sql.NullString
	if err := b.db.QueryRowContext(ctx, b.query, modelID, prompt).Scan(&resp); err != nil {
		return "", fmt.Errorf("cortex complete: %w", err)
	}
	return resp.String, nil
}
