package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
)

// ErrInactiveRows is reported when product_cache holds rows that are not active.
var ErrInactiveRows = errors.New("product_cache holds non-active rows")

type tableSpec struct {
	name    string
	columns []string
}

func expectedTables() []tableSpec {
	return []tableSpec{
		{
			name:    models.ProductCache{}.TableName(),
			columns: append([]string{"id"}, models.ProductCacheColumns...),
		},
		{
			name: models.SyncDeadLetter{}.TableName(),
			columns: []string{
				"id", "message_id", "event_type", "product_id", "correlation_id", "payload_json",
				"reason", "error_message", "delivery_count", "failed_at", "created_at",
			},
		},
	}
}

// VerifySchema checks that the cache and dead-letter tables expose every column the
// worker writes and that the cache only holds active products. All problems are
// reported together.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("db is required")
	}

	var errs error
	for _, table := range expectedTables() {
		errs = multierr.Append(errs, checkColumns(ctx, db, table))
	}
	if errs != nil {
		return errs
	}

	var inactive int64
	row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM product_cache WHERE status <> 'active'")
	if err := row.Scan(&inactive); err != nil {
		return fmt.Errorf("count inactive cache rows: %w", err)
	}
	if inactive > 0 {
		return fmt.Errorf("%w: %d", ErrInactiveRows, inactive)
	}
	return nil
}

func checkColumns(ctx context.Context, db *sql.DB, table tableSpec) error {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 0", strings.Join(table.columns, ", "), table.name)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("table %s: %w", table.name, err)
	}
	defer rows.Close()
	return rows.Err()
}
