package credential

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/philonis/neo/internal/logging"
)

// Migrate encrypts all plaintext values in the credentials table.
// Runs in a single transaction — rolls back entirely on failure.
// Idempotent: skips values that already have the "enc:" prefix.
func Migrate(ctx context.Context, rawDB *sql.DB, key []byte) error {
	tx, err := rawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credential migration: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT name, value FROM credentials WHERE value != ''")
	if err != nil {
		return fmt.Errorf("credential migration: query: %w", err)
	}

	type row struct {
		name, value string
	}
	var toUpdate []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.name, &r.value); err != nil {
			rows.Close()
			return fmt.Errorf("credential migration: scan: %w", err)
		}
		if IsEncrypted(r.value) {
			continue
		}
		toUpdate = append(toUpdate, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("credential migration: rows: %w", err)
	}
	rows.Close()

	for _, r := range toUpdate {
		enc, err := Encrypt(r.value, key)
		if err != nil {
			return fmt.Errorf("credential migration: encrypt %s: %w", r.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE credentials SET value = ?, updated_at = unixepoch() WHERE name = ?",
			enc, r.name); err != nil {
			return fmt.Errorf("credential migration: update %s: %w", r.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credential migration: commit: %w", err)
	}

	if len(toUpdate) > 0 {
		logging.Infof("Credential migration complete: %d values encrypted", len(toUpdate))
	}
	return nil
}
