package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// EnsureSchema creates the session table if it does not exist yet.
// Running it again against an existing table is a no-op.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := s.dialect.CreateTable(s.table, s.columns)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		if !isAlreadyExistsError(err) {
			_ = tx.Rollback()
			return fmt.Errorf("create session table %s: %w", s.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}

	s.log.Debugf("ensured session table %s", s.table)
	return nil
}

// isAlreadyExistsError reports whether this error indicates idempotent DDL success.
func isAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate")
}
