package repository

import (
	"context"
	_ "embed"
	"fmt"
	"log"
)

//go:embed schema.sql
var schema string

// Migrate creates the ledger tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Println("[DB] schema applied")
	return nil
}
