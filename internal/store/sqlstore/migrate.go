package sqlstore

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/docmapper/internal/model"
)

// Migrate creates the tables for every entity type in the catalog and the
// link tables for their direct relations. Existing tables are left alone.
func (s *Store) Migrate(ctx context.Context, catalog *model.Catalog) error {
	for _, t := range catalog.Types() {
		if _, err := s.db.ExecContext(ctx, s.dialect.CreateTableSQL(t)); err != nil {
			return fmt.Errorf("sqlstore: create table %s: %w", t.Table, err)
		}
	}
	for _, t := range catalog.Types() {
		for _, r := range t.Relations {
			if _, err := s.db.ExecContext(ctx, s.dialect.CreateLinkTableSQL(t, r.Name)); err != nil {
				return fmt.Errorf("sqlstore: create link table %s: %w", LinkTable(t, r.Name), err)
			}
		}
	}
	return nil
}
