package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mediaflow/internal/template"
)

type templateRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Hash       string `db:"hash"`
	Definition string `db:"definition"`
	CreatedAt  string `db:"created_at"`
}

// SaveTemplate stores a published template definition. Templates are
// immutable, so saving an existing id keeps the first row.
func (s *Store) SaveTemplate(ctx context.Context, tpl template.Template, hash string) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("encode template %s: %w", tpl.ID, err)
	}
	return s.exec(ctx,
		`INSERT INTO templates (id, name, hash, definition, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		tpl.ID, tpl.Name, hash, string(data), formatTime(time.Now()),
	)
}

// ListTemplates returns every stored template ordered by id.
func (s *Store) ListTemplates(ctx context.Context) ([]template.Template, error) {
	var rows []templateRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, name, hash, definition, created_at FROM templates ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]template.Template, 0, len(rows))
	for _, row := range rows {
		tpl, err := template.Parse([]byte(row.Definition))
		if err != nil {
			return nil, fmt.Errorf("decode template %s: %w", row.ID, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}
