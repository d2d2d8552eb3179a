package store

import (
	"context"
	"encoding/json"
	"fmt"

	"mediaflow/internal/workflow"
)

type workflowRow struct {
	ID     string `db:"id"`
	Record string `db:"record"`
}

// SaveWorkflow inserts or replaces the record of one workflow instance.
func (s *Store) SaveWorkflow(ctx context.Context, rec workflow.Instance) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", rec.ID, err)
	}
	return s.exec(ctx,
		`INSERT INTO workflows (id, template_id, asset_id, state, retry_of, created_at, updated_at, finished_at, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   updated_at = excluded.updated_at,
		   finished_at = excluded.finished_at,
		   record = excluded.record`,
		rec.ID, rec.TemplateID, rec.AssetID, string(rec.State), rec.RetryOf,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatOptionalTime(rec.FinishedAt),
		string(data),
	)
}

// ListWorkflows returns every stored record, oldest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]workflow.Instance, error) {
	return s.selectWorkflows(ctx, "SELECT id, record FROM workflows ORDER BY created_at, id")
}

// DeleteWorkflow removes a record. Deleting an unknown id is not an error.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	return s.exec(ctx, "DELETE FROM workflows WHERE id = ?", id)
}

// CountByState reports how many stored workflows are in each state.
func (s *Store) CountByState(ctx context.Context) (map[workflow.State]int, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT state, COUNT(1) AS count FROM workflows GROUP BY state"); err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}
	out := make(map[workflow.State]int, len(rows))
	for _, row := range rows {
		out[workflow.State(row.State)] = row.Count
	}
	return out, nil
}

func (s *Store) selectWorkflows(ctx context.Context, query string, args ...any) ([]workflow.Instance, error) {
	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]workflow.Instance, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeWorkflow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeWorkflow(row workflowRow) (workflow.Instance, error) {
	var rec workflow.Instance
	if err := json.Unmarshal([]byte(row.Record), &rec); err != nil {
		return workflow.Instance{}, fmt.Errorf("decode workflow %s: %w", row.ID, err)
	}
	return rec, nil
}
