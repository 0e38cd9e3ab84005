package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rush_engine/internal/model"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const targetColumns = `id, name, kind, expected_price, tolerance_percent, enabled, buy_goal, already_bought, region_json, created_at, updated_at`

func scanTarget(sc rowScanner) (model.Target, error) {
	var row struct {
		id               string
		name             string
		kind             string
		expectedPrice    float64
		tolerancePercent float64
		enabled          int
		buyGoal          int
		alreadyBought    int
		regionJSON       string
		createdAt        int64
		updatedAt        int64
	}
	if err := sc.Scan(&row.id, &row.name, &row.kind, &row.expectedPrice, &row.tolerancePercent, &row.enabled, &row.buyGoal, &row.alreadyBought, &row.regionJSON, &row.createdAt, &row.updatedAt); err != nil {
		return model.Target{}, err
	}
	var region model.Region
	if err := json.Unmarshal([]byte(row.regionJSON), &region); err != nil {
		return model.Target{}, fmt.Errorf("target %s region: %w", row.id, err)
	}
	if len(region) == 0 {
		region = nil
	}
	return model.Target{
		ID:               row.id,
		Name:             row.name,
		Kind:             row.kind,
		ExpectedPrice:    row.expectedPrice,
		TolerancePercent: row.tolerancePercent,
		Enabled:          row.enabled == 1,
		BuyGoal:          row.buyGoal,
		AlreadyBought:    row.alreadyBought,
		Region:           region,
		CreatedAt:        time.UnixMilli(row.createdAt),
		UpdatedAt:        time.UnixMilli(row.updatedAt),
	}, nil
}

func normalizeTarget(t model.Target) (model.Target, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return model.Target{}, errors.New("name is required")
	}
	if t.ExpectedPrice < 0 {
		return model.Target{}, errors.New("expectedPrice must be >= 0")
	}
	if t.TolerancePercent < 0 {
		return model.Target{}, errors.New("tolerancePercent must be >= 0")
	}
	if t.BuyGoal < 0 || t.AlreadyBought < 0 {
		return model.Target{}, errors.New("buyGoal and alreadyBought must be >= 0")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return t, nil
}

func upsertTarget(ctx context.Context, q queryer, t model.Target, sortOrder int) error {
	region := t.Region
	if region == nil {
		region = model.Region{}
	}
	regionJSON, err := json.Marshal(region)
	if err != nil {
		return err
	}
	enabled := 0
	if t.Enabled {
		enabled = 1
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO targets (id, name, kind, expected_price, tolerance_percent, enabled, buy_goal, already_bought, region_json, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			expected_price = excluded.expected_price,
			tolerance_percent = excluded.tolerance_percent,
			enabled = excluded.enabled,
			buy_goal = excluded.buy_goal,
			already_bought = excluded.already_bought,
			region_json = excluded.region_json,
			sort_order = excluded.sort_order,
			updated_at = excluded.updated_at
	`, t.ID, t.Name, t.Kind, t.ExpectedPrice, t.TolerancePercent, enabled, t.BuyGoal, t.AlreadyBought, string(regionJSON), sortOrder, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	return err
}

// UpsertTarget inserts or updates one target. New targets are appended to
// the end of the catalog order.
func (s *Store) UpsertTarget(ctx context.Context, t model.Target) (model.Target, error) {
	t, err := normalizeTarget(t)
	if err != nil {
		return model.Target{}, err
	}

	var sortOrder int
	err = s.db.QueryRowContext(ctx, `SELECT sort_order FROM targets WHERE id = ?`, t.ID).Scan(&sortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order) + 1, 0) FROM targets`).Scan(&sortOrder)
	}
	if err != nil {
		return model.Target{}, err
	}

	if err := upsertTarget(ctx, s.db, t, sortOrder); err != nil {
		return model.Target{}, err
	}
	return s.GetTarget(ctx, t.ID)
}

func (s *Store) GetTarget(ctx context.Context, id string) (model.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	return scanTarget(row)
}

func listTargets(ctx context.Context, q queryer) ([]model.Target, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY sort_order ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTargets returns the catalog in its configured order.
func (s *Store) ListTargets(ctx context.Context) ([]model.Target, error) {
	return listTargets(ctx, s.db)
}

// ReplaceTargets makes the stored catalog equal to targets, in that order.
func (s *Store) ReplaceTargets(ctx context.Context, targets []model.Target) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	keep := make([]any, 0, len(targets))
	for i, t := range targets {
		nt, err := normalizeTarget(t)
		if err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if err := upsertTarget(ctx, tx, nt, i); err != nil {
			return err
		}
		keep = append(keep, nt.ID)
	}

	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM targets`); err != nil {
			return err
		}
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id NOT IN (`+placeholders+`)`, keep...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ResetTargetBought clears the bought counter of one target.
func (s *Store) ResetTargetBought(ctx context.Context, id string) (model.Target, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE targets SET already_bought = 0, updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return model.Target{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Target{}, sql.ErrNoRows
	}
	return s.GetTarget(ctx, id)
}

// AddBought adds d.Delta to one target's bought counter and leaves every
// other column and target untouched.
func (s *Store) AddBought(ctx context.Context, d model.BoughtDelta) error {
	col, key := "id", d.ID
	if key == "" {
		col, key = "name", d.Name
	}
	if key == "" {
		return errors.New("target id or name is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET already_bought = MAX(already_bought + ?, 0), updated_at = ? WHERE `+col+` = ?`,
		d.Delta, time.Now().UnixMilli(), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	return err
}
