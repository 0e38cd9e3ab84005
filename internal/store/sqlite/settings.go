package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rush_engine/internal/model"
)

func getSetting(ctx context.Context, q queryer, key string, out any) (bool, error) {
	var valueJSON string
	err := q.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key = ?`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), out); err != nil {
		return false, fmt.Errorf("setting %s: %w", key, err)
	}
	return true, nil
}

func putSetting(ctx context.Context, q queryer, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	return err
}

// settingFields maps every stored run-time setting to its place in
// model.Settings.
func settingFields(s *model.Settings) map[string]any {
	return map[string]any{
		model.FieldLoopMode:          &s.LoopMode,
		model.FieldDebugMode:         &s.DebugMode,
		model.FieldTradeButton:       &s.TradeButton,
		model.FieldBuyButton:         &s.BuyButton,
		model.FieldBuyMessage:        &s.MessageRegion,
		model.FieldProductName:       &s.NameRegion,
		model.FieldProductPrice:      &s.PriceRegion,
		model.FieldActionIntervalMs:  &s.ActionIntervalMs,
		model.FieldConfirmIntervalMs: &s.ConfirmIntervalMs,
	}
}

func (s *Store) GetSettings(ctx context.Context) (model.Settings, error) {
	var out model.Settings
	for key, dst := range settingFields(&out) {
		if _, err := getSetting(ctx, s.db, key, dst); err != nil {
			return model.Settings{}, err
		}
	}
	return out, nil
}

// SaveSettings writes every run-time setting in one transaction.
func (s *Store) SaveSettings(ctx context.Context, v model.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for key, src := range settingFields(&v) {
		if err := putSetting(ctx, tx, key, src); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReadAll returns the whole catalog: run-time settings and targets.
func (s *Store) ReadAll(ctx context.Context) (model.Catalog, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return model.Catalog{}, err
	}
	targets, err := s.ListTargets(ctx)
	if err != nil {
		return model.Catalog{}, err
	}
	return model.Catalog{Settings: settings, Targets: targets}, nil
}

// WriteField persists a single named field. model.FieldTargets replaces the
// whole target list, model.FieldBought bumps one target's counter and every
// other name is stored as a JSON setting.
func (s *Store) WriteField(ctx context.Context, name string, value any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("field name is required")
	}
	switch name {
	case model.FieldTargets:
		targets, ok := value.([]model.Target)
		if !ok {
			return fmt.Errorf("field %s: want []model.Target, got %T", name, value)
		}
		return s.ReplaceTargets(ctx, targets)
	case model.FieldBought:
		d, ok := value.(model.BoughtDelta)
		if !ok {
			return fmt.Errorf("field %s: want model.BoughtDelta, got %T", name, value)
		}
		return s.AddBought(ctx, d)
	}
	return putSetting(ctx, s.db, name, value)
}

func (s *Store) GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error) {
	var out model.EmailSettings
	ok, err := getSetting(ctx, s.db, model.FieldEmail, &out)
	if err != nil || !ok {
		return model.EmailSettings{}, ok, err
	}
	return out, true, nil
}

func (s *Store) UpsertEmailSettings(ctx context.Context, v model.EmailSettings) (model.EmailSettings, error) {
	v.Email = strings.TrimSpace(v.Email)
	v.AuthCode = strings.TrimSpace(v.AuthCode)
	if err := putSetting(ctx, s.db, model.FieldEmail, v); err != nil {
		return model.EmailSettings{}, err
	}
	return v, nil
}
