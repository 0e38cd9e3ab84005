package engine

import (
	"context"
	"time"

	"rush_engine/internal/config"
	"rush_engine/internal/model"
)

// ConfigStore is where the catalog and run-time settings are kept.
type ConfigStore interface {
	ReadAll(ctx context.Context) (model.Catalog, error)
	WriteField(ctx context.Context, name string, value any) error
}

// EventSink receives logs and domain events. *logbus.Bus implements it.
type EventSink interface {
	Log(level, msg string, fields map[string]any)
	Publish(typ string, data any)
}

type noopSink struct{}

func (noopSink) Log(string, string, map[string]any) {}
func (noopSink) Publish(string, any)                {}

// BoughtEvent is published after a confirmed purchase has been persisted.
type BoughtEvent struct {
	Index  int          `json:"index"`
	Target model.Target `json:"target"`
}

type StoppedEvent struct {
	RunID string `json:"runId,omitempty"`
}

// Snapshot is the configuration a run works from. It is built once in Start
// and never changes while the run is live.
type Snapshot struct {
	Settings        model.Settings
	Targets         []model.Target
	ActionInterval  time.Duration
	ConfirmInterval time.Duration
}

func NewSnapshot(cat model.Catalog, rush config.RushConfig) Snapshot {
	s := Snapshot{
		Settings:        cloneSettings(cat.Settings),
		Targets:         cloneTargets(cat.Targets),
		ActionInterval:  cat.Settings.ActionInterval(rush.DefaultActionInterval()),
		ConfirmInterval: cat.Settings.ConfirmInterval(rush.DefaultConfirmInterval()),
	}
	return s
}

func cloneRegion(r model.Region) model.Region {
	if r == nil {
		return nil
	}
	return append(model.Region(nil), r...)
}

func cloneSettings(s model.Settings) model.Settings {
	s.TradeButton = cloneRegion(s.TradeButton)
	s.BuyButton = cloneRegion(s.BuyButton)
	s.MessageRegion = cloneRegion(s.MessageRegion)
	s.NameRegion = cloneRegion(s.NameRegion)
	s.PriceRegion = cloneRegion(s.PriceRegion)
	return s
}

func cloneTargets(in []model.Target) []model.Target {
	if in == nil {
		return nil
	}
	out := make([]model.Target, len(in))
	for i, t := range in {
		t.Region = cloneRegion(t.Region)
		out[i] = t
	}
	return out
}

// indexOf returns the position of the first target named name, or -1.
func indexOf(targets []model.Target, name string) int {
	for i := range targets {
		if targets[i].Name == name {
			return i
		}
	}
	return -1
}
