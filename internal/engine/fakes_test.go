package engine

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"
	"testing"
	"time"

	"rush_engine/internal/config"
	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
	"rush_engine/internal/vision"
)

type fakeStore struct {
	mu     sync.Mutex
	cat    model.Catalog
	onRead func()
	writes []model.BoughtDelta
}

func (s *fakeStore) ReadAll(context.Context) (model.Catalog, error) {
	if s.onRead != nil {
		s.onRead()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Catalog{Settings: cloneSettings(s.cat.Settings), Targets: cloneTargets(s.cat.Targets)}, nil
}

func (s *fakeStore) WriteField(_ context.Context, name string, value any) error {
	if name != model.FieldBought {
		return fmt.Errorf("unexpected field %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, value.(model.BoughtDelta))
	return nil
}

func (s *fakeStore) Writes() []model.BoughtDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.BoughtDelta(nil), s.writes...)
}

type recordingSink struct {
	mu     sync.Mutex
	logs   []logbus.LogData
	events []logbus.Message
}

func (s *recordingSink) Log(level, msg string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logbus.LogData{Level: level, Msg: msg, Fields: fields})
}

func (s *recordingSink) Publish(typ string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, logbus.Message{Type: typ, Data: data})
}

func (s *recordingSink) Events(typ string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, m := range s.events {
		if m.Type == typ {
			out = append(out, m.Data)
		}
	}
	return out
}

func (s *recordingSink) HasLog(level, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.Level == level && l.Msg == msg {
			return true
		}
	}
	return false
}

// regionImage remembers which region it was captured from.
type regionImage struct {
	*image.Gray
	region model.Region
}

type fakeItem struct {
	name  string
	price string
}

// fakeGame plays the client: moving onto a target's center selects that
// item, and the name/price regions then read back the item's texts.
type fakeGame struct {
	mu          sync.Mutex
	settings    model.Settings
	items       map[[2]float64]fakeItem
	current     fakeItem
	message     string
	foreground  bool
	initErr     error
	actions     []string
	langCalls   map[vision.Lang]int
	navigations map[string]int
	inits       int
	closes      int
}

func newFakeGame(settings model.Settings) *fakeGame {
	return &fakeGame{
		settings:    settings,
		items:       make(map[[2]float64]fakeItem),
		message:     "购买成功",
		foreground:  true,
		langCalls:   make(map[vision.Lang]int),
		navigations: make(map[string]int),
	}
}

func (g *fakeGame) place(t model.Target, shown fakeItem) {
	x, y, _ := t.Region.Center()
	g.mu.Lock()
	g.items[[2]float64{x, y}] = shown
	g.mu.Unlock()
}

func (g *fakeGame) MoveTo(_ context.Context, x, y float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, fmt.Sprintf("move %.0f,%.0f", x, y))
	if it, ok := g.items[[2]float64{x, y}]; ok {
		g.current = it
		g.navigations[it.name]++
	}
	return nil
}

func (g *fakeGame) Click(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, "click")
	return nil
}

func (g *fakeGame) PressKey(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, "key:"+key)
	return nil
}

func (g *fakeGame) Capture(_ context.Context, region model.Region) (image.Image, error) {
	return regionImage{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), region: region}, nil
}

func (g *fakeGame) EnsureForeground(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.foreground, nil
}

func (g *fakeGame) Init(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inits++
	return g.initErr
}

func (g *fakeGame) Recognize(_ context.Context, img image.Image, lang vision.Lang) ([]vision.Text, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.langCalls[lang]++
	ri, ok := img.(regionImage)
	if !ok {
		return nil, fmt.Errorf("unexpected image %T", img)
	}
	var text string
	switch {
	case slices.Equal(ri.region, g.settings.NameRegion):
		text = g.current.name
	case slices.Equal(ri.region, g.settings.PriceRegion):
		text = g.current.price
	case slices.Equal(ri.region, g.settings.MessageRegion):
		text = g.message
	}
	if text == "" {
		return nil, nil
	}
	return []vision.Text{{Text: text, Confidence: 0.99}}, nil
}

func (g *fakeGame) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	return nil
}

func (g *fakeGame) Actions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.actions...)
}

func (g *fakeGame) LangCalls(lang vision.Lang) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.langCalls[lang]
}

func (g *fakeGame) Navigations(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.navigations[name]
}

func (g *fakeGame) Counts() (inits, closes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inits, g.closes
}

func testSettings() model.Settings {
	return model.Settings{
		TradeButton:   model.Region{0, 0, 10, 10},
		BuyButton:     model.Region{100, 100, 10, 10},
		MessageRegion: model.Region{200, 200, 50, 10},
		NameRegion:    model.Region{300, 300, 50, 10},
		PriceRegion:   model.Region{400, 400, 50, 10},
	}
}

func ammoBox() model.Target {
	return model.Target{
		ID:               "t-ammo",
		Name:             "Ammo Box",
		ExpectedPrice:    100,
		TolerancePercent: 0.1,
		Enabled:          true,
		BuyGoal:          1,
		Region:           model.Region{10, 10, 20, 20},
	}
}

func medKit() model.Target {
	return model.Target{
		ID:               "t-med",
		Name:             "Med Kit",
		ExpectedPrice:    50,
		TolerancePercent: 0,
		Enabled:          true,
		BuyGoal:          1,
		Region:           model.Region{40, 10, 20, 20},
	}
}

func newTestEngine(cat model.Catalog, g *fakeGame, mod func(*Options)) (*Engine, *fakeStore, *recordingSink) {
	store := &fakeStore{cat: cat}
	sink := &recordingSink{}
	opts := Options{
		Store:    store,
		Vision:   g,
		Actuator: g,
		Screen:   g,
		Window:   g,
		Bus:      sink,
		Rush:     config.RushConfig{JoinTimeoutMs: 2000},
		Sleep:    func(time.Duration) {},
	}
	if mod != nil {
		mod(&opts)
	}
	return New(opts), store, sink
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
