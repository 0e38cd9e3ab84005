package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rush_engine/internal/config"
	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
	"rush_engine/internal/vision"
)

func newTestRun(cat model.Catalog) *run {
	snap := NewSnapshot(cat, config.RushConfig{})
	catalog := cloneTargets(snap.Targets)
	q, _ := BuildQueue(catalog)
	return &run{ctx: context.Background(), id: "test", snap: snap, catalog: catalog, queue: q}
}

func TestAcceptPrice_Monotonic(t *testing.T) {
	cases := []struct {
		expected  float64
		tolerance float64
		lastOK    int64
	}{
		{100, 0.1, 110},
		{110, 0, 110},
		{100, 0.055, 105},
		{0, 0.5, 0},
	}
	for _, c := range cases {
		ceiling := model.Target{ExpectedPrice: c.expected, TolerancePercent: c.tolerance}.PriceCeiling()
		for v := int64(0); v <= c.lastOK+50; v++ {
			got := acceptPrice(v, ceiling)
			if want := v <= c.lastOK; got != want {
				t.Fatalf("expected=%v tol=%v: accept(%d) = %v, want %v", c.expected, c.tolerance, v, got, want)
			}
		}
	}
}

func TestAttempt_AcceptedPurchase(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo Box", price: "108"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, store, sink := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %v (%v), want success", out.Kind, out.Err)
	}
	if r.catalog[0].AlreadyBought != 1 {
		t.Errorf("already bought = %d, want 1", r.catalog[0].AlreadyBought)
	}

	writes := store.Writes()
	wantWrites := []model.BoughtDelta{{ID: "t-ammo", Name: "Ammo Box", Delta: 1}}
	if diff := cmp.Diff(wantWrites, writes); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}

	bought := sink.Events(logbus.TypeBought)
	if len(bought) != 1 {
		t.Fatalf("bought events = %d, want 1", len(bought))
	}
	ev := bought[0].(BoughtEvent)
	if ev.Index != 0 || ev.Target.Name != "Ammo Box" || ev.Target.AlreadyBought != 1 {
		t.Errorf("bought event = %+v", ev)
	}

	want := []string{"move 20,20", "click", "move 105,105", "click", "key:esc"}
	if diff := cmp.Diff(want, g.Actions()); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	r.queue.Prune()
	if r.queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0 after prune", r.queue.Len())
	}
}

func TestAttempt_PriceRejected(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo Box", price: "115"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, store, sink := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeCancelled || out.Reason != reasonPriceRejected {
		t.Fatalf("outcome = %+v, want cancelled/%s", out, reasonPriceRejected)
	}
	if r.catalog[0].AlreadyBought != 0 {
		t.Errorf("already bought = %d, want 0", r.catalog[0].AlreadyBought)
	}
	if len(store.Writes()) != 0 || len(sink.Events(logbus.TypeBought)) != 0 {
		t.Error("rejected price must not persist or emit bought")
	}
	want := []string{"move 20,20", "click", "key:esc"}
	if diff := cmp.Diff(want, g.Actions()); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestAttempt_NameMismatchSkipsPrice(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Med Kit", price: "10"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeCancelled || out.Reason != reasonNameMismatch {
		t.Fatalf("outcome = %+v, want cancelled/%s", out, reasonNameMismatch)
	}
	if n := g.LangCalls(vision.LangNumeric); n != 0 {
		t.Errorf("price recognition calls = %d, want 0", n)
	}
}

func TestAttempt_PartialNameMatches(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo B", price: "90"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	if out := e.attempt(r, &r.catalog[0]); out.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v, want success", out)
	}
}

func TestAttempt_EmptyName(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeCancelled || out.Reason != reasonNameEmpty {
		t.Fatalf("outcome = %+v, want cancelled/%s", out, reasonNameEmpty)
	}
}

func TestAttempt_InvalidPrice(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo Box", price: "--"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeCancelled || out.Reason != reasonPriceInvalid {
		t.Fatalf("outcome = %+v, want cancelled/%s", out, reasonPriceInvalid)
	}
	if got := g.Actions(); got[len(got)-1] != "key:esc" {
		t.Errorf("last action = %q, want escape", got[len(got)-1])
	}
}

func TestAttempt_NotConfirmed(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo Box", price: "100"})
	g.message = "余额不足"
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, store, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeNotConfirmed {
		t.Fatalf("outcome = %+v, want not confirmed", out)
	}
	if r.catalog[0].AlreadyBought != 0 || len(store.Writes()) != 0 {
		t.Error("unconfirmed purchase must not be counted")
	}
	want := []string{"move 20,20", "click", "move 105,105", "click"}
	if diff := cmp.Diff(want, g.Actions()); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestAttempt_InvalidTargetRegion(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	target.Region = model.Region{1, 2}
	g := newFakeGame(settings)
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	out := e.attempt(r, &r.catalog[0])
	if out.Kind != OutcomeError || !errors.Is(out.Err, ErrInvalidRegion) {
		t.Fatalf("outcome = %+v, want error wrapping ErrInvalidRegion", out)
	}
	if len(g.Actions()) != 0 {
		t.Errorf("actions = %v, want none", g.Actions())
	}
}

func TestAttempt_DebugModeNeverClicks(t *testing.T) {
	settings := testSettings()
	settings.DebugMode = true
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo Box", price: "100"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, _ := newTestEngine(cat, g, nil)
	r := newTestRun(cat)

	e.attempt(r, &r.catalog[0])
	for _, a := range g.Actions() {
		if a == "click" {
			t.Fatalf("debug mode clicked: %v", g.Actions())
		}
	}
}

func TestProcess_RecoversPanic(t *testing.T) {
	settings := testSettings()
	target := ammoBox()
	g := newFakeGame(settings)
	g.place(target, fakeItem{name: "Ammo Box", price: "100"})
	cat := model.Catalog{Settings: settings, Targets: []model.Target{target}}
	e, _, sink := newTestEngine(cat, g, nil)
	e.store = nil
	r := newTestRun(cat)

	out := e.process(r, &r.catalog[0])
	if out.Kind != OutcomeError {
		t.Fatalf("outcome = %+v, want error", out)
	}
	if !sink.HasLog("error", "商品处理失败") {
		t.Error("expected failure to be logged")
	}
}
