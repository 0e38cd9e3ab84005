package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"rush_engine/internal/model"
)

type staticSettings struct {
	v  model.EmailSettings
	ok bool
}

func (s staticSettings) GetEmailSettings(context.Context) (model.EmailSettings, bool, error) {
	return s.v, s.ok, nil
}

type sendRecorder struct {
	mu      sync.Mutex
	batches [][]PurchaseEvent
}

func (r *sendRecorder) send(_ context.Context, _ model.EmailSettings, events []PurchaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
	return nil
}

func (r *sendRecorder) snapshot() [][]PurchaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]PurchaseEvent(nil), r.batches...)
}

var enabled = staticSettings{v: model.EmailSettings{Enabled: true, Email: "me@qq.com", AuthCode: "code"}, ok: true}

func TestEmailNotifier_BatchesWithinWindow(t *testing.T) {
	rec := &sendRecorder{}
	n := newEmailNotifier(enabled, nil, 50*time.Millisecond, rec.send)
	defer n.Close(context.Background())

	n.NotifyPurchased(context.Background(), PurchaseEvent{TargetName: "Ammo Box", Price: 108})
	n.NotifyPurchased(context.Background(), PurchaseEvent{TargetName: "Med Kit", Price: 50})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := rec.snapshot()
	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch of 2", got)
	}
}

func TestEmailNotifier_CloseFlushesPending(t *testing.T) {
	rec := &sendRecorder{}
	n := newEmailNotifier(enabled, nil, time.Hour, rec.send)
	n.NotifyPurchased(context.Background(), PurchaseEvent{TargetName: "Ammo Box"})
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("batches = %d, want 1", len(got))
	}
}

func TestEmailNotifier_DisabledSendsNothing(t *testing.T) {
	rec := &sendRecorder{}
	n := newEmailNotifier(staticSettings{v: model.EmailSettings{Email: "me@qq.com", AuthCode: "x"}, ok: true}, nil, 0, rec.send)
	n.NotifyPurchased(context.Background(), PurchaseEvent{TargetName: "Ammo Box"})
	_ = n.Close(context.Background())
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("batches = %d, want 0", len(got))
	}
}

func TestBuildEmailBody(t *testing.T) {
	evt := PurchaseEvent{TargetName: "Ammo Box", Price: 108, ExpectedPrice: 100, Ceiling: 110, PremiumPercent: 8, AlreadyBought: 1, BuyGoal: 2}
	html, text, err := buildEmailBody(evt)
	if err != nil {
		t.Fatalf("buildEmailBody: %v", err)
	}
	for _, want := range []string{"Ammo Box", "108", "8.00%", "1/2"} {
		if !strings.Contains(text, want) {
			t.Errorf("text body missing %q:\n%s", want, text)
		}
		if !strings.Contains(html, want) {
			t.Errorf("html body missing %q", want)
		}
	}
	if got := buildSubject(evt); got != "购买成功：Ammo Box ¥108" {
		t.Errorf("subject = %q", got)
	}
}

func TestSmtpConfigForEmail(t *testing.T) {
	cases := []struct {
		email string
		host  string
		port  int
	}{
		{"a@qq.com", "smtp.qq.com", 465},
		{"a@vip.163.com", "smtp.163.com", 465},
		{"a@gmail.com", "smtp.gmail.com", 587},
		{"a@example.org", "smtp.example.org", 465},
	}
	for _, c := range cases {
		host, port, _, err := smtpConfigForEmail(c.email)
		if err != nil {
			t.Fatalf("%s: %v", c.email, err)
		}
		if host != c.host || port != c.port {
			t.Errorf("%s: got %s:%d, want %s:%d", c.email, host, port, c.host, c.port)
		}
	}
	if _, _, _, err := smtpConfigForEmail("nope"); err == nil {
		t.Error("expected error for malformed address")
	}
}
