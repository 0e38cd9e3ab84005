package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/go-cmp/cmp"

	"rush_engine/internal/config"
	"rush_engine/internal/model"
)

func TestClipFor(t *testing.T) {
	got, err := clipFor(model.Region{10, 20, 30, 40})
	if err != nil {
		t.Fatalf("clipFor: %v", err)
	}
	want := &proto.PageViewport{X: 10, Y: 20, Width: 30, Height: 40, Scale: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("clip mismatch (-want +got):\n%s", diff)
	}
}

func TestClipFor_Invalid(t *testing.T) {
	for _, r := range []model.Region{nil, {1, 2, 3}, {0, 0, 0, 10}, {0, 0, 10, -1}} {
		if _, err := clipFor(r); !errors.Is(err, model.ErrInvalidRegion) {
			t.Errorf("clipFor(%v) err = %v, want ErrInvalidRegion", r, err)
		}
	}
}

func TestSession_PressKeyUnsupported(t *testing.T) {
	s := New(config.BrowserConfig{}, nil)
	if err := s.PressKey(context.Background(), "f13"); err == nil {
		t.Fatal("expected error for unsupported key")
	}
}

func TestSession_CloseWithoutConnect(t *testing.T) {
	s := New(config.BrowserConfig{}, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
