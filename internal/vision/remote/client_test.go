package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rush_engine/internal/config"
	"rush_engine/internal/vision"
)

func newOCRServer(t *testing.T, langs []string, texts []vision.Text) (*httptest.Server, *[]recognizeReq) {
	t.Helper()
	var got []recognizeReq
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"langs": langs}})
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		var req recognizeReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = append(got, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": texts})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestClient_RecognizeBeforeInit(t *testing.T) {
	c := New(config.VisionConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)), vision.LangNative)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestClient_InitRecognizeClose(t *testing.T) {
	want := []vision.Text{{Text: "108", Confidence: 0.98}}
	srv, reqs := newOCRServer(t, []string{"ch", "en"}, want)
	c := New(config.VisionConfig{BaseURL: srv.URL}, nil)

	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, err := c.Recognize(ctx, image.NewRGBA(image.Rect(0, 0, 4, 2)), vision.LangNumeric)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("texts mismatch (-want +got):\n%s", diff)
	}
	if len(*reqs) != 1 || (*reqs)[0].Lang != vision.LangNumeric {
		t.Fatalf("requests = %+v", *reqs)
	}
	if _, err := base64.StdEncoding.DecodeString((*reqs)[0].Image); err != nil {
		t.Errorf("image is not base64: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Recognize(ctx, image.NewGray(image.Rect(0, 0, 1, 1)), vision.LangNative); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("after Close err = %v, want ErrNotInitialized", err)
	}
}

func TestClient_InitRejectsMissingModel(t *testing.T) {
	srv, _ := newOCRServer(t, []string{"en"}, nil)
	c := New(config.VisionConfig{BaseURL: srv.URL}, nil)
	if err := c.Init(context.Background()); err == nil {
		t.Fatal("expected error when native model is missing")
	}
}

func TestClient_EmptyResult(t *testing.T) {
	srv, _ := newOCRServer(t, nil, []vision.Text{})
	c := New(config.VisionConfig{BaseURL: srv.URL}, nil)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, err := c.Recognize(ctx, image.NewGray(image.Rect(0, 0, 1, 1)), vision.LangNative)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d texts, want 0", len(got))
	}
}
