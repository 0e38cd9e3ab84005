// Package remote implements vision.Engine on top of an HTTP OCR service.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/go-resty/resty/v2"

	"rush_engine/internal/config"
	"rush_engine/internal/logbus"
	"rush_engine/internal/vision"
)

var ErrNotInitialized = errors.New("ocr client not initialized")

type apiEnvelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    T      `json:"data"`
}

type healthData struct {
	Langs []string `json:"langs"`
}

type recognizeReq struct {
	Image string      `json:"image"`
	Lang  vision.Lang `json:"lang"`
}

type Client struct {
	cfg config.VisionConfig
	bus *logbus.Bus

	mu     sync.Mutex
	client *resty.Client
}

func New(cfg config.VisionConfig, bus *logbus.Bus) *Client {
	return &Client{cfg: cfg, bus: bus}
}

func (c *Client) newClient() *resty.Client {
	client := resty.New().
		SetBaseURL(c.cfg.BaseURL).
		SetTimeout(c.cfg.Timeout()).
		SetRetryCount(c.cfg.Retry.Count).
		SetRetryWaitTime(c.cfg.Retry.Wait()).
		SetRetryMaxWaitTime(c.cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	client.SetHeader("Accept", "application/json")
	return client
}

// Init checks the service is reachable and that it serves both models.
func (c *Client) Init(ctx context.Context) error {
	client := c.newClient()

	var resp apiEnvelope[healthData]
	r, err := client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("/health")
	if err != nil {
		return fmt.Errorf("ocr health: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("ocr health: %s", r.Status())
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "ocr service not ready"
		}
		return errors.New(resp.Error)
	}
	if len(resp.Data.Langs) > 0 {
		have := make(map[string]bool, len(resp.Data.Langs))
		for _, l := range resp.Data.Langs {
			have[l] = true
		}
		for _, want := range []vision.Lang{vision.LangNative, vision.LangNumeric} {
			if !have[string(want)] {
				return fmt.Errorf("ocr service has no %q model", want)
			}
		}
	}

	c.mu.Lock()
	old := c.client
	c.client = client
	c.mu.Unlock()
	if old != nil {
		old.GetClient().CloseIdleConnections()
	}

	if c.bus != nil {
		c.bus.Log("debug", "OCR engine ready", map[string]any{"baseURL": c.cfg.BaseURL})
	}
	return nil
}

func (c *Client) Recognize(ctx context.Context, img image.Image, lang vision.Lang) ([]vision.Text, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, ErrNotInitialized
	}
	if img == nil {
		return nil, errors.New("nil image")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, vision.Grayscale(img)); err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}

	var resp apiEnvelope[[]vision.Text]
	r, err := client.R().
		SetContext(ctx).
		SetBody(recognizeReq{Image: base64.StdEncoding.EncodeToString(buf.Bytes()), Lang: lang}).
		SetResult(&resp).
		Post("/ocr")
	if err != nil {
		return nil, err
	}
	if r.IsError() {
		return nil, fmt.Errorf("ocr: %s", r.Status())
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "recognition failed"
		}
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}

// Close drops the HTTP client; Recognize fails until the next Init.
func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.GetClient().CloseIdleConnections()
		if c.bus != nil {
			c.bus.Log("debug", "OCR resources released", nil)
		}
	}
	return nil
}
