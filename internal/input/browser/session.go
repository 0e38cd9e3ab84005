// Package browser drives a game client rendered in a Chromium page over the
// DevTools protocol. Session implements input.Actuator, input.Screen and
// input.Window.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	rodinput "github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"rush_engine/internal/config"
	"rush_engine/internal/input"
	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
)

var ErrNoPage = errors.New("client page not found")

var keyMap = map[string]rodinput.Key{
	input.KeyEscape: rodinput.Escape,
	"enter":         rodinput.Enter,
	"tab":           rodinput.Tab,
}

type Session struct {
	cfg config.BrowserConfig
	bus *logbus.Bus

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
}

func New(cfg config.BrowserConfig, bus *logbus.Bus) *Session {
	return &Session{cfg: cfg, bus: bus}
}

func (s *Session) connectLocked() (*rod.Browser, error) {
	if s.browser != nil {
		return s.browser, nil
	}

	u := strings.TrimSpace(s.cfg.ControlURL)
	var l *launcher.Launcher
	if u == "" {
		l = launcher.New().Headless(s.cfg.Headless)
		launched, err := l.Launch()
		if err != nil {
			l.Kill()
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		u = launched
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = b
	s.launcher = l
	return b, nil
}

// findPageLocked picks the first page whose title contains the configured
// window title, opening StartURL when none matches.
func (s *Session) findPageLocked(ctx context.Context) (*rod.Page, error) {
	b, err := s.connectLocked()
	if err != nil {
		return nil, err
	}

	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.Contains(info.Title, s.cfg.WindowTitle) {
			return p, nil
		}
	}

	if s.cfg.StartURL == "" {
		return nil, ErrNoPage
	}

	var page *rod.Page
	if s.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, err
	}
	if err := page.Context(ctx).Navigate(s.cfg.StartURL); err != nil {
		_ = page.Close()
		return nil, err
	}
	_ = page.Context(ctx).Timeout(10 * time.Second).WaitLoad()
	if s.bus != nil {
		s.bus.Log("info", "已打开客户端页面", map[string]any{"url": s.cfg.StartURL, "stealth": s.cfg.Stealth})
	}
	return page, nil
}

func (s *Session) pageFor(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		p, err := s.findPageLocked(ctx)
		if err != nil {
			return nil, err
		}
		s.page = p
	}
	return s.page.Context(ctx), nil
}

func (s *Session) EnsureForeground(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.page = nil
	s.mu.Unlock()

	p, err := s.pageFor(ctx)
	if errors.Is(err, ErrNoPage) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := p.Activate(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) MoveTo(ctx context.Context, x, y float64) error {
	p, err := s.pageFor(ctx)
	if err != nil {
		return err
	}
	return p.Mouse.MoveTo(proto.Point{X: x, Y: y})
}

func (s *Session) Click(ctx context.Context) error {
	p, err := s.pageFor(ctx)
	if err != nil {
		return err
	}
	return p.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	k, ok := keyMap[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	p, err := s.pageFor(ctx)
	if err != nil {
		return err
	}
	return p.Keyboard.Type(k)
}

func (s *Session) Capture(ctx context.Context, region model.Region) (image.Image, error) {
	clip, err := clipFor(region)
	if err != nil {
		return nil, err
	}
	p, err := s.pageFor(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip:   clip,
	})
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

func clipFor(region model.Region) (*proto.PageViewport, error) {
	if !region.Valid() || region[2] <= 0 || region[3] <= 0 {
		return nil, model.ErrInvalidRegion
	}
	return &proto.PageViewport{
		X:      region[0],
		Y:      region[1],
		Width:  region[2],
		Height: region[3],
		Scale:  1,
	}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	b := s.browser
	l := s.launcher
	s.browser = nil
	s.launcher = nil
	s.page = nil
	s.mu.Unlock()

	var firstErr error
	// a browser we only attached to belongs to the user; leave it open.
	if b != nil && l != nil {
		firstErr = b.Close()
	}
	if l != nil {
		l.Kill()
	}
	return firstErr
}
