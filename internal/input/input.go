// Package input defines how the engine observes and drives the game client.
package input

import (
	"context"
	"image"

	"golang.org/x/time/rate"

	"rush_engine/internal/model"
)

const KeyEscape = "esc"

type Actuator interface {
	MoveTo(ctx context.Context, x, y float64) error
	Click(ctx context.Context) error
	PressKey(ctx context.Context, key string) error
}

// Screen captures a region of the client. A nil image means the capture
// failed.
type Screen interface {
	Capture(ctx context.Context, region model.Region) (image.Image, error)
}

// Window reports whether the client window was found and brought to front.
type Window interface {
	EnsureForeground(ctx context.Context) (bool, error)
}

// Paced limits the rate of actions sent through an Actuator.
type Paced struct {
	next    Actuator
	limiter *rate.Limiter
}

// NewPaced wraps next. A non-positive perSecond disables pacing.
func NewPaced(next Actuator, perSecond float64, burst int) *Paced {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Paced{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (p *Paced) MoveTo(ctx context.Context, x, y float64) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.next.MoveTo(ctx, x, y)
}

func (p *Paced) Click(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.next.Click(ctx)
}

func (p *Paced) PressKey(ctx context.Context, key string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.next.PressKey(ctx, key)
}
