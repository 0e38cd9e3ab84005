package model

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidRegion = errors.New("invalid region")

// Region is a screen rectangle stored as [x, y, width, height].
type Region []float64

func (r Region) Valid() bool {
	return len(r) == 4
}

func (r Region) Center() (float64, float64, error) {
	if !r.Valid() {
		return 0, 0, ErrInvalidRegion
	}
	return r[0] + r[2]/2, r[1] + r[3]/2, nil
}

type Target struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind,omitempty"`
	ExpectedPrice    float64   `json:"expectedPrice"`
	TolerancePercent float64   `json:"tolerancePercent"`
	Enabled          bool      `json:"enabled"`
	BuyGoal          int       `json:"buyGoal"`
	AlreadyBought    int       `json:"alreadyBought"`
	Region           Region    `json:"region"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// PriceCeiling is the highest price accepted for this target.
func (t Target) PriceCeiling() float64 {
	return t.ExpectedPrice * (1 + t.TolerancePercent)
}

func (t Target) Active() bool {
	return t.Enabled && t.AlreadyBought < t.BuyGoal
}

func (t Target) Exhausted() bool {
	return t.AlreadyBought >= t.BuyGoal
}

// CompactName is the name with all whitespace removed, used when matching
// recognized text against the catalog.
func CompactName(s string) string {
	return strings.Join(strings.Fields(s), "")
}
