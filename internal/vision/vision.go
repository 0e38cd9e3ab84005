// Package vision defines the text recognition port used to read names,
// prices and purchase messages off screen captures.
package vision

import (
	"context"
	"image"
	"image/draw"
	"strings"
	"unicode"
)

// Lang selects the recognition model.
type Lang string

const (
	// LangNative reads item names and purchase messages.
	LangNative Lang = "ch"
	// LangNumeric reads prices.
	LangNumeric Lang = "en"
)

type Text struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine is a recognizer with an explicit lifecycle. Init must be called
// before Recognize; Close releases model resources and may be followed by
// another Init.
type Engine interface {
	Init(ctx context.Context) error
	Recognize(ctx context.Context, img image.Image, lang Lang) ([]Text, error)
	Close() error
}

// FirstText returns the first recognized text, or "" when there is none.
func FirstText(res []Text) string {
	if len(res) == 0 {
		return ""
	}
	return res[0].Text
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripSpace removes every whitespace rune from s.
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Grayscale converts img to 8-bit gray, which is what the OCR models are
// tuned for.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
