// Package entity defines the value types shared by the render pipeline and its back ends.
package entity

import "fmt"

// Rect is a destination or crop rectangle in display coordinates.
type Rect struct {
	X, Y int
	W, H int
}

// Valid reports whether the rectangle has a usable size.
// A zero-sized rectangle means "no override".
func (r Rect) Valid() bool {
	return r.W > 0 && r.H > 0
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d %dx%d", r.X, r.Y, r.W, r.H)
}

// FrameSize is the decoded frame size in pixels.
type FrameSize struct {
	Width, Height int
}

// AspectRatio is a pixel aspect ratio expressed as a fraction.
type AspectRatio struct {
	Num, Denom int
}

// Rational is a frame rate expressed as a fraction.
type Rational struct {
	Num, Denom int
}

// FPS returns the rate as a float, or zero for an unset rate.
func (r Rational) FPS() float64 {
	if r.Num <= 0 || r.Denom <= 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Denom)
}
