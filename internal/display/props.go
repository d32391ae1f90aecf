package display

import (
	"errors"
	"fmt"

	"github.com/bnema/vidrender/internal/domain/entity"
)

// Key names a plugin property.
type Key string

const (
	KeyWindowSize          Key = "WINDOW_SIZE"           // entity.Rect
	KeyFrameSize           Key = "FRAME_SIZE"            // entity.FrameSize
	KeyVideoFormat         Key = "VIDEO_FORMAT"          // entity.PixelFormat
	KeyVideoPip            Key = "VIDEO_PIP"             // bool
	KeyVideoTunnelID       Key = "VIDEOTUNNEL_ID"        // int
	KeyKeepLastFrame       Key = "KEEP_LAST_FRAME"       // bool
	KeyHideVideo           Key = "HIDE_VIDEO"            // bool
	KeyForceAspectRatio    Key = "FORCE_ASPECT_RATIO"    // bool
	KeySelectDisplayOutput Key = "SELECT_DISPLAY_OUTPUT" // int, 0 primary, 1 extended
	KeyImmediatelyOutput   Key = "IMMEDIATELY_OUTPUT"    // bool
	KeyCropFrameSize       Key = "CROP_FRAME_SIZE"       // entity.Rect
	KeyPixelAspectRatio    Key = "PIXEL_ASPECT_RATIO"    // entity.AspectRatio
	KeyFrameRate           Key = "FRAME_RATE"            // entity.Rational
)

var (
	ErrUnknownKey   = errors.New("display: unknown property")
	ErrInvalidValue = errors.New("display: invalid property value")
)

// Keys lists every property in declaration order.
func Keys() []Key {
	return []Key{
		KeyWindowSize, KeyFrameSize, KeyVideoFormat, KeyVideoPip,
		KeyVideoTunnelID, KeyKeepLastFrame, KeyHideVideo, KeyForceAspectRatio,
		KeySelectDisplayOutput, KeyImmediatelyOutput, KeyCropFrameSize,
		KeyPixelAspectRatio, KeyFrameRate,
	}
}

// SetProp sets a property by key. Boolean properties also accept the
// integers 0 and 1.
func (c *Coordinator) SetProp(key Key, value any) error {
	switch key {
	case KeyWindowSize:
		r, err := as[entity.Rect](key, value)
		if err != nil {
			return err
		}
		return c.SetWindowSize(r)
	case KeyFrameSize:
		s, err := as[entity.FrameSize](key, value)
		if err != nil {
			return err
		}
		c.SetFrameSize(s)
	case KeyVideoFormat:
		f, err := as[entity.PixelFormat](key, value)
		if err != nil {
			return err
		}
		c.SetVideoFormat(f)
	case KeyVideoPip:
		on, err := asBool(key, value)
		if err != nil {
			return err
		}
		c.SetPip(on)
	case KeyVideoTunnelID:
		id, err := as[int](key, value)
		if err != nil {
			return err
		}
		c.SetTunnelID(id)
	case KeyKeepLastFrame:
		on, err := asBool(key, value)
		if err != nil {
			return err
		}
		return c.SetKeepLastFrame(on)
	case KeyHideVideo:
		on, err := asBool(key, value)
		if err != nil {
			return err
		}
		return c.SetHideVideo(on)
	case KeyForceAspectRatio:
		on, err := asBool(key, value)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.set.forceAspect = on
		c.mu.Unlock()
	case KeySelectDisplayOutput:
		out, err := as[int](key, value)
		if err != nil {
			return err
		}
		if out != 0 && out != 1 {
			return fmt.Errorf("%s=%d: %w", key, out, ErrInvalidValue)
		}
		c.mu.Lock()
		c.set.output = out
		c.mu.Unlock()
	case KeyImmediatelyOutput:
		on, err := asBool(key, value)
		if err != nil {
			return err
		}
		return c.SetImmediatelyOutput(on)
	case KeyCropFrameSize:
		r, err := as[entity.Rect](key, value)
		if err != nil {
			return err
		}
		return c.SetCrop(r)
	case KeyPixelAspectRatio:
		par, err := as[entity.AspectRatio](key, value)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.set.par = par
		c.mu.Unlock()
	case KeyFrameRate:
		r, err := as[entity.Rational](key, value)
		if err != nil {
			return err
		}
		return c.SetFrameRate(r)
	default:
		return fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	return nil
}

// Prop returns the current value of a property.
func (c *Coordinator) Prop(key Key) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch key {
	case KeyWindowSize:
		return c.set.window, nil
	case KeyFrameSize:
		return c.set.frameSize, nil
	case KeyVideoFormat:
		return c.set.format, nil
	case KeyVideoPip:
		return c.set.pip, nil
	case KeyVideoTunnelID:
		return c.set.tunnelID, nil
	case KeyKeepLastFrame:
		return c.set.keepLast, nil
	case KeyHideVideo:
		return c.set.hidden, nil
	case KeyForceAspectRatio:
		return c.set.forceAspect, nil
	case KeySelectDisplayOutput:
		return c.set.output, nil
	case KeyImmediatelyOutput:
		return c.set.immediate, nil
	case KeyCropFrameSize:
		return c.set.crop, nil
	case KeyPixelAspectRatio:
		return c.set.par, nil
	case KeyFrameRate:
		return c.set.rate, nil
	}
	return nil, fmt.Errorf("%q: %w", key, ErrUnknownKey)
}

func as[T any](key Key, value any) (T, error) {
	v, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: want %T, got %T: %w", key, zero, value, ErrInvalidValue)
	}
	return v, nil
}

func asBool(key Key, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	}
	return false, fmt.Errorf("%s: want bool or 0/1, got %v: %w", key, value, ErrInvalidValue)
}
