package backend

import "github.com/bnema/vidrender/internal/domain/entity"

// FormatTable maps pipeline pixel formats to back end fourccs with a
// documented fallback for anything it does not list.
type FormatTable struct {
	Formats  map[entity.PixelFormat]entity.Fourcc
	Fallback entity.Fourcc
}

// Lookup returns the fourcc for f. ok is false when the fallback was used.
func (t FormatTable) Lookup(f entity.PixelFormat) (fourcc entity.Fourcc, ok bool) {
	if v, found := t.Formats[f]; found {
		return v, true
	}
	return t.Fallback, false
}

// Reverse finds the pixel format for a fourcc.
func (t FormatTable) Reverse(fourcc entity.Fourcc) (entity.PixelFormat, bool) {
	for f, v := range t.Formats {
		if v == fourcc {
			return f, true
		}
	}
	return entity.FormatUnknown, false
}
