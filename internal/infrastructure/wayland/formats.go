package wayland

import (
	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/domain/entity"
)

// Formats maps pipeline formats to dma-buf fourccs. Packed RGB formats are
// named in memory byte order on the pipeline side and in little-endian word
// order on the DRM side, hence BGRx ↔ XRGB8888.
var Formats = map[entity.PixelFormat]entity.Fourcc{
	entity.FormatBGRx:  entity.FourccXRGB8888,
	entity.FormatBGRA:  entity.FourccARGB8888,
	entity.FormatRGBx:  entity.FourccXBGR8888,
	entity.FormatxBGR:  entity.FourccRGBX8888,
	entity.FormatxRGB:  entity.FourccBGRX8888,
	entity.FormatRGBA:  entity.FourccABGR8888,
	entity.FormatABGR:  entity.FourccRGBA8888,
	entity.FormatARGB:  entity.FourccBGRA8888,
	entity.FormatRGB:   entity.FourccBGR888,
	entity.FormatBGR:   entity.FourccRGB888,
	entity.FormatRGB16: entity.FourccRGB565,
	entity.FormatBGR16: entity.FourccBGR565,
	entity.FormatYUY2:  entity.FourccYUYV,
	entity.FormatYVYU:  entity.FourccYVYU,
	entity.FormatUYVY:  entity.FourccUYVY,
	entity.FormatAYUV:  entity.FourccAYUV,
	entity.FormatNV12:  entity.FourccNV12,
	entity.FormatNV21:  entity.FourccNV21,
	entity.FormatNV16:  entity.FourccNV16,
	entity.FormatNV61:  entity.FourccNV61,
	entity.FormatYUV9:  entity.FourccYUV410,
	entity.FormatYVU9:  entity.FourccYVU410,
	entity.FormatY41B:  entity.FourccYUV411,
	entity.FormatI420:  entity.FourccYUV420,
	entity.FormatYV12:  entity.FourccYVU420,
	entity.FormatY42B:  entity.FourccYUV422,
	entity.FormatV308:  entity.FourccYUV444,
}

// formatTable narrows Formats to what the compositor advertised. With no
// advertisement every known format is kept.
func formatTable(advertised []entity.Fourcc) backend.FormatTable {
	table := backend.FormatTable{
		Formats:  make(map[entity.PixelFormat]entity.Fourcc, len(Formats)),
		Fallback: entity.FourccXRGB8888,
	}
	ok := make(map[entity.Fourcc]bool, len(advertised))
	for _, f := range advertised {
		ok[f] = true
	}
	for pf, fourcc := range Formats {
		if len(advertised) == 0 || ok[fourcc] {
			table.Formats[pf] = fourcc
		}
	}
	return table
}
