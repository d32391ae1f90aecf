package entity

// PixelFormat is the pipeline-side video format of a RenderBuffer.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatEncoded
	FormatI420
	FormatYV12
	FormatYUY2
	FormatUYVY
	FormatAYUV
	FormatRGBx
	FormatBGRx
	FormatxRGB
	FormatxBGR
	FormatRGBA
	FormatBGRA
	FormatARGB
	FormatABGR
	FormatRGB
	FormatBGR
	FormatY41B
	FormatY42B
	FormatYVYU
	FormatNV12
	FormatNV21
	FormatNV16
	FormatNV61
	FormatYUV9
	FormatYVU9
	FormatRGB16
	FormatBGR16
	FormatV308
)

var formatNames = map[PixelFormat]string{
	FormatUnknown: "unknown",
	FormatEncoded: "encoded",
	FormatI420:    "I420",
	FormatYV12:    "YV12",
	FormatYUY2:    "YUY2",
	FormatUYVY:    "UYVY",
	FormatAYUV:    "AYUV",
	FormatRGBx:    "RGBx",
	FormatBGRx:    "BGRx",
	FormatxRGB:    "xRGB",
	FormatxBGR:    "xBGR",
	FormatRGBA:    "RGBA",
	FormatBGRA:    "BGRA",
	FormatARGB:    "ARGB",
	FormatABGR:    "ABGR",
	FormatRGB:     "RGB",
	FormatBGR:     "BGR",
	FormatY41B:    "Y41B",
	FormatY42B:    "Y42B",
	FormatYVYU:    "YVYU",
	FormatNV12:    "NV12",
	FormatNV21:    "NV21",
	FormatNV16:    "NV16",
	FormatNV61:    "NV61",
	FormatYUV9:    "YUV9",
	FormatYVU9:    "YVU9",
	FormatRGB16:   "RGB16",
	FormatBGR16:   "BGR16",
	FormatV308:    "v308",
}

func (f PixelFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// ParsePixelFormat maps a name such as "NV12" back to its format.
func ParsePixelFormat(name string) (PixelFormat, bool) {
	for f, s := range formatNames {
		if s == name {
			return f, true
		}
	}
	return FormatUnknown, false
}

// Fourcc is a DRM/V4L2 four character code.
type Fourcc uint32

// MakeFourcc packs four characters little-endian, as drm_fourcc.h does.
func MakeFourcc(a, b, c, d byte) Fourcc {
	return Fourcc(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (f Fourcc) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// DRM fourcc codes used by the back ends.
var (
	FourccXRGB8888 = MakeFourcc('X', 'R', '2', '4')
	FourccXBGR8888 = MakeFourcc('X', 'B', '2', '4')
	FourccRGBX8888 = MakeFourcc('R', 'X', '2', '4')
	FourccBGRX8888 = MakeFourcc('B', 'X', '2', '4')
	FourccARGB8888 = MakeFourcc('A', 'R', '2', '4')
	FourccABGR8888 = MakeFourcc('A', 'B', '2', '4')
	FourccRGBA8888 = MakeFourcc('R', 'A', '2', '4')
	FourccBGRA8888 = MakeFourcc('B', 'A', '2', '4')
	FourccRGB888   = MakeFourcc('R', 'G', '2', '4')
	FourccBGR888   = MakeFourcc('B', 'G', '2', '4')
	FourccRGB565   = MakeFourcc('R', 'G', '1', '6')
	FourccBGR565   = MakeFourcc('B', 'G', '1', '6')
	FourccYUYV     = MakeFourcc('Y', 'U', 'Y', 'V')
	FourccYVYU     = MakeFourcc('Y', 'V', 'Y', 'U')
	FourccUYVY     = MakeFourcc('U', 'Y', 'V', 'Y')
	FourccAYUV     = MakeFourcc('A', 'Y', 'U', 'V')
	FourccNV12     = MakeFourcc('N', 'V', '1', '2')
	FourccNV21     = MakeFourcc('N', 'V', '2', '1')
	FourccNV16     = MakeFourcc('N', 'V', '1', '6')
	FourccNV61     = MakeFourcc('N', 'V', '6', '1')
	FourccYUV410   = MakeFourcc('Y', 'U', 'V', '9')
	FourccYVU410   = MakeFourcc('Y', 'V', 'U', '9')
	FourccYUV411   = MakeFourcc('Y', 'U', '1', '1')
	FourccYUV420   = MakeFourcc('Y', 'U', '1', '2')
	FourccYVU420   = MakeFourcc('Y', 'V', '1', '2')
	FourccYUV422   = MakeFourcc('Y', 'U', '1', '6')
	FourccYUV444   = MakeFourcc('Y', 'U', '2', '4')
)
