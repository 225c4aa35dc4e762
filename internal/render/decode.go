package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

var acceptedMIME = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Decode turns raw upload bytes into a raster. GIF sources yield their
// first frame.
func Decode(data []byte, declaredMIME string) (image.Image, error) {
	return DecodeLimit(data, declaredMIME, 0)
}

// DecodeLimit is Decode with a pixel budget; maxPixels <= 0 disables it.
func DecodeLimit(data []byte, declaredMIME string, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrDecode)
	}
	if declaredMIME != "" && !AcceptsMIME(declaredMIME) {
		return nil, fmt.Errorf("%w: unsupported source type %q", ErrDecode, declaredMIME)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSource, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d > %d", ErrSourceTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}

	if format == "jpeg" {
		img = orient(img, readOrientation(data))
	}
	return img, nil
}

// AcceptsMIME reports whether a declared upload type is decodable.
func AcceptsMIME(declared string) bool {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return false
	}
	return acceptedMIME[strings.ToLower(mediaType)]
}

func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// orient applies the EXIF orientation (1-8) so the raster matches what a
// browser displays.
func orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
