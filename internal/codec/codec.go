package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

const DefaultQuality = 80

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrEncode            = errors.New("encode image")
)

// ParseFormat accepts bare names ("jpg", "png") and MIME types ("image/webp").
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "image/")
	switch name {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWEBP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) MIME() string {
	return "image/" + string(f)
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// Lossless reports whether the encoder ignores quality.
func (f Format) Lossless() bool {
	return f == FormatPNG
}

// QualityFromUnit maps a (0,1] quality to the 1-100 encoder scale.
func QualityFromUnit(q float64) int {
	return clampQuality(int(math.Round(q * 100)))
}

// Encode writes img in format. quality is on the 1-100 scale; values
// outside it fall back to DefaultQuality. PNG accepts and ignores it.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	case FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	case FormatWEBP:
		if err := encodeWebP(&buf, img, quality); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}

	return buf.Bytes(), nil
}

// SupportsWebP reports whether this build can encode WEBP.
func SupportsWebP() bool {
	return webpEnabled
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
