// Package render composes rotation, flip, crop and resampling into a
// single encoded image. Every call owns its working buffers; nothing is
// shared between calls.
package render

import (
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/pixedit/internal/codec"
)

const DefaultQuality = 0.92

// DefaultMaxPixels bounds the output raster when Options.MaxPixels is zero.
const DefaultMaxPixels int64 = 64_000_000

type Options struct {
	Rotation float64
	Flip     Flip
	// Crop is in the coordinate space of the rotated and flipped canvas.
	// Nil selects the whole canvas.
	Crop *Rect
	// Target is the output size. A zero dimension keeps the crop's.
	Target *Size
	Format codec.Format
	// Quality is in (0, 1]; zero selects DefaultQuality.
	Quality float64
	// MaxPixels bounds the output raster. The working canvas may be up to
	// twice as large, the most a rotation can add.
	MaxPixels int64
}

type Output struct {
	Data   []byte
	Format codec.Format
	MIME   string
	Width  int
	Height int
}

// Filename returns base with the extension of the output format.
func (o Output) Filename(base string) string {
	return base + "." + o.Format.Extension()
}

// Render runs the transform pipeline: bounding box, composite, extract,
// resample, encode.
func Render(src image.Image, opts Options) (Output, error) {
	if src == nil || src.Bounds().Empty() {
		return Output{}, ErrInvalidSource
	}

	format, quality, err := resolveEncoding(opts)
	if err != nil {
		return Output{}, err
	}

	sb := src.Bounds()
	cw, ch := CanvasSize(sb.Dx(), sb.Dy(), opts.Rotation)
	crop := Rect{Width: cw, Height: ch}
	if opts.Crop != nil {
		crop = *opts.Crop
	}
	if err := validateCrop(crop, cw, ch); err != nil {
		return Output{}, err
	}
	target, err := resolveTarget(opts.Target, crop.Width, crop.Height)
	if err != nil {
		return Output{}, err
	}

	limit := opts.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	canvasLimit := limit * 2
	if canvasLimit < limit {
		canvasLimit = math.MaxInt64
	}
	if exceedsPixels(cw, ch, canvasLimit) {
		return Output{}, fmt.Errorf("%w: canvas %dx%d", ErrSourceTooLarge, cw, ch)
	}
	outW, outH := crop.Width, crop.Height
	if target != nil {
		outW, outH = target.Width, target.Height
	}
	if exceedsPixels(outW, outH, limit) {
		return Output{}, fmt.Errorf("%w: %dx%d > %d", ErrTargetTooLarge, outW, outH, limit)
	}

	canvas := Composite(src, opts.Rotation, opts.Flip)

	region, err := Extract(canvas, crop)
	if err != nil {
		return Output{}, err
	}

	final, err := Resample(region, target)
	if err != nil {
		return Output{}, err
	}

	data, err := codec.Encode(final, format, codec.QualityFromUnit(quality))
	if err != nil {
		return Output{}, err
	}

	b := final.Bounds()
	return Output{
		Data:   data,
		Format: format,
		MIME:   format.MIME(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

func resolveEncoding(opts Options) (codec.Format, float64, error) {
	format := codec.FormatJPEG
	if opts.Format != "" {
		parsed, err := codec.ParseFormat(string(opts.Format))
		if err != nil {
			return "", 0, err
		}
		format = parsed
	}

	quality := opts.Quality
	switch {
	case quality == 0:
		quality = DefaultQuality
	case math.IsNaN(quality) || quality < 0 || quality > 1:
		return "", 0, fmt.Errorf("%w: got %v", ErrInvalidQuality, opts.Quality)
	}
	return format, quality, nil
}
