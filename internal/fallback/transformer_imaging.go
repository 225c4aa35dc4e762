package fallback

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixedit/internal/codec"
	_ "golang.org/x/image/webp"
)

type imagingTransformer struct {
	limits limits
}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, p Params) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if err := t.limits.checkSource(input); err != nil {
		return Result{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(input))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if p.Rotation != 0 {
		img = rotateClockwise(img, p.Rotation)
	}

	if p.Width > 0 || p.Height > 0 {
		b := img.Bounds()
		w, h := fitInside(b.Dx(), b.Dy(), p.Width, p.Height)
		if err := t.limits.check("output", w, h); err != nil {
			return Result{}, err
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	data, err := codec.Encode(img, p.Format, p.Quality)
	if err != nil {
		return Result{}, err
	}

	b := img.Bounds()
	return Result{Data: data, Format: p.Format, Width: b.Dx(), Height: b.Dy()}, nil
}

// rotateClockwise turns img by deg degrees clockwise. Off-axis angles
// grow the canvas and fill the corners with black.
func rotateClockwise(img image.Image, deg int) image.Image {
	switch normalizeDegrees(deg) {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Rotate(img, -float64(deg), color.Black)
	}
}
