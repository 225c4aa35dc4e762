package render

import (
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/pixedit/internal/codec"
)

var (
	ErrInvalidSource  = errors.New("invalid source image")
	ErrInvalidCrop    = errors.New("invalid crop rectangle")
	ErrInvalidTarget  = errors.New("invalid target size")
	ErrInvalidQuality = errors.New("quality must be in (0, 1]")
	ErrDecode         = errors.New("decode source image")
	ErrSourceTooLarge = errors.New("source image exceeds pixel limit")
	ErrTargetTooLarge = errors.New("output image exceeds pixel limit")
)

// CropError reports a crop that does not fit the rotated canvas.
type CropError struct {
	Crop   Rect
	Canvas image.Point
}

func (e *CropError) Error() string {
	return fmt.Sprintf(
		"%s: x=%d y=%d width=%d height=%d canvas=%dx%d",
		ErrInvalidCrop, e.Crop.X, e.Crop.Y, e.Crop.Width, e.Crop.Height, e.Canvas.X, e.Canvas.Y,
	)
}

func (e *CropError) Is(target error) bool {
	return target == ErrInvalidCrop
}

// IsInputError reports whether err was caused by the request itself.
// Retrying the same input cannot succeed.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrInvalidSource,
		ErrInvalidCrop,
		ErrInvalidTarget,
		ErrInvalidQuality,
		ErrDecode,
		codec.ErrUnsupportedFormat,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
