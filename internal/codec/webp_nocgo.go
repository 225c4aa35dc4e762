//go:build !cgo

package codec

import (
	"fmt"
	"image"
	"io"
)

const webpEnabled = false

func encodeWebP(_ io.Writer, _ image.Image, _ int) error {
	return fmt.Errorf("%w: webp export requires cgo", ErrUnsupportedFormat)
}
