//go:build cgo

package codec

import (
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
)

const webpEnabled = true

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	if err := webp.Encode(w, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return fmt.Errorf("%w: webp: %v", ErrEncode, err)
	}
	return nil
}
