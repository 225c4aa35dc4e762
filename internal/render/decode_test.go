package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePNG(t *testing.T) {
	img, err := Decode(encodePNG(t, gradient(12, 7)), "image/png")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 7), img.Bounds())
}

func TestDecodeGIFUsesFirstFrame(t *testing.T) {
	first := image.NewPaletted(image.Rect(0, 0, 4, 3), palette.Plan9)
	second := image.NewPaletted(image.Rect(0, 0, 4, 3), palette.Plan9)
	for i := range second.Pix {
		second.Pix[i] = 1
	}

	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{
		Image: []*image.Paletted{first, second},
		Delay: []int{10, 10},
	}))

	img, err := Decode(buf.Bytes(), "image/gif")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	assert.Equal(t, palette.Plan9[0], img.At(0, 0))
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode(nil, "")
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = Decode([]byte("not an image"), "image/png")
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, IsInputError(err))

	_, err = Decode(encodePNG(t, gradient(2, 2)), "image/tiff")
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDecodeLimitRejectsLargeSources(t *testing.T) {
	data := encodePNG(t, gradient(20, 20))

	_, err := DecodeLimit(data, "", 399)
	assert.True(t, errors.Is(err, ErrSourceTooLarge))
	assert.False(t, IsInputError(err))

	_, err = DecodeLimit(data, "", 400)
	assert.NoError(t, err)
}

func TestAcceptsMIME(t *testing.T) {
	assert.True(t, AcceptsMIME("image/jpeg"))
	assert.True(t, AcceptsMIME("IMAGE/PNG"))
	assert.True(t, AcceptsMIME("image/webp; charset=binary"))
	assert.False(t, AcceptsMIME("image/svg+xml"))
	assert.False(t, AcceptsMIME("text/plain"))
}

func TestOrientMatchesExifSemantics(t *testing.T) {
	src := gradient(3, 2)

	assert.Same(t, image.Image(src), orient(src, 1))

	// 6: stored rotated, displayed after a clockwise quarter turn.
	o6 := orient(src, 6)
	require.Equal(t, image.Rect(0, 0, 2, 3), o6.Bounds())
	assert.Equal(t, color.NRGBAModel.Convert(src.At(0, 0)), o6.At(1, 0))

	// 8: counter-clockwise quarter turn.
	o8 := orient(src, 8)
	assert.Equal(t, color.NRGBAModel.Convert(src.At(0, 0)), o8.At(0, 2))

	o3 := orient(src, 3)
	assert.Equal(t, color.NRGBAModel.Convert(src.At(0, 0)), o3.At(2, 1))

	o2 := orient(src, 2)
	assert.Equal(t, color.NRGBAModel.Convert(src.At(0, 0)), o2.At(2, 0))
}
