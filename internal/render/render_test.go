package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/dunamismax/pixedit/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient gives every pixel a distinct opaque colour.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / max(1, w-1)),
				G: uint8((y * 255) / max(1, h-1)),
				B: uint8((x*7 + y*13) % 256),
				A: 255,
			})
		}
	}
	return img
}

// quadrants paints the top-left quarter red and the rest blue.
func quadrants(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{B: 255, A: 255}
			if x < w/2 && y < h/2 {
				c = color.RGBA{R: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// halves paints the left half red and the right half blue.
func halves(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{B: 255, A: 255}
			if x < w/2 {
				c = color.RGBA{R: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func decodeOutput(t *testing.T, out Output) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	return img
}

func assertSamePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	wb, gb := want.Bounds(), got.Bounds()
	require.Equal(t, wb.Dx(), gb.Dx(), "width")
	require.Equal(t, wb.Dy(), gb.Dy(), "height")
	for y := 0; y < wb.Dy(); y++ {
		for x := 0; x < wb.Dx(); x++ {
			wr, wg, wbl, wa := want.At(wb.Min.X+x, wb.Min.Y+y).RGBA()
			gr, gg, gbl, ga := got.At(gb.Min.X+x, gb.Min.Y+y).RGBA()
			if wr != gr || wg != gg || wbl != gbl || wa != ga {
				t.Fatalf("pixel (%d,%d) differs: want %v got %v", x, y,
					want.At(wb.Min.X+x, wb.Min.Y+y), got.At(gb.Min.X+x, gb.Min.Y+y))
			}
		}
	}
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 200 && g>>8 < 60 && b>>8 < 60
}

func isBlue(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return b>>8 > 200 && r>>8 < 60 && g>>8 < 60
}

func TestBoundingBoxNoRotation(t *testing.T) {
	w, h := BoundingBox(800, 600, 0)
	assert.Equal(t, 800.0, w)
	assert.Equal(t, 600.0, h)

	cw, ch := CanvasSize(800, 600, 360)
	assert.Equal(t, 800, cw)
	assert.Equal(t, 600, ch)
}

func TestBoundingBoxQuarterTurnsSwap(t *testing.T) {
	for _, rotation := range []float64{90, 270, -90, 450, -270} {
		cw, ch := CanvasSize(800, 600, rotation)
		assert.Equal(t, 600, cw, "rotation %v", rotation)
		assert.Equal(t, 800, ch, "rotation %v", rotation)
	}

	cw, ch := CanvasSize(800, 600, 180)
	assert.Equal(t, 800, cw)
	assert.Equal(t, 600, ch)
}

func TestBoundingBoxArbitraryAngle(t *testing.T) {
	w, h := BoundingBox(100, 100, 45)
	assert.InDelta(t, 100*math.Sqrt2, w, 1e-9)
	assert.InDelta(t, 100*math.Sqrt2, h, 1e-9)

	cw, ch := CanvasSize(100, 100, 45)
	assert.Equal(t, 142, cw)
	assert.Equal(t, 142, ch)

	// 30 degrees: |cos|·W + |sin|·H
	w, h = BoundingBox(200, 100, 30)
	assert.InDelta(t, 200*math.Sqrt(3)/2+50, w, 1e-9)
	assert.InDelta(t, 100+100*math.Sqrt(3)/2, h, 1e-9)
}

func TestNormalizeRotation(t *testing.T) {
	assert.Equal(t, 90.0, NormalizeRotation(450))
	assert.Equal(t, 270.0, NormalizeRotation(-90))
	assert.Equal(t, 0.0, NormalizeRotation(-360))
	assert.Equal(t, 10.5, NormalizeRotation(370.5))
}

func TestCompositeRotate90IsClockwise(t *testing.T) {
	src := gradient(3, 2)
	canvas := Composite(src, 90, Flip{})

	require.Equal(t, image.Rect(0, 0, 2, 3), canvas.Bounds())
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, src.RGBAAt(x, y), canvas.RGBAAt(1-y, x), "source (%d,%d)", x, y)
		}
	}
}

func TestCompositeRotate180(t *testing.T) {
	src := gradient(5, 3)
	canvas := Composite(src, -180, Flip{})

	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			assert.Equal(t, src.RGBAAt(x, y), canvas.RGBAAt(4-x, 2-y))
		}
	}
}

func TestCompositeFlipTwiceIsIdentity(t *testing.T) {
	src := gradient(7, 5)

	for _, flip := range []Flip{{Horizontal: true}, {Vertical: true}, {Horizontal: true, Vertical: true}} {
		once := Composite(src, 0, flip)
		twice := Composite(once, 0, flip)
		assertSamePixels(t, src, twice)
	}

	mirrored := Composite(src, 0, Flip{Horizontal: true})
	assert.Equal(t, src.RGBAAt(0, 0), mirrored.RGBAAt(6, 0))
}

func TestCompositeFlipAndRotationShareCentre(t *testing.T) {
	src := gradient(4, 3)

	// Horizontal flip then a half turn is a vertical flip.
	got := Composite(src, 180, Flip{Horizontal: true})
	want := Composite(src, 0, Flip{Vertical: true})
	assertSamePixels(t, want, got)
}

func TestCompositeHandlesOffsetBounds(t *testing.T) {
	src := gradient(6, 6)
	sub := src.SubImage(image.Rect(2, 2, 5, 4)).(*image.RGBA)

	canvas := Composite(sub, 90, Flip{})
	require.Equal(t, image.Rect(0, 0, 2, 3), canvas.Bounds())
	assert.Equal(t, src.RGBAAt(2, 2), canvas.RGBAAt(1, 0))
}

func TestCompositeArbitraryAngleLeavesCornersTransparent(t *testing.T) {
	src := quadrants(40, 40)
	canvas := Composite(src, 45, Flip{})

	assert.Equal(t, image.Rect(0, 0, 57, 57), canvas.Bounds())
	assert.Equal(t, uint8(0), canvas.RGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), canvas.RGBAAt(28, 28).A)
}

func TestRenderFullCropIsLosslessUnderPNG(t *testing.T) {
	src := gradient(9, 6)
	flip := Flip{Horizontal: true}

	cw, ch := CanvasSize(9, 6, 90)
	out, err := Render(src, Options{
		Rotation: 90,
		Flip:     flip,
		Crop:     &Rect{Width: cw, Height: ch},
		Target:   &Size{Width: cw, Height: ch},
		Format:   codec.FormatPNG,
		Quality:  0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MIME)

	assertSamePixels(t, Composite(src, 90, flip), decodeOutput(t, out))
}

func TestRenderTargetEqualToCropIsNoop(t *testing.T) {
	src := gradient(12, 10)
	crop := &Rect{X: 2, Y: 3, Width: 6, Height: 4}

	plain, err := Render(src, Options{Crop: crop, Format: codec.FormatPNG})
	require.NoError(t, err)
	sized, err := Render(src, Options{Crop: crop, Target: &Size{Width: 6, Height: 4}, Format: codec.FormatPNG})
	require.NoError(t, err)

	assert.Equal(t, 6, sized.Width)
	assert.Equal(t, 4, sized.Height)
	assertSamePixels(t, decodeOutput(t, plain), decodeOutput(t, sized))
	assertSamePixels(t, src.SubImage(image.Rect(2, 3, 8, 7)), decodeOutput(t, sized))
}

func TestRenderNonUniformTarget(t *testing.T) {
	out, err := Render(gradient(20, 20), Options{
		Target: &Size{Width: 40, Height: 10},
		Format: codec.FormatPNG,
	})
	require.NoError(t, err)
	assert.Equal(t, 40, out.Width)
	assert.Equal(t, 10, out.Height)

	img := decodeOutput(t, out)
	assert.Equal(t, image.Rect(0, 0, 40, 10), img.Bounds())
}

func TestRenderRotatedJPEGSourceToPNG(t *testing.T) {
	src, err := Decode(encodeJPEG(t, quadrants(800, 600)), "image/jpeg")
	require.NoError(t, err)

	out, err := Render(src, Options{
		Rotation: 90,
		Crop:     &Rect{X: 0, Y: 0, Width: 600, Height: 800},
		Format:   codec.FormatPNG,
		Quality:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 600, out.Width)
	assert.Equal(t, 800, out.Height)

	img := decodeOutput(t, out)
	require.Equal(t, image.Rect(0, 0, 600, 800), img.Bounds())
	// The source's top-left quarter ends up top-right.
	assert.True(t, isRed(img.At(450, 200)), "top-right %v", img.At(450, 200))
	assert.True(t, isBlue(img.At(150, 200)), "top-left %v", img.At(150, 200))
	assert.True(t, isBlue(img.At(450, 600)), "bottom-right %v", img.At(450, 600))
}

func TestRenderMirroredThumbnailJPEG(t *testing.T) {
	out, err := Render(halves(400, 400), Options{
		Flip:    Flip{Horizontal: true},
		Crop:    &Rect{Width: 400, Height: 400},
		Target:  &Size{Width: 200, Height: 200},
		Format:  codec.FormatJPEG,
		Quality: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.MIME)
	assert.Equal(t, "edited.jpg", out.Filename("edited"))

	img := decodeOutput(t, out)
	require.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())
	assert.True(t, isBlue(img.At(20, 100)), "left %v", img.At(20, 100))
	assert.True(t, isRed(img.At(180, 100)), "right %v", img.At(180, 100))
}

func TestRenderRejectsCropOutsideCanvas(t *testing.T) {
	out, err := Render(gradient(400, 400), Options{
		Crop:   &Rect{X: 350, Y: 0, Width: 100, Height: 400},
		Format: codec.FormatPNG,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCrop))
	assert.True(t, IsInputError(err))
	assert.Nil(t, out.Data)

	var cropErr *CropError
	require.True(t, errors.As(err, &cropErr))
	assert.Equal(t, image.Pt(400, 400), cropErr.Canvas)
}

func TestRenderRejectsDegenerateCrops(t *testing.T) {
	for _, crop := range []Rect{
		{X: 0, Y: 0, Width: 0, Height: 10},
		{X: 0, Y: 0, Width: 10, Height: -1},
		{X: -1, Y: 0, Width: 5, Height: 5},
		{X: 0, Y: 8, Width: 5, Height: 5},
	} {
		_, err := Render(gradient(10, 10), Options{Crop: &crop})
		assert.True(t, errors.Is(err, ErrInvalidCrop), "%+v", crop)
	}
}

func TestRenderCropUsesRotatedSpace(t *testing.T) {
	// A portrait crop only fits a landscape source after a quarter turn.
	crop := &Rect{Width: 60, Height: 80}

	_, err := Render(gradient(80, 60), Options{Crop: crop, Rotation: 90, Format: codec.FormatPNG})
	require.NoError(t, err)

	_, err = Render(gradient(80, 60), Options{Crop: crop, Format: codec.FormatPNG})
	assert.True(t, errors.Is(err, ErrInvalidCrop))
}

func TestRenderValidatesQuality(t *testing.T) {
	src := gradient(4, 4)
	for _, q := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := Render(src, Options{Quality: q})
		assert.True(t, errors.Is(err, ErrInvalidQuality), "quality %v", q)
	}

	out, err := Render(src, Options{})
	require.NoError(t, err)
	assert.Equal(t, codec.FormatJPEG, out.Format)
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	_, err := Render(gradient(4, 4), Options{Format: codec.Format("bmp")})
	assert.True(t, errors.Is(err, codec.ErrUnsupportedFormat))
	assert.True(t, IsInputError(err))
}

func TestRenderRejectsMissingSource(t *testing.T) {
	_, err := Render(nil, Options{})
	assert.True(t, errors.Is(err, ErrInvalidSource))

	_, err = Render(image.NewRGBA(image.Rect(0, 0, 0, 5)), Options{})
	assert.True(t, errors.Is(err, ErrInvalidSource))
}

func TestRenderRejectsNegativeTarget(t *testing.T) {
	_, err := Render(gradient(4, 4), Options{Target: &Size{Width: -1, Height: 4}})
	assert.True(t, errors.Is(err, ErrInvalidTarget))
	assert.True(t, IsInputError(err))
}

func TestRenderZeroTargetDimensionKeepsCrop(t *testing.T) {
	crop := &Rect{Width: 40, Height: 30}

	out, err := Render(gradient(80, 60), Options{Crop: crop, Target: &Size{Width: 20}, Format: codec.FormatPNG})
	require.NoError(t, err)
	assert.Equal(t, 20, out.Width)
	assert.Equal(t, 30, out.Height)

	out, err = Render(gradient(80, 60), Options{Crop: crop, Target: &Size{Height: 15}, Format: codec.FormatPNG})
	require.NoError(t, err)
	assert.Equal(t, 40, out.Width)
	assert.Equal(t, 15, out.Height)
}

func TestRenderRejectsCropWithOverflowingOffset(t *testing.T) {
	for _, crop := range []Rect{
		{X: math.MaxInt, Y: 0, Width: 1, Height: 400},
		{X: 0, Y: math.MaxInt, Width: 400, Height: 1},
		{X: 1, Y: 0, Width: math.MaxInt, Height: 400},
	} {
		out, err := Render(gradient(400, 400), Options{Crop: &crop, Format: codec.FormatPNG})
		assert.True(t, errors.Is(err, ErrInvalidCrop), "%+v: %v", crop, err)
		assert.Nil(t, out.Data)
	}
}

func TestRenderRejectsOversizedTarget(t *testing.T) {
	out, err := Render(gradient(4, 4), Options{
		Target: &Size{Width: 1 << 31, Height: 1 << 31},
		Format: codec.FormatPNG,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetTooLarge))
	assert.False(t, IsInputError(err))
	assert.Nil(t, out.Data)

	_, err = Render(gradient(4, 4), Options{Target: &Size{Width: 11, Height: 10}, MaxPixels: 100})
	assert.True(t, errors.Is(err, ErrTargetTooLarge))

	out, err = Render(gradient(4, 4), Options{Target: &Size{Width: 10, Height: 10}, MaxPixels: 100, Format: codec.FormatPNG})
	require.NoError(t, err)
	assert.Equal(t, 10, out.Width)
}

func TestRenderRejectsOversizedCanvas(t *testing.T) {
	// A 45 degree turn roughly doubles the canvas of a square source.
	_, err := Render(gradient(10, 10), Options{Rotation: 45, Crop: &Rect{Width: 2, Height: 2}, MaxPixels: 50})
	assert.True(t, errors.Is(err, ErrSourceTooLarge))

	_, err = Render(gradient(10, 10), Options{Rotation: 45, Crop: &Rect{Width: 2, Height: 2}, MaxPixels: 120})
	assert.NoError(t, err)
}

func TestRenderConcurrentCallsAreIndependent(t *testing.T) {
	src := gradient(32, 24)
	opts := []Options{
		{Rotation: 90, Format: codec.FormatPNG},
		{Flip: Flip{Vertical: true}, Format: codec.FormatPNG},
		{Rotation: 30, Target: &Size{Width: 10, Height: 10}, Format: codec.FormatPNG},
		{Crop: &Rect{X: 4, Y: 4, Width: 8, Height: 8}, Format: codec.FormatPNG},
	}

	want := make([][]byte, len(opts))
	for i, o := range opts {
		out, err := Render(src, o)
		require.NoError(t, err)
		want[i] = out.Data
	}

	var wg sync.WaitGroup
	got := make([][]byte, len(opts)*8)
	errs := make([]error, len(got))
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := Render(src, opts[i%len(opts)])
			got[i], errs[i] = out.Data, err
		}(i)
	}
	wg.Wait()

	for i := range got {
		require.NoError(t, errs[i])
		assert.Equal(t, want[i%len(opts)], got[i])
	}
}

func BenchmarkRenderRotateCropResize(b *testing.B) {
	src := gradient(1920, 1080)
	opts := Options{
		Rotation: 90,
		Flip:     Flip{Horizontal: true},
		Crop:     &Rect{X: 100, Y: 100, Width: 800, Height: 1200},
		Target:   &Size{Width: 400, Height: 600},
		Format:   codec.FormatJPEG,
		Quality:  0.85,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Render(src, opts); err != nil {
			b.Fatalf("render: %v", err)
		}
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
