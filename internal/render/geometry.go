package render

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// snapEpsilon absorbs float residue from sin/cos before rounding up.
const snapEpsilon = 1e-6

type Flip struct {
	Horizontal bool `json:"horizontal"`
	Vertical   bool `json:"vertical"`
}

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NormalizeRotation reduces degrees into [0, 360).
func NormalizeRotation(degrees float64) float64 {
	r := math.Mod(degrees, 360)
	if r < 0 {
		r += 360
	}
	return r
}

func isRightAngle(degrees float64) bool {
	return math.Mod(NormalizeRotation(degrees), 90) == 0
}

// sincos is exact for multiples of 90 degrees.
func sincos(degrees float64) (sin, cos float64) {
	r := NormalizeRotation(degrees)
	switch r {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(r * math.Pi / 180)
}

// BoundingBox returns the axis-aligned box enclosing a w x h rectangle
// rotated by rotation degrees.
func BoundingBox(w, h int, rotation float64) (float64, float64) {
	sin, cos := sincos(rotation)
	sin, cos = math.Abs(sin), math.Abs(cos)
	fw, fh := float64(w), float64(h)
	return cos*fw + sin*fh, sin*fw + cos*fh
}

// CanvasSize is the pixel size of the working canvas for a rotated source.
func CanvasSize(w, h int, rotation float64) (int, int) {
	bw, bh := BoundingBox(w, h, rotation)
	return ceilSnap(bw), ceilSnap(bh)
}

func ceilSnap(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return int(r)
	}
	return int(math.Ceil(v))
}

// Composite draws src onto a fresh canvas sized to its rotated bounding
// box. Rotation and flip are one matrix about the image centre:
//
//	T(cw/2, ch/2) · R(θ) · S(±1, ±1) · T(-w/2, -h/2)
//
// Positive angles turn clockwise. Pixels outside the rotated source stay
// transparent.
func Composite(src image.Image, rotation float64, flip Flip) *image.RGBA {
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	cw, ch := CanvasSize(w, h, rotation)
	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))

	m := compositeMatrix(sb, cw, ch, rotation, flip)

	// Right angles send pixel centres onto pixel centres, so sampling the
	// nearest source pixel is an exact copy.
	var interp draw.Transformer = draw.CatmullRom
	if isRightAngle(rotation) {
		interp = draw.NearestNeighbor
	}
	interp.Transform(canvas, m, src, sb, draw.Src, nil)
	return canvas
}

func compositeMatrix(sb image.Rectangle, cw, ch int, rotation float64, flip Flip) f64.Aff3 {
	sin, cos := sincos(rotation)
	sx, sy := 1.0, 1.0
	if flip.Horizontal {
		sx = -1
	}
	if flip.Vertical {
		sy = -1
	}

	a, b := cos*sx, -sin*sy
	d, e := sin*sx, cos*sy

	cx := float64(sb.Min.X) + float64(sb.Dx())/2
	cy := float64(sb.Min.Y) + float64(sb.Dy())/2

	return f64.Aff3{
		a, b, float64(cw)/2 - (a*cx + b*cy),
		d, e, float64(ch)/2 - (d*cx + e*cy),
	}
}

// Extract copies crop out of canvas. The crop must lie inside the canvas;
// it is never clamped.
func Extract(canvas *image.RGBA, crop Rect) (*image.RGBA, error) {
	if err := validateCrop(crop, canvas.Bounds().Dx(), canvas.Bounds().Dy()); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, crop.Width, crop.Height))
	origin := canvas.Bounds().Min.Add(image.Pt(crop.X, crop.Y))
	draw.Draw(dst, dst.Bounds(), canvas, origin, draw.Src)
	return dst, nil
}

func validateCrop(crop Rect, cw, ch int) error {
	// Compared by subtraction so huge offsets cannot wrap around.
	if crop.Width <= 0 || crop.Height <= 0 ||
		crop.X < 0 || crop.Y < 0 ||
		crop.Width > cw || crop.Height > ch ||
		crop.X > cw-crop.Width || crop.Y > ch-crop.Height {
		return &CropError{Crop: crop, Canvas: image.Pt(cw, ch)}
	}
	return nil
}

// Resample scales img to target with independent horizontal and vertical
// factors. A nil target or one equal to the current size returns img. A
// zero dimension keeps the current one.
func Resample(img *image.RGBA, target *Size) (*image.RGBA, error) {
	b := img.Bounds()
	size, err := resolveTarget(target, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	if size == nil {
		return img, nil
	}
	if size.Width == b.Dx() && size.Height == b.Dy() {
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

// resolveTarget fills zero dimensions from the crop size. Negative
// dimensions are rejected.
func resolveTarget(target *Size, w, h int) (*Size, error) {
	if target == nil {
		return nil, nil
	}
	if target.Width < 0 || target.Height < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTarget, target.Width, target.Height)
	}
	size := *target
	if size.Width == 0 {
		size.Width = w
	}
	if size.Height == 0 {
		size.Height = h
	}
	return &size, nil
}

// exceedsPixels reports whether w x h is above limit without
// multiplying in int.
func exceedsPixels(w, h int, limit int64) bool {
	return int64(w) > limit/int64(h)
}
