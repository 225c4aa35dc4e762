// Package fallback is the server-side /process path: resize, rotate and
// format conversion on an image library independent of render.
package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/dunamismax/pixedit/internal/codec"
)

const (
	DefaultQuality = 80
	// DefaultMaxPixels bounds source and output rasters when no limit is
	// configured.
	DefaultMaxPixels int64 = 64_000_000
)

var (
	ErrInvalidParam = errors.New("invalid process parameter")
	ErrDecode       = errors.New("decode source image")
	ErrTooLarge     = errors.New("image exceeds pixel limit")
)

// Params uses the endpoint's own scales: quality is an integer 0-100 and
// rotation whole degrees clockwise.
type Params struct {
	Width    int
	Height   int
	Format   codec.Format
	Quality  int
	Rotation int
}

type Result struct {
	Data   []byte
	Format codec.Format
	Width  int
	Height int
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, p Params) (Result, error)
}

type Option func(*limits)

type limits struct {
	maxPixels int64
}

// WithMaxPixels bounds both the decoded source and the resized output.
// Non-positive values keep DefaultMaxPixels.
func WithMaxPixels(n int64) Option {
	return func(l *limits) {
		if n > 0 {
			l.maxPixels = n
		}
	}
}

// New returns the transformer selected at build time.
func New(opts ...Option) (Transformer, error) {
	l := limits{maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(&l)
	}
	return newTransformer(l)
}

// checkSource reads only the header of input. Headers the standard
// decoders cannot parse are left to the transformer to report.
func (l limits) checkSource(input []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil
	}
	return l.check("source", cfg.Width, cfg.Height)
}

// check expects positive dimensions.
func (l limits) check(what string, w, h int) error {
	if int64(w) > l.maxPixels/int64(h) {
		return fmt.Errorf("%w: %s %dx%d > %d", ErrTooLarge, what, w, h, l.maxPixels)
	}
	return nil
}

// ParseParams reads form fields. Missing fields take the endpoint
// defaults: format=jpeg, quality=80, rotation=0, no resize.
func ParseParams(field func(string) string) (Params, error) {
	p := Params{
		Format:  codec.FormatJPEG,
		Quality: DefaultQuality,
	}

	var err error
	if p.Width, err = optionalInt(field, "width"); err != nil {
		return Params{}, err
	}
	if p.Height, err = optionalInt(field, "height"); err != nil {
		return Params{}, err
	}
	if p.Width < 0 || p.Height < 0 {
		return Params{}, fmt.Errorf("%w: width and height must be positive", ErrInvalidParam)
	}

	if raw := strings.TrimSpace(field("format")); raw != "" {
		if p.Format, err = codec.ParseFormat(raw); err != nil {
			return Params{}, err
		}
	}

	if raw := strings.TrimSpace(field("quality")); raw != "" {
		if p.Quality, err = strconv.Atoi(raw); err != nil {
			return Params{}, fmt.Errorf("%w: quality: %v", ErrInvalidParam, err)
		}
		if p.Quality < 0 || p.Quality > 100 {
			return Params{}, fmt.Errorf("%w: quality must be 0-100", ErrInvalidParam)
		}
		// Encoders bottom out at 1.
		p.Quality = max(1, p.Quality)
	}

	if p.Rotation, err = optionalInt(field, "rotation"); err != nil {
		return Params{}, err
	}

	return p, nil
}

func optionalInt(field func(string) string, name string) (int, error) {
	raw := strings.TrimSpace(field(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParam, name, err)
	}
	return v, nil
}

// fitInside scales srcW x srcH to fit within w x h keeping aspect ratio.
// A zero bound is derived from the other. Enlargement is allowed.
func fitInside(srcW, srcH, w, h int) (int, int) {
	switch {
	case w > 0 && h > 0:
		scale := min(float64(w)/float64(srcW), float64(h)/float64(srcH))
		return scaled(srcW, scale), scaled(srcH, scale)
	case w > 0:
		return w, scaled(srcH, float64(w)/float64(srcW))
	default:
		return scaled(srcW, float64(h)/float64(srcH)), h
	}
}

// scaled rounds to the nearest pixel and saturates at math.MaxInt32.
func scaled(v int, scale float64) int {
	f := float64(v)*scale + 0.5
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return max(1, int(f))
}

func normalizeDegrees(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
