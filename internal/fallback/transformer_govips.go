//go:build govips && cgo

package fallback

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixedit/internal/codec"
)

type govipsTransformer struct {
	limits limits
}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, p Params) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if err := t.limits.checkSource(input); err != nil {
		return Result{}, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()

	if err := applyGovipsRotation(img, p.Rotation); err != nil {
		return Result{}, err
	}

	if p.Width > 0 || p.Height > 0 {
		w, h := fitInside(img.Width(), img.Height(), p.Width, p.Height)
		if err := t.limits.check("output", w, h); err != nil {
			return Result{}, err
		}
		if err := img.Resize(float64(w)/float64(img.Width()), vips.KernelLanczos3); err != nil {
			return Result{}, fmt.Errorf("resize image: %w", err)
		}
	}

	data, err := exportGovipsImage(img, p.Format, p.Quality)
	if err != nil {
		return Result{}, err
	}

	return Result{Data: data, Format: p.Format, Width: img.Width(), Height: img.Height()}, nil
}

func applyGovipsRotation(img *vips.ImageRef, deg int) error {
	var angle vips.Angle
	switch normalizeDegrees(deg) {
	case 0:
		return nil
	case 90:
		angle = vips.Angle90
	case 180:
		angle = vips.Angle180
	case 270:
		angle = vips.Angle270
	default:
		black := &vips.ColorRGBA{R: 0, G: 0, B: 0, A: 255}
		if err := img.Similarity(1, float64(normalizeDegrees(deg)), black, 0, 0, 0, 0); err != nil {
			return fmt.Errorf("rotate image: %w", err)
		}
		return nil
	}

	if err := img.Rotate(angle); err != nil {
		return fmt.Errorf("rotate image: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format codec.Format, quality int) ([]byte, error) {
	switch format {
	case codec.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", codec.ErrEncode, err)
		}
		return data, nil
	case codec.FormatPNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("%w: png: %v", codec.ErrEncode, err)
		}
		return data, nil
	case codec.FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", codec.ErrEncode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", codec.ErrUnsupportedFormat, string(format))
	}
}
