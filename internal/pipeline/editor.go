package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/render"
)

// Editor applies one domain.Edit to raw source bytes. It holds no
// per-call state and is safe for concurrent use.
type Editor struct {
	remover         bgremove.Remover
	maxSourcePixels int64
}

type EditorOption func(*Editor)

func WithRemover(r bgremove.Remover) EditorOption {
	return func(e *Editor) {
		e.remover = r
	}
}

func WithMaxSourcePixels(n int64) EditorOption {
	return func(e *Editor) {
		e.maxSourcePixels = n
	}
}

func NewEditor(opts ...EditorOption) *Editor {
	e := &Editor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs background removal when requested, decodes and renders.
// source is never modified.
func (e *Editor) Apply(ctx context.Context, source []byte, declaredMIME string, edit domain.Edit) (render.Output, error) {
	select {
	case <-ctx.Done():
		return render.Output{}, ctx.Err()
	default:
	}

	opts, err := edit.Options()
	if err != nil {
		return render.Output{}, err
	}

	input := source
	if edit.RemoveBackground {
		if e.remover == nil {
			return render.Output{}, bgremove.ErrDisabled
		}
		input, err = e.remover.Remove(ctx, source)
		if err != nil {
			return render.Output{}, fmt.Errorf("remove background: %w", err)
		}
		// The model always answers with PNG.
		declaredMIME = "image/png"
	}

	img, err := render.DecodeLimit(input, declaredMIME, e.maxSourcePixels)
	if err != nil {
		return render.Output{}, err
	}

	opts.MaxPixels = e.maxSourcePixels
	return render.Render(img, opts)
}
