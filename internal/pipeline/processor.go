package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/render"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Edits      []domain.Edit
}

type Output struct {
	EditID  string `json:"edit_id"`
	Format  string `json:"format"`
	MIME    string `json:"mime"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
	// DownloadURL is a presigned link, set for object store outputs when
	// the worker can sign one.
	DownloadURL string `json:"download_url,omitempty"`
}

type Result struct {
	SourceBytes int
	Outputs     []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, edit domain.Edit, out render.Output) (Output, error)
}

type Processor struct {
	fetcher Fetcher
	editor  *Editor
	emitter Emitter
}

func NewLocalProcessor(outputDir string, opts ...EditorOption) (*Processor, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}

	return &Processor{
		fetcher: LocalFileFetcher{},
		editor:  NewEditor(opts...),
		emitter: LocalFileEmitter{OutputDir: outputDir},
	}, nil
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, opts ...EditorOption) (*Processor, error) {
	if fetcher.Storage == nil || emitter.Storage == nil {
		return nil, errors.New("storage client is required")
	}

	return &Processor{
		fetcher: fetcher,
		editor:  NewEditor(opts...),
		emitter: emitter,
	}, nil
}

// Process renders every edit of the job from the same source bytes.
// The first failing edit stops the job; outputs already emitted stay.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Edits) == 0 {
		return Result{}, errors.New("job must contain at least one edit")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out := Result{
		SourceBytes: len(sourceBytes),
		Outputs:     make([]Output, 0, len(req.Edits)),
	}
	for _, edit := range req.Edits {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		rendered, err := p.editor.Apply(ctx, sourceBytes, "", edit)
		if err != nil {
			return Result{}, fmt.Errorf("render stage edit=%s: %w", edit.ID, err)
		}

		written, err := p.emitter.Emit(ctx, req, edit, rendered)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage edit=%s: %w", edit.ID, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, edit domain.Edit, out render.Output) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(edit.ID) == "" {
		return Output{}, errors.New("edit id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, out.Filename(sanitizePathToken(edit.ID)))
	if err := os.WriteFile(fullPath, out.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return describe(edit, out, fullPath), nil
}

func describe(edit domain.Edit, out render.Output, path string) Output {
	return Output{
		EditID:  edit.ID,
		Format:  string(out.Format),
		MIME:    out.MIME,
		Path:    path,
		Bytes:   len(out.Data),
		Width:   out.Width,
		Height:  out.Height,
		Success: true,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
