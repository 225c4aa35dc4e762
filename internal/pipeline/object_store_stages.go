package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/render"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, edit domain.Edit, out render.Output) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(edit.ID) == "" {
		return Output{}, errors.New("edit id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		out.Filename(sanitizePathToken(edit.ID)),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, out.Data, out.MIME); err != nil {
		return Output{}, err
	}

	return describe(edit, out, objectKey), nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
