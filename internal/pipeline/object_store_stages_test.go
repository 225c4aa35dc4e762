package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/render"
)

type memoryObjects struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func TestObjectStoreProcessor(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["uploads/job-7/source"] = buildTestPNG(t, 64, 48)

	processor, err := NewObjectStoreProcessor(
		ObjectStoreFetcher{Storage: objects},
		ObjectStoreEmitter{Storage: objects},
	)
	if err != nil {
		t.Fatalf("new object-store processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-7",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-7/source",
		Edits: []domain.Edit{
			{ID: "rotated", Rotation: 270, Format: "png"},
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	out := result.Outputs[0]
	if out.Path != "outputs/job-7/rotated.png" {
		t.Fatalf("unexpected object key %s", out.Path)
	}
	if out.Width != 48 || out.Height != 64 {
		t.Fatalf("expected 48x64, got %dx%d", out.Width, out.Height)
	}
	if objects.contentTypes[out.Path] != "image/png" {
		t.Fatalf("expected image/png content type, got %s", objects.contentTypes[out.Path])
	}
}

func TestObjectStoreFetcherRejectsLocalFiles(t *testing.T) {
	_, err := ObjectStoreFetcher{Storage: newMemoryObjects()}.Fetch(context.Background(), Request{
		SourceType: SourceTypeLocalFile,
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
}

func TestObjectStoreEmitterUsesPrefix(t *testing.T) {
	objects := newMemoryObjects()
	out, err := ObjectStoreEmitter{Storage: objects, OutputPrefix: "exports"}.Emit(
		context.Background(),
		Request{JobID: "job/../9"},
		domain.Edit{ID: "my edit"},
		render.Output{Data: []byte{1, 2, 3}, Format: "jpeg", MIME: "image/jpeg", Width: 1, Height: 1},
	)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if out.Path != "exports/job____9/my_edit.jpg" {
		t.Fatalf("unexpected object key %s", out.Path)
	}
}
