package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/render"
	"github.com/hibiken/asynq"
)

func TestRenderImageTaskCarriesEdits(t *testing.T) {
	payload := RenderImagePayload{
		JobID:      "job-123",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job-123/source",
		Edits: []domain.Edit{
			{
				ID:       "square",
				Rotation: 90,
				Flip:     render.Flip{Vertical: true},
				Crop:     &render.Rect{X: 4, Y: 8, Width: 100, Height: 100},
				Quality:  0.9,
			},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewRenderImageTask(payload)
	if err != nil {
		t.Fatalf("NewRenderImageTask returned error: %v", err)
	}
	if task.Type() != TypeRenderImage {
		t.Fatalf("expected task type %s, got %s", TypeRenderImage, task.Type())
	}

	parsed, err := ParseRenderImagePayload(task)
	if err != nil {
		t.Fatalf("ParseRenderImagePayload returned error: %v", err)
	}

	edit := parsed.Edits[0]
	if edit.Crop == nil || edit.Crop.Y != 8 || !edit.Flip.Vertical || edit.Rotation != 90 {
		t.Fatalf("edit did not survive the queue: %+v", edit)
	}
}

func TestParseRenderImagePayloadRejectsEmptyJobs(t *testing.T) {
	if _, err := ParseRenderImagePayload(asynq.NewTask(TypeRenderImage, []byte(`{"job_id":"j"}`))); err == nil {
		t.Fatal("expected error for payload without edits")
	}
	if _, err := ParseRenderImagePayload(asynq.NewTask(TypeRenderImage, []byte(`{`))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
