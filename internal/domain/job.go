package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dunamismax/pixedit/internal/codec"
	"github.com/dunamismax/pixedit/internal/render"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string `json:"source_type"`
	WebhookURL string `json:"webhook_url,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	Edits      []Edit `json:"edits"`
}

// Edit is one output of a job: the editor state at export time.
// Quality uses the client's 0-1 scale.
type Edit struct {
	ID               string       `json:"id"`
	Rotation         float64      `json:"rotation,omitempty"`
	Flip             render.Flip  `json:"flip"`
	Crop             *render.Rect `json:"crop,omitempty"`
	Resize           *render.Size `json:"resize,omitempty"`
	Format           string       `json:"format,omitempty"`
	Quality          float64      `json:"quality,omitempty"`
	RemoveBackground bool         `json:"remove_background,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Edits      []Edit
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Edits) == 0 {
		return errors.New("edits must contain at least one edit")
	}

	seen := make(map[string]bool, len(r.Edits))
	for i, edit := range r.Edits {
		if strings.TrimSpace(edit.ID) == "" {
			return fmt.Errorf("edits[%d].id is required", i)
		}
		if seen[edit.ID] {
			return fmt.Errorf("edits[%d].id %q is duplicated", i, edit.ID)
		}
		seen[edit.ID] = true
		if err := edit.Validate(); err != nil {
			return fmt.Errorf("edits[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks what can be checked without the source image. Crop
// bounds depend on the rotated source and are enforced by render.
func (e Edit) Validate() error {
	if strings.TrimSpace(e.Format) != "" {
		if _, err := codec.ParseFormat(e.Format); err != nil {
			return err
		}
	}
	if math.IsNaN(e.Quality) || e.Quality < 0 || e.Quality > 1 {
		return fmt.Errorf("%w: got %v", render.ErrInvalidQuality, e.Quality)
	}
	if math.IsNaN(e.Rotation) || math.IsInf(e.Rotation, 0) {
		return errors.New("rotation must be a finite number of degrees")
	}
	if e.Crop != nil && (e.Crop.Width <= 0 || e.Crop.Height <= 0 || e.Crop.X < 0 || e.Crop.Y < 0) {
		return fmt.Errorf("%w: x=%d y=%d width=%d height=%d", render.ErrInvalidCrop, e.Crop.X, e.Crop.Y, e.Crop.Width, e.Crop.Height)
	}
	// A zero resize dimension keeps the crop's.
	if e.Resize != nil && (e.Resize.Width < 0 || e.Resize.Height < 0) {
		return fmt.Errorf("%w: %dx%d", render.ErrInvalidTarget, e.Resize.Width, e.Resize.Height)
	}
	return nil
}

// Options converts the edit into render options.
func (e Edit) Options() (render.Options, error) {
	opts := render.Options{
		Rotation: e.Rotation,
		Flip:     e.Flip,
		Crop:     e.Crop,
		Target:   e.Resize,
		Quality:  e.Quality,
	}
	if strings.TrimSpace(e.Format) != "" {
		format, err := codec.ParseFormat(e.Format)
		if err != nil {
			return render.Options{}, err
		}
		opts.Format = format
	}
	return opts, nil
}
