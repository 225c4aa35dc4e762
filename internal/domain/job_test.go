package domain

import (
	"errors"
	"testing"

	"github.com/dunamismax/pixedit/internal/codec"
	"github.com/dunamismax/pixedit/internal/render"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Edits: []Edit{
			{
				ID:       "square",
				Rotation: 90,
				Crop:     &render.Rect{Width: 100, Height: 100},
				Format:   "png",
			},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		Edits:      []Edit{{ID: "square"}},
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateJobRequest{
		SourceType: "http_url",
		Edits:      []Edit{{ID: "square"}},
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}

	duplicated := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Edits:      []Edit{{ID: "a"}, {ID: "a"}},
	}
	if err := duplicated.Validate(); err == nil {
		t.Fatal("expected validation error for duplicated edit ids")
	}
}

func TestEditValidate(t *testing.T) {
	cases := []struct {
		name string
		edit Edit
		want error
	}{
		{"format", Edit{ID: "e", Format: "tiff"}, codec.ErrUnsupportedFormat},
		{"quality", Edit{ID: "e", Quality: 1.5}, render.ErrInvalidQuality},
		{"crop", Edit{ID: "e", Crop: &render.Rect{Width: 0, Height: 5}}, render.ErrInvalidCrop},
		{"resize", Edit{ID: "e", Resize: &render.Size{Width: 10, Height: -1}}, render.ErrInvalidTarget},
	}
	for _, tc := range cases {
		if err := tc.edit.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	widthOnly := Edit{ID: "e", Resize: &render.Size{Width: 10}}
	if err := widthOnly.Validate(); err != nil {
		t.Fatalf("expected width-only resize to be accepted, got %v", err)
	}
}

func TestEditOptions(t *testing.T) {
	edit := Edit{
		ID:       "thumb",
		Rotation: -90,
		Flip:     render.Flip{Horizontal: true},
		Resize:   &render.Size{Width: 20, Height: 10},
		Format:   "jpg",
		Quality:  0.7,
	}

	opts, err := edit.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Format != codec.FormatJPEG {
		t.Fatalf("expected jpeg, got %s", opts.Format)
	}
	if opts.Target == nil || opts.Target.Width != 20 {
		t.Fatalf("expected target width 20, got %+v", opts.Target)
	}
	if !opts.Flip.Horizontal || opts.Rotation != -90 || opts.Quality != 0.7 {
		t.Fatalf("unexpected options %+v", opts)
	}
}
