package main

import (
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixedit/internal/codec"
	"github.com/dunamismax/pixedit/internal/render"
)

func TestParseCrop(t *testing.T) {
	crop, err := parseCrop("10, 20,300,400")
	if err != nil {
		t.Fatalf("parse crop: %v", err)
	}
	if *crop != (render.Rect{X: 10, Y: 20, Width: 300, Height: 400}) {
		t.Fatalf("unexpected crop %+v", *crop)
	}

	if crop, err := parseCrop(""); err != nil || crop != nil {
		t.Fatalf("expected nil crop for empty flag, got %+v %v", crop, err)
	}
	for _, bad := range []string{"1,2,3", "a,b,c,d"} {
		if _, err := parseCrop(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseSize(t *testing.T) {
	size, err := parseSize("640X480")
	if err != nil {
		t.Fatalf("parse size: %v", err)
	}
	if size.Width != 640 || size.Height != 480 {
		t.Fatalf("unexpected size %+v", *size)
	}
	if _, err := parseSize("640"); err == nil {
		t.Fatal("expected error without separator")
	}
}

func TestDefaultOutputPath(t *testing.T) {
	out := render.Output{Format: codec.FormatJPEG}
	got := defaultOutputPath(filepath.Join("photos", "cat.png"), out)
	if want := filepath.Join("photos", "cat-edited.jpg"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
