// Command pixedit applies one edit to a local image and saves the result.
//
// Usage:
//
//	pixedit -in photo.jpg -rotation 90 -crop 0,0,800,600 -format png
//	pixedit -in photo.jpg -flip-h -resize 640x480 -quality 0.8 -out thumb.jpg
//
// Without -out the result is written next to the input as
// <name>-edited.<ext>.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/config"
	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/pipeline"
	"github.com/dunamismax/pixedit/internal/render"
)

var (
	inputFile  = flag.String("in", "", "Input image (required)")
	outputFile = flag.String("out", "", "Output file (default: <input>-edited.<ext>)")
	rotation   = flag.Float64("rotation", 0, "Clockwise rotation in degrees")
	flipH      = flag.Bool("flip-h", false, "Mirror horizontally")
	flipV      = flag.Bool("flip-v", false, "Mirror vertically")
	cropRect   = flag.String("crop", "", "Crop x,y,width,height in rotated canvas pixels")
	resize     = flag.String("resize", "", "Target size WIDTHxHEIGHT")
	format     = flag.String("format", "jpeg", "Output format: jpeg, png or webp")
	quality    = flag.Float64("quality", render.DefaultQuality, "Output quality in (0,1]; ignored by png")
	removeBG   = flag.Bool("remove-bg", false, "Remove the background first (needs BGREMOVE_URL)")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "[pixedit] ", log.LstdFlags|log.Lmsgprefix)

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -in flag is required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	edit, err := buildEdit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	source, err := os.ReadFile(*inputFile)
	if err != nil {
		logger.Fatalf("read input: %v", err)
	}

	cfg := config.Load()
	editor := pipeline.NewEditor(
		pipeline.WithRemover(bgremove.New(bgremove.Config{
			Endpoint: cfg.BackgroundRemoval.Endpoint,
			APIKey:   cfg.BackgroundRemoval.APIKey,
			Timeout:  cfg.BackgroundRemoval.Timeout,
		})),
		pipeline.WithMaxSourcePixels(int64(cfg.Render.MaxSourcePixels)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := editor.Apply(ctx, source, "", edit)
	if err != nil {
		logger.Fatalf("render failed: %v", err)
	}

	dest := *outputFile
	if dest == "" {
		dest = defaultOutputPath(*inputFile, out)
	}
	if err := os.WriteFile(dest, out.Data, 0o644); err != nil {
		logger.Fatalf("write output: %v", err)
	}
	if out.Format.Lossless() && *quality != render.DefaultQuality {
		logger.Printf("quality is ignored for %s output", out.Format)
	}
	logger.Printf("wrote %s format=%s size=%dx%d bytes=%d", dest, out.Format, out.Width, out.Height, len(out.Data))
}

func buildEdit() (domain.Edit, error) {
	edit := domain.Edit{
		ID:               "cli",
		Rotation:         *rotation,
		Flip:             render.Flip{Horizontal: *flipH, Vertical: *flipV},
		Format:           *format,
		Quality:          *quality,
		RemoveBackground: *removeBG,
	}

	var err error
	if edit.Crop, err = parseCrop(*cropRect); err != nil {
		return domain.Edit{}, err
	}
	if edit.Resize, err = parseSize(*resize); err != nil {
		return domain.Edit{}, err
	}
	return edit, edit.Validate()
}

// defaultOutputPath places the result beside the input.
func defaultOutputPath(input string, out render.Output) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), out.Filename(base+"-edited"))
}
