package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/pixedit/internal/render"
)

func parseCrop(s string) (*render.Rect, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("crop must be x,y,width,height, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("crop: %w", err)
		}
		v[i] = n
	}
	return &render.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func parseSize(s string) (*render.Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return nil, fmt.Errorf("resize must be WIDTHxHEIGHT, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return nil, fmt.Errorf("resize width: %w", err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return nil, fmt.Errorf("resize height: %w", err)
	}
	return &render.Size{Width: width, Height: height}, nil
}
