// Package bgremove talks to the external background-removal model. The
// model is a black box: image bytes in, PNG with a transparent background
// out.
package bgremove

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 64 << 20

var (
	ErrDisabled = errors.New("background removal is not configured")
	ErrUpstream = errors.New("background removal failed")
)

type Remover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type HTTPRemover struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// New returns a remover that reports ErrDisabled when no endpoint is set.
func New(cfg Config) Remover {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return disabledRemover{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HTTPRemover{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
	}
}

// Remove posts data to the model and returns its PNG. data is never
// modified; on failure the caller keeps its previous image.
func (r *HTTPRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUpstream)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build background removal request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(data))
	req.Header.Set("Accept", "image/png")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: model returned status=%d", ErrUpstream, resp.StatusCode)
	}

	if _, format, err := image.DecodeConfig(bytes.NewReader(body)); err != nil || format != "png" {
		return nil, fmt.Errorf("%w: model did not return a png image", ErrUpstream)
	}

	return body, nil
}

type disabledRemover struct{}

func (disabledRemover) Remove(context.Context, []byte) ([]byte, error) {
	return nil, ErrDisabled
}
