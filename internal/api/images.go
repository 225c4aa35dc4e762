package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/pixedit/internal/bgremove"
	"github.com/dunamismax/pixedit/internal/codec"
	"github.com/dunamismax/pixedit/internal/domain"
	"github.com/dunamismax/pixedit/internal/fallback"
	"github.com/dunamismax/pixedit/internal/render"
)

var errNoImage = errors.New("no image provided")

// upload is the "image" part of a multipart request.
type upload struct {
	data []byte
	mime string
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return upload{}, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return upload{}, errNoImage
		}
		return upload{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return upload{}, errNoImage
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return upload{}, errNoImage
	}
	return upload{data: data, mime: partMIME(header)}, nil
}

// partMIME returns the declared type of the part. Generic binary types are
// dropped so decoding falls back to sniffing.
func partMIME(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	declared := header.Header.Get("Content-Type")
	if strings.HasPrefix(declared, "application/octet-stream") {
		return ""
	}
	return declared
}

// handleRender applies one edit synchronously. The "params" field carries
// the edit as JSON; an absent field renders the source unchanged as JPEG.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var edit domain.Edit
	if raw := strings.TrimSpace(r.FormValue("params")); raw != "" {
		if err := decodeStrict(strings.NewReader(raw), &edit); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := edit.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.editor.Apply(r.Context(), up.data, up.mime, edit)
	if err != nil {
		status := renderErrorStatus(err)
		s.logger.Printf("render failed status=%d bytes=%d err=%v", status, len(up.data), err)
		s.metrics.renderFailures.WithLabelValues(strconv.Itoa(status)).Inc()
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "Image processing failed"
		}
		writeError(w, status, msg)
		return
	}
	s.metrics.renderedBytes.WithLabelValues(string(out.Format)).Observe(float64(len(out.Data)))

	w.Header().Set("Content-Type", out.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename("edited")))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(out.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(out.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func renderErrorStatus(err error) int {
	switch {
	case errors.Is(err, bgremove.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, bgremove.ErrUpstream):
		return http.StatusBadGateway
	case render.IsInputError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRemoveBackground(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.remover.Remove(r.Context(), up.data)
	if err != nil {
		status := renderErrorStatus(err)
		if status == http.StatusBadRequest || status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		s.logger.Printf("remove background failed status=%d err=%v", status, err)
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", codec.FormatPNG.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleProcess is the server-side fallback. Its quality field is the
// integer 0-100 scale, unlike /v1/render.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.fallback == nil {
		writeError(w, http.StatusServiceUnavailable, "processing fallback is not configured")
		return
	}

	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params, err := fallback.ParseParams(r.FormValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.fallback.Transform(r.Context(), up.data, params)
	if err != nil {
		s.logger.Printf("process failed format=%s rotation=%d err=%v", params.Format, params.Rotation, err)
		if errors.Is(err, codec.ErrUnsupportedFormat) || errors.Is(err, fallback.ErrTooLarge) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Image processing failed")
		return
	}

	w.Header().Set("Content-Type", res.Format.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
