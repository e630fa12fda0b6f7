package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/colorize-api/internal/colorize"
)

var (
	ErrInvalidFileType  = errors.New("invalid file type")
	ErrUndecodableImage = errors.New("invalid image")
	ErrImageTooLarge    = errors.New("image too large")
)

// processingError marks a failure of the colorization pipeline itself.
type processingError struct {
	err error
}

func (e *processingError) Error() string { return "image processing failed: " + e.err.Error() }

func (e *processingError) Unwrap() error { return e.err }

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

const successMessage = "Image colorized successfully!"

// Colorizer is the processing pipeline behind POST /colorize.
type Colorizer interface {
	Colorize(ctx context.Context, img image.Image) (image.Image, error)
}

type ColorizeResponse struct {
	Message   string `json:"message"`
	ImageData string `json:"image_data"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

// PageData is rendered into the landing page template.
type PageData struct {
	Title      string
	TileWidth  int
	TileHeight int
}

// Limits bound what a single upload may cost.
type Limits struct {
	// MaxUpload is the largest accepted request body in bytes.
	MaxUpload int64
	// MaxPixels is the largest accepted width*height, checked from the
	// image header before the pixels are decoded. Zero disables the check.
	MaxPixels int64
}

type Handler struct {
	colorizer Colorizer
	templates *template.Template
	page      PageData
	limits    Limits
}

func NewHandler(colorizer Colorizer, templates *template.Template, page PageData, limits Limits) *Handler {
	return &Handler{
		colorizer: colorizer,
		templates: templates,
		page:      page,
		limits:    limits,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, "pages.html", h.page); err != nil {
		slog.Error("render page", "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (h *Handler) Colorize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxUpload)
	if err := r.ParseMultipartForm(h.limits.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes.", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name")
		return
	}
	defer file.Close()

	slog.Info("received file", "filename", header.Filename, "size", header.Size)

	data, err := h.colorize(r.Context(), header.Filename, file)
	if err != nil {
		status, detail := translate(err)
		slog.Error("colorize request failed", "filename", header.Filename, "status", status, "error", err)
		writeError(w, status, detail)
		return
	}

	slog.Info("image colorized", "filename", header.Filename)
	writeJSON(w, http.StatusOK, ColorizeResponse{
		Message:   successMessage,
		ImageData: base64.StdEncoding.EncodeToString(data),
	})
}

// colorize validates and decodes one upload and returns the colorized
// image as PNG bytes.
func (h *Handler) colorize(ctx context.Context, filename string, file io.ReadSeeker) ([]byte, error) {
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, filename)
	}

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodableImage, err)
	}
	if limit := h.limits.MaxPixels; limit > 0 && int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, limit)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodableImage, err)
	}

	slog.Info("image loaded", "filename", filename, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	colorized, err := h.colorizer.Colorize(ctx, img)
	if err != nil {
		return nil, &processingError{err: err}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, colorized); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// translate maps an error to the status code and detail message returned
// to the client.
func translate(err error) (int, string) {
	var perr *processingError
	switch {
	case errors.Is(err, ErrInvalidFileType):
		return http.StatusBadRequest, "Invalid file type. Please upload a .png, .jpg, or .jpeg file."
	case errors.Is(err, ErrUndecodableImage):
		return http.StatusBadRequest, "Uploaded file is not a valid image."
	case errors.Is(err, ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, "Uploaded image is too large: " + strings.TrimPrefix(err.Error(), ErrImageTooLarge.Error()+": ")
	case errors.As(err, &perr):
		return http.StatusInternalServerError, fmt.Sprintf("Error during image processing: %v", perr.err)
	default:
		return http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", err)
	}
}

// headerTracker remembers whether a response has been started.
type headerTracker struct {
	http.ResponseWriter
	written bool
}

func (t *headerTracker) WriteHeader(status int) {
	t.written = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.written = true
	return t.ResponseWriter.Write(b)
}

func (t *headerTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Recover turns a panic in next into a 500 response. If next already
// started its response the panic is only logged.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &headerTracker{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("unexpected error", "panic", v, "path", r.URL.Path, "response_started", tw.written)
				if tw.written {
					return
				}
				writeError(tw, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", v))
			}
		}()
		next.ServeHTTP(tw, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

var _ Colorizer = (*colorize.Processor)(nil)
