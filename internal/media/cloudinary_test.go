package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/spot-finder/internal/models"
)

func TestUploadSendsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("upload_preset"); got != "spots" {
			t.Errorf("preset = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "spot.jpg" || string(body) != "jpeg-bytes" {
			t.Errorf("file %q = %q", hdr.Filename, body)
		}
		w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/spot.jpg"}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "spots")
	c.BaseURL = srv.URL
	url, err := c.Upload(context.Background(), "../uploads/spot.jpg", strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://res.cloudinary.com/demo/spot.jpg" {
		t.Fatalf("url = %q", url)
	}
}

func TestUploadErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Upload preset not found"}}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "missing")
	c.BaseURL = srv.URL
	_, err := c.Upload(context.Background(), "spot.jpg", strings.NewReader("x"))
	if !errors.Is(err, models.ErrUpstream) || !strings.Contains(err.Error(), "Upload preset not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUploadRejectsOversizedPhoto(t *testing.T) {
	c := NewCloudinary("demo", "spots")
	c.BaseURL = "http://127.0.0.1:0"
	_, err := c.Upload(context.Background(), "big.jpg", strings.NewReader(strings.Repeat("x", maxPhotoBytes+1)))
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
