// Package media uploads spot photos to object storage.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/example/spot-finder/internal/models"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// maxPhotoBytes caps what a single report may upload.
const maxPhotoBytes = 10 << 20

// Cloudinary stores photos through the unsigned upload API.
type Cloudinary struct {
	BaseURL string
	Cloud   string
	Preset  string
	// Folder groups uploads in the media library.
	Folder string
	Client *http.Client
}

func NewCloudinary(cloud, preset string) *Cloudinary {
	return &Cloudinary{
		BaseURL: defaultBaseURL,
		Cloud:   cloud,
		Preset:  preset,
		Folder:  "parking_spots",
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Upload sends body as a multipart form and returns the durable https URL.
func (c *Cloudinary) Upload(ctx context.Context, filename string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(body, maxPhotoBytes+1))
	if err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}
	if n > maxPhotoBytes {
		return "", &models.ValidationError{Field: "photo", Reason: "larger than 10MB"}
	}
	if err := writer.WriteField("upload_preset", c.Preset); err != nil {
		return "", fmt.Errorf("write preset field: %w", err)
	}
	if c.Folder != "" {
		if err := writer.WriteField("folder", c.Folder); err != nil {
			return "", fmt.Errorf("write folder field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/%s/image/upload", c.BaseURL, c.Cloud)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", models.Upstream("upload photo", err)
	}
	defer resp.Body.Close()

	var out struct {
		SecureURL string `json:"secure_url"`
		Error     *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", models.Upstream("upload photo", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode >= 300 || out.SecureURL == "" {
		msg := "no url returned"
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", models.Upstream("upload photo", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	return out.SecureURL, nil
}
