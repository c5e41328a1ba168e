// Package cloudinary stores blobs through Cloudinary's unsigned upload API.
//
// Uploads use resource type "raw" so any audio container is stored as is,
// and the public id is the blob key without its extension.
package cloudinary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/lectern/pkg/blob"
)

const (
	defaultBaseURL = "https://api.cloudinary.com"
	defaultFolder  = "bookx/audio"
	defaultTimeout = 60 * time.Second
)

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithFolder overrides the destination folder (default "bookx/audio").
func WithFolder(folder string) Option {
	return func(s *Store) { s.folder = folder }
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(s *Store) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) { s.client = hc }
}

// Store implements blob.Store for Cloudinary.
type Store struct {
	cloudName    string
	uploadPreset string
	folder       string
	baseURL      string
	client       *http.Client
}

// New creates a Cloudinary store. cloudName and uploadPreset are required.
func New(cloudName, uploadPreset string, opts ...Option) (*Store, error) {
	if cloudName == "" {
		return nil, errors.New("cloudinary: cloudName must not be empty")
	}
	if uploadPreset == "" {
		return nil, errors.New("cloudinary: uploadPreset must not be empty")
	}
	s := &Store{
		cloudName:    cloudName,
		uploadPreset: uploadPreset,
		folder:       defaultFolder,
		baseURL:      defaultBaseURL,
		client:       &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Bytes     int64  `json:"bytes"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload implements blob.Store.
func (s *Store) Upload(ctx context.Context, data []byte, key, contentType string) (blob.Object, error) {
	if len(data) == 0 {
		return blob.Object{}, blob.ErrEmptyObject
	}
	if key == "" {
		return blob.Object{}, errors.New("cloudinary: key must not be empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"upload_preset": s.uploadPreset,
		"public_id":     strings.TrimSuffix(key, path.Ext(key)),
	}
	if s.folder != "" {
		fields["folder"] = s.folder
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return blob.Object{}, fmt.Errorf("cloudinary: write field %s: %w", k, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, path.Base(key)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: close multipart: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/upload", s.baseURL, s.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: read response: %w", err)
	}
	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return blob.Object{}, fmt.Errorf("cloudinary: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil {
			msg = out.Error.Message
		}
		return blob.Object{}, fmt.Errorf("cloudinary: upload status %d: %s", resp.StatusCode, msg)
	}
	if out.SecureURL == "" {
		return blob.Object{}, errors.New("cloudinary: response has no secure_url")
	}
	size := out.Bytes
	if size == 0 {
		size = int64(len(data))
	}
	return blob.Object{URL: out.SecureURL, Size: size}, nil
}

// Ping implements blob.Store. The unsigned API has no auth-free health
// endpoint, so Ping only checks that the API host answers.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL, nil)
	if err != nil {
		return fmt.Errorf("cloudinary: build ping: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("cloudinary: ping status %d", resp.StatusCode)
	}
	return nil
}

var _ blob.Store = (*Store)(nil)
