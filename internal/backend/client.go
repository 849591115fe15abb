package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	StatsPath    = "/api/stats"
	VideoPath    = "/video_feed"
	UploadPath   = "/upload_image"
	SettingsPath = "/api/toggle_settings"

	// UploadField is the multipart field the backend reads the image from.
	UploadField = "file"
)

// ErrEmptyImage is returned when the backend answers an upload without an image.
var ErrEmptyImage = errors.New("backend returned no image")

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Path, e.Code)
}

// Client talks to the detection backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// NewClient returns a client for the backend at baseURL.
// timeout bounds request/response calls; the video feed has no timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Stats fetches the current stats snapshot.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+StatsPath, nil)
	if err != nil {
		return out, fmt.Errorf("build stats request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(StatsPath, resp); err != nil {
		return out, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode stats: %w", err)
	}
	if out.Stats.Logs == nil {
		out.Stats.Logs = []HazardEvent{}
	}
	return out, nil
}

// UploadImage sends an image for analysis and returns the annotated JPEG as base64.
func (c *Client) UploadImage(ctx context.Context, filename string, image io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(UploadField, filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", fmt.Errorf("copy image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+UploadPath, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(UploadPath, resp); err != nil {
		return "", err
	}

	var payload UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if payload.Image == "" {
		return "", ErrEmptyImage
	}
	if _, err := base64.StdEncoding.DecodeString(payload.Image); err != nil {
		return "", fmt.Errorf("decode upload image: %w", err)
	}
	return payload.Image, nil
}

// ToggleSetting forwards a settings change to the backend.
func (c *Client) ToggleSetting(ctx context.Context, setting string, value bool) error {
	data, err := json.Marshal(SettingRequest{Setting: setting, Value: value})
	if err != nil {
		return fmt.Errorf("marshal setting: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SettingsPath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build setting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("toggle setting: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(SettingsPath, resp)
}

// OpenVideoFeed opens the backend MJPEG stream. The caller must close the body.
func (c *Client) OpenVideoFeed(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+VideoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build video request: %w", err)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open video feed: %w", err)
	}
	if err := checkStatus(VideoPath, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{Path: path, Code: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		statusErr.Message = payload.Error
		if statusErr.Message == "" {
			statusErr.Message = payload.Message
		}
	}
	return statusErr
}
