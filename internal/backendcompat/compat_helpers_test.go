// Package backendcompat checks that a detection backend speaks the wire
// contract the dashboard polls. Set BACKEND_BASE_URL to run it against a real
// backend; otherwise it runs against the in-process mock.
package backendcompat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/mockbackend"
)

const defaultRequestTimeout = 5 * time.Second

type compatClient struct {
	baseURL string
	client  *http.Client
	live    bool
}

func newCompatClient(t *testing.T) *compatClient {
	t.Helper()
	client := &http.Client{Timeout: defaultRequestTimeout}

	if baseURL := os.Getenv("BACKEND_BASE_URL"); baseURL != "" {
		if !isReachable(client, baseURL+"/api/stats") {
			t.Skipf("backend not reachable at %s", baseURL)
		}
		return &compatClient{baseURL: baseURL, client: client, live: true}
	}

	srv := httptest.NewServer(mockbackend.New(mockbackend.Config{Seed: 5}).Handler())
	t.Cleanup(srv.Close)
	return &compatClient{baseURL: srv.URL, client: client}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *compatClient) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *compatClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return c.do(t, req)
}

func (c *compatClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(t, req)
}

func (c *compatClient) postMultipart(t *testing.T, path, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(t, req)
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertHazardEvent(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["id"], field+".id")
	requireString(t, payload["type"], field+".type")
	requireString(t, payload["time"], field+".time")
	conf := requireNumber(t, payload["confidence"], field+".confidence")
	if conf < 0 || conf > 1 {
		t.Fatalf("%s.confidence out of range: %v", field, conf)
	}
}

func assertStatsPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	stats := requireMap(t, payload["stats"], "stats")
	for _, key := range []string{"vehicles", "hazards", "pedestrians"} {
		if n := requireNumber(t, stats[key], "stats."+key); n < 0 {
			t.Fatalf("stats.%s negative: %v", key, n)
		}
	}
	requireNumber(t, stats["speed"], "stats.speed")

	logs := requireSlice(t, stats["logs"], "stats.logs")
	for i, raw := range logs {
		assertHazardEvent(t, requireMap(t, raw, fmt.Sprintf("stats.logs[%d]", i)), fmt.Sprintf("stats.logs[%d]", i))
	}
	if payload["model_name"] != nil {
		requireString(t, payload["model_name"], "model_name")
	}
}
