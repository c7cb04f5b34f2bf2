// Package flowclient calls the external workflow engine that executes
// flows for a job. The engine's flow semantics are opaque here; responses
// are returned as decoded JSON objects.
package flowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultRequestTimeout = 120 * time.Second
	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes int64 = 8 << 20
)

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 512

// Config configures a Client.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// MaxResponseBytes bounds a response body; zero means
	// DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// RunRequest asks the engine to run a flow for a job.
type RunRequest struct {
	JobID          string
	Flow           string
	Actor          string
	RulesetVersion string
	Params         json.RawMessage
}

type runBody struct {
	Actor          string          `json:"actor"`
	RulesetVersion string          `json:"ruleset_version"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// Client is an HTTP client for the workflow engine.
type Client struct {
	baseURL  string
	http     *http.Client
	maxBytes int64
}

// New creates a Client. Zero timeouts take the package defaults.
func New(cfg Config) *Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	request := cfg.RequestTimeout
	if request <= 0 {
		request = DefaultRequestTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Transport: transport, Timeout: request},
		maxBytes: maxBytes,
	}
}

// RunFlow posts to <base>/jobs/<job_id>/run/<flow>.
func (c *Client) RunFlow(ctx context.Context, req RunRequest) (map[string]any, error) {
	body, err := json.Marshal(runBody{
		Actor:          req.Actor,
		RulesetVersion: req.RulesetVersion,
		Params:         req.Params,
	})
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/jobs/" + url.PathEscape(req.JobID) + "/run/" + url.PathEscape(req.Flow)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

// Health calls <base>/health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%s %s: response larger than %d bytes", req.Method, req.URL.Path, c.maxBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, snippet)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty response from flow engine")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
