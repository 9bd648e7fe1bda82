// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/middleware"
	"github.com/tomtom215/havensync/internal/models"
)

// APIKeyHeader carries the shared secret on every companion request.
const APIKeyHeader = middleware.APIKeyHeader

// maxErrorBodySize caps how much of an error response is kept.
const maxErrorBodySize = 1024

// RemoteConfig configures a RemoteAdapter.
type RemoteConfig struct {
	// BaseURL is the companion API root, e.g. https://haven.example/api.
	BaseURL string
	APIKey  string

	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration

	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64
	Burst     int

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// RemoteAdapter writes through the companion HTTP API.
type RemoteAdapter struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
}

// writeResponse is the companion's 201 body.
type writeResponse struct {
	Success     bool   `json:"success"`
	DiscoveryID int64  `json:"discovery_id"`
	SystemID    *int64 `json:"system_id"`
	PlanetID    *int64 `json:"planet_id"`
	MoonID      *int64 `json:"moon_id"`
	Error       string `json:"error,omitempty"`
}

// NewRemoteAdapter builds an adapter for the companion at cfg.BaseURL.
func NewRemoteAdapter(cfg RemoteConfig) (*RemoteAdapter, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote target URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &RemoteAdapter{
		baseURL: base,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  client,
		limiter: limiter,
	}, nil
}

// Name implements Adapter.
func (r *RemoteAdapter) Name() string {
	return "remote"
}

// Write implements Adapter by POSTing to /discoveries.
func (r *RemoteAdapter) Write(ctx context.Context, d *models.TargetDiscovery) (*WriteResult, error) {
	if d == nil {
		return nil, rejected("discovery is nil")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, rejected("encode discovery: %v", err)
	}

	resp, err := r.do(ctx, http.MethodPost, "/discoveries", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, statusError("write discovery", resp)
	}

	var wr writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, unreachable("decode write response: %v", err)
	}
	if !wr.Success || wr.DiscoveryID == 0 {
		return nil, rejected("companion reported failure: %s", wr.Error)
	}

	logging.Info().
		Int64("discovery_id", wr.DiscoveryID).
		Str("type", d.DiscoveryType).
		Msg("Discovery written via companion API")
	return &WriteResult{
		DiscoveryID: wr.DiscoveryID,
		SystemID:    wr.SystemID,
		PlanetID:    wr.PlanetID,
		MoonID:      wr.MoonID,
	}, nil
}

// Systems fetches every system from the companion.
func (r *RemoteAdapter) Systems(ctx context.Context) (map[string]*System, error) {
	var out struct {
		Systems map[string]*System `json:"systems"`
	}
	if err := r.getJSON(ctx, "/systems", &out); err != nil {
		return nil, err
	}
	if out.Systems == nil {
		out.Systems = map[string]*System{}
	}
	return out.Systems, nil
}

// System fetches one system by name, or ErrSystemNotFound.
func (r *RemoteAdapter) System(ctx context.Context, name string) (*System, error) {
	var out struct {
		System *System `json:"system"`
	}
	err := r.getJSON(ctx, "/systems/"+url.PathEscape(name), &out)
	if err != nil {
		return nil, err
	}
	if out.System == nil {
		return nil, ErrSystemNotFound
	}
	return out.System, nil
}

// Ping calls the companion's unauthenticated /health endpoint, which lives
// at the server root rather than under the API prefix.
func (r *RemoteAdapter) Ping(ctx context.Context) error {
	healthURL := r.baseURL
	if u, err := url.Parse(r.baseURL); err == nil {
		u.Path = "/health"
		healthURL = u.String()
	}

	resp, err := r.doURL(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("ping", resp)
	}
	return nil
}

func (r *RemoteAdapter) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/systems/") {
		return ErrSystemNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return statusError("GET "+path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return unreachable("decode %s response: %v", path, err)
	}
	return nil
}

func (r *RemoteAdapter) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return r.doURL(ctx, method, r.baseURL+path, body)
}

// doURL sends one request, paced by the limiter and bounded by the adapter
// timeout. Transport failures are ErrUnreachable.
func (r *RemoteAdapter) doURL(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, unreachable("rate limiter: %v", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		cancel()
		return nil, rejected("build request: %v", err)
	}
	req.Header.Set(APIKeyHeader, r.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, unreachable("%s %s timed out after %s", method, target, r.timeout)
		}
		return nil, unreachable("%s %s: %v", method, target, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// statusError classifies a non-success response. Only statuses that judge
// the payload (400, 413, 422) are rejections. Auth failures, missing routes
// and server errors are deployment or availability problems and are retried.
func statusError(op string, resp *http.Response) error {
	msg := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return rejected("%s: status %d: %s", op, resp.StatusCode, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return unreachable("%s: status %d: unauthorized (check API key)", op, resp.StatusCode)
	case http.StatusNotFound:
		return unreachable("%s: status 404: companion route not found (check target.remote.url)", op)
	default:
		return unreachable("%s: status %d: %s", op, resp.StatusCode, msg)
	}
}

// readErrorMessage extracts {error} from a JSON body, falling back to the
// raw text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
