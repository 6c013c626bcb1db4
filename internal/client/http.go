package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/presence"
)

// HTTPClient implements Client using the gpuctl HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Records ---

func (c *HTTPClient) Create(ctx context.Context, kind model.Kind, doc map[string]any) (model.Record, error) {
	plural, err := pluralOf(kind)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/v1/"+plural, doc, &raw); err != nil {
		return nil, err
	}
	return model.Decode(kind, raw)
}

func (c *HTTPClient) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	plural, err := pluralOf(kind)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/"+plural+"/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return model.Decode(kind, raw)
}

func (c *HTTPClient) List(ctx context.Context, kind model.Kind, opts ListOptions) (*ListResult, error) {
	plural, err := pluralOf(kind)
	if err != nil {
		return nil, err
	}
	q := fieldValues(opts.Fields, opts.Search, opts.Filter)
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(opts.PerPage))
	}

	path := "/v1/" + plural
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Items      []json.RawMessage `json:"items"`
		Pagination model.Pagination  `json:"pagination"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	result := &ListResult{
		Items:      make([]model.Record, 0, len(resp.Items)),
		Pagination: resp.Pagination,
	}
	for _, raw := range resp.Items {
		rec, err := model.Decode(kind, raw)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, rec)
	}
	return result, nil
}

// Update sends patch as a partial document; only the keys it carries change.
func (c *HTTPClient) Update(ctx context.Context, kind model.Kind, id string, patch map[string]any) (model.Record, error) {
	plural, err := pluralOf(kind)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/"+plural+"/"+url.PathEscape(id), patch, &raw); err != nil {
		return nil, err
	}
	return model.Decode(kind, raw)
}

func (c *HTTPClient) Delete(ctx context.Context, kind model.Kind, id string) error {
	plural, err := pluralOf(kind)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/"+plural+"/"+url.PathEscape(id), nil, nil)
}

// --- Workers ---

func (c *HTTPClient) Heartbeat(ctx context.Context, workerID string, req HeartbeatRequest) (*model.Worker, error) {
	var w model.Worker
	path := "/v1/workers/" + url.PathEscape(workerID) + "/heartbeat"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *HTTPClient) Presence(ctx context.Context) ([]presence.Entry, error) {
	var resp struct {
		Workers []presence.Entry `json:"workers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/presence", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// --- Introspection ---

func (c *HTTPClient) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) Watches(ctx context.Context) ([]WatchInfo, error) {
	var resp struct {
		Watches []WatchInfo `json:"watches"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/watches", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Watches, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Export copies the server's JSONL snapshot to w.
func (c *HTTPClient) Export(ctx context.Context, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/export", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading export: %w", err)
	}
	return nil
}

// --- Watch ---

// Watch opens a streaming listing and calls fn for every frame until the
// server closes the stream, ctx is cancelled, or fn returns an error.
func (c *HTTPClient) Watch(ctx context.Context, kind model.Kind, opts WatchOptions, fn func(WatchEvent) error) error {
	plural, err := pluralOf(kind)
	if err != nil {
		return err
	}
	q := fieldValues(opts.Fields, opts.Search, opts.Filter)
	q.Set("watch", "true")
	if opts.Heartbeat > 0 {
		q.Set("heartbeat", strconv.FormatFloat(opts.Heartbeat.Seconds(), 'f', -1, 64))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/"+plural+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	fr := NewFrameReader(kind, resp.Body)
	for {
		ev, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, ErrStopWatch) {
				return nil
			}
			return err
		}
	}
}

func fieldValues(fields map[string]string, search, filter string) url.Values {
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	if search != "" {
		q.Set("search", search)
	}
	if filter != "" {
		q.Set("filter", filter)
	}
	return q
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func apiError(status int, body []byte) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
