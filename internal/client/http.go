package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
)

// HTTPClient implements ConfigClient using the ctxconf HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

// Compile-time check that HTTPClient implements ConfigClient.
var _ ConfigClient = (*HTTPClient)(nil)

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets an Authorization: Bearer header on every request.
func WithToken(token string) ClientOption {
	return func(c *HTTPClient) { c.token = token }
}

// WithActor sends an X-Actor header so the server records who made a change.
func WithActor(actor string) ClientOption {
	return func(c *HTTPClient) { c.actor = actor }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Resolution ---

func (c *HTTPClient) Resolve(ctx context.Context, req model.Requester) (*model.Resolved, error) {
	q := url.Values{}
	if req.RoleID != "" {
		q.Set("role_id", req.RoleID)
	}
	if req.OrgID != "" {
		q.Set("org_id", req.OrgID)
	}
	path := "/v1/effective/" + url.PathEscape(req.UserID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resolved model.Resolved
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resolved); err != nil {
		return nil, err
	}
	return &resolved, nil
}

func (c *HTTPClient) SavePreferences(ctx context.Context, req model.Requester, prefs model.Preferences) (*model.Record, error) {
	body := struct {
		RoleID string `json:"role_id,omitempty"`
		OrgID  string `json:"org_id,omitempty"`
		model.Preferences
	}{req.RoleID, req.OrgID, prefs}

	var rec model.Record
	if err := c.doJSON(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(req.UserID)+"/preferences", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- Overrides ---

func (c *HTTPClient) CreateOverride(ctx context.Context, req *CreateOverrideRequest) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodPost, "/v1/overrides", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) GetOverride(ctx context.Context, id string) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodGet, "/v1/overrides/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) GetActive(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	path := "/v1/contexts/global"
	if !d.IsGlobal() {
		path = "/v1/contexts/" + url.PathEscape(string(d.Kind)) + "/" + url.PathEscape(d.Identifier)
	}
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) UpdateOverride(ctx context.Context, id string, req *UpdateOverrideRequest) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/overrides/"+url.PathEscape(id), req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) Activate(ctx context.Context, id, actor string) (*model.Record, error) {
	return c.toggle(ctx, id, "activate", actor)
}

func (c *HTTPClient) Deactivate(ctx context.Context, id, actor string) (*model.Record, error) {
	return c.toggle(ctx, id, "deactivate", actor)
}

func (c *HTTPClient) toggle(ctx context.Context, id, action, actor string) (*model.Record, error) {
	body := map[string]string{}
	if actor != "" {
		body["actor"] = actor
	}
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodPost, "/v1/overrides/"+url.PathEscape(id)+"/"+action, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) DeleteOverride(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/overrides/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ListOverrides(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	var resp struct {
		Records []*model.Record `json:"records"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/overrides?kind="+url.QueryEscape(string(kind)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *HTTPClient) SearchOverrides(ctx context.Context, f model.RecordFilter) (*overrides.Page, error) {
	q := url.Values{}
	if f.Kind != "" {
		q.Set("kind", string(f.Kind))
	}
	if f.Identifier != "" {
		q.Set("identifier", f.Identifier)
	}
	if f.CreatedBy != "" {
		q.Set("created_by", f.CreatedBy)
	}
	if f.ActiveOnly {
		q.Set("active_only", "true")
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Size > 0 {
		q.Set("size", strconv.Itoa(f.Size))
	}

	path := "/v1/overrides/search"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page overrides.Page
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) Bulk(ctx context.Context, req *BulkRequest) (*BulkResponse, error) {
	var resp BulkResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/overrides/bulk", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Operations ---

func (c *HTTPClient) Stats(ctx context.Context) (*overrides.Stats, error) {
	var stats overrides.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) FlushCache(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/cache/flush", nil, nil)
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

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// decodeAPIError builds an APIError from an error response body.
func decodeAPIError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Code: errResp.Code, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
