// Package store is a thin typed wrapper over the external record store's
// HTTP API. It owns the admin-token auth lifecycle: a token is acquired
// lazily with the configured email/password, attached to every request,
// and refreshed once on HTTP 401. The client is safe for concurrent use.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
)

// filterTimeLayout is the date form the store accepts inside filter
// expressions.
const filterTimeLayout = "2006-01-02 15:04:05.000Z"

// FormatTime renders a wall-clock instant in the store's wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(filterTimeLayout)
}

// Patch is a partial update applied to a job record.
type Patch map[string]any

// Client talks to the record store's jobs collection.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	mu         sync.Mutex
	token      string
	authBroken error // set when re-authentication itself failed
}

// New creates a record store client. No network I/O happens until the
// first operation.
func New(cfg *config.StoreConfig) *Client {
	return &Client{
		baseURL:    cfg.URL,
		email:      cfg.AdminEmail,
		password:   cfg.AdminPassword,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// CreateJob creates a pending record and returns it with the store-assigned id.
func (c *Client) CreateJob(ctx context.Context, jobURL, clientIP string, expiresAt time.Time) (*models.Job, error) {
	body := map[string]any{
		"url":        jobURL,
		"status":     models.StatusPending,
		"progress":   0,
		"client_ip":  clientIP,
		"expires_at": expiresAt.UTC().Format(filterTimeLayout),
	}
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/api/collections/jobs/records", nil, body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one record by id.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/collections/jobs/records/"+url.PathEscape(id), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob applies a partial update and returns the updated record.
func (c *Client) UpdateJob(ctx context.Context, id string, patch Patch) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPatch, "/api/collections/jobs/records/"+url.PathEscape(id), nil, patch, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a record.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/collections/jobs/records/"+url.PathEscape(id), nil, nil, nil)
}

// ListByStatus returns up to limit records in the given status, oldest first.
func (c *Client) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Job, error) {
	params := url.Values{
		"filter":  {fmt.Sprintf("status = %q", status)},
		"sort":    {"created"},
		"perPage": {strconv.Itoa(limit)},
	}
	list, err := c.list(ctx, params)
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// CountByStatus returns the number of records in the given status.
func (c *Client) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	params := url.Values{
		"filter":  {fmt.Sprintf("status = %q", status)},
		"perPage": {"1"},
	}
	list, err := c.list(ctx, params)
	if err != nil {
		return 0, err
	}
	return list.TotalItems, nil
}

// CountRecentByIP counts submissions from one source address since the
// given instant, across all statuses.
func (c *Client) CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	filter := fmt.Sprintf("client_ip = %q && created >= %q", ip, since.UTC().Format(filterTimeLayout))
	params := url.Values{
		"filter":  {filter},
		"perPage": {"1"},
	}
	list, err := c.list(ctx, params)
	if err != nil {
		return 0, err
	}
	return list.TotalItems, nil
}

// ListExpired returns records whose expiry instant has passed.
func (c *Client) ListExpired(ctx context.Context, now time.Time) ([]*models.Job, error) {
	filter := fmt.Sprintf("expires_at != \"\" && expires_at < %q", now.UTC().Format(filterTimeLayout))
	params := url.Values{
		"filter":  {filter},
		"sort":    {"created"},
		"perPage": {"200"},
	}
	list, err := c.list(ctx, params)
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// listResponse is the store's paginated list envelope.
type listResponse struct {
	Page       int           `json:"page"`
	PerPage    int           `json:"perPage"`
	TotalItems int           `json:"totalItems"`
	Items      []*models.Job `json:"items"`
}

func (c *Client) list(ctx context.Context, params url.Values) (*listResponse, error) {
	var list listResponse
	if err := c.do(ctx, http.MethodGet, "/api/collections/jobs/records", params, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// do performs one authenticated request, refreshing the admin token once
// on 401 and decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	token, err := c.currentToken(ctx)
	if err != nil {
		return err
	}

	status, data, err := c.roundTrip(ctx, method, path, params, body, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		token, err = c.refreshToken(ctx)
		if err != nil {
			return err
		}
		status, data, err = c.roundTrip(ctx, method, path, params, body, token)
		if err != nil {
			return err
		}
	}

	if err := checkStatus(status, data); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode record store response: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, body any, token string) (int, []byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return resp.StatusCode, data, nil
}

// currentToken returns the cached admin token, authenticating on first use.
// Once re-authentication has failed, every call is rejected with the stored
// failure until the process restarts.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authBroken != nil {
		return "", c.authBroken
	}
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// refreshToken re-authenticates after a 401. A failure here poisons the
// client: subsequent calls fail fast with a descriptive error.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, err := c.authenticate(ctx)
	if err != nil {
		c.authBroken = fmt.Errorf("%w: re-authentication failed: %v", ErrAuthFailure, err)
		return "", c.authBroken
	}
	c.token = token
	return token, nil
}

// authenticate performs the email/password handshake. Caller holds c.mu.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"identity": c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admins/auth-with-password", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: auth returned HTTP %d", ErrAuthFailure, resp.StatusCode)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("%w: decode auth response: %v", ErrAuthFailure, err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("%w: auth response carried no token", ErrAuthFailure)
	}
	return auth.Token, nil
}

// checkStatus maps HTTP status codes onto the typed error set.
func checkStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailure, status)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, truncateBody(body))
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrServerError, status, truncateBody(body))
	default:
		return fmt.Errorf("record store returned HTTP %d: %s", status, truncateBody(body))
	}
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
