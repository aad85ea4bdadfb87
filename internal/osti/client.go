package osti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ostisync/internal/config"
	"ostisync/internal/domain"
)

// Client is a minimal OSTI E-Link API client. Credentials are a
// username/password pair for the chosen registry target; the caller picks
// the pair that matches the run mode.
type Client struct {
	BaseURL     string
	Credentials config.Credentials
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string, creds config.Credentials) *Client {
	return &Client{
		BaseURL:     baseURL,
		Credentials: creds,
		Timeout:     30 * time.Second,
	}
}

// Response is the registry's per-record reply to a write or query.
type Response struct {
	OstiID        string `json:"osti_id"`
	AccessionNum  string `json:"accession_num,omitempty"`
	DOI           string `json:"doi,omitempty"`
	DOIStatus     string `json:"doi_status,omitempty"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
}

// Succeeded reports whether the registry accepted the record.
func (r Response) Succeeded() bool {
	return strings.EqualFold(r.Status, "SUCCESS")
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unauthorized reports a credential failure, which is fatal to a whole run
// rather than to a single record.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// QueryByDOI returns registry records already registered under a DOI.
// An empty slice means the DOI is unknown to the registry.
func (c *Client) QueryByDOI(ctx context.Context, doi string) ([]Response, error) {
	var out struct {
		Records []Response `json:"records"`
	}
	endpoint := "records?doi=" + url.QueryEscape(doi)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Create submits a new record and returns the registry's reply.
func (c *Client) Create(ctx context.Context, rec domain.RegistryRecord) (Response, error) {
	var out Response
	err := c.do(ctx, http.MethodPost, "records", rec, &out)
	return out, err
}

// Update resubmits a record under its existing registry id.
func (c *Client) Update(ctx context.Context, ostiID string, rec domain.RegistryRecord) (Response, error) {
	var out Response
	endpoint := "records/" + url.PathEscape(ostiID)
	err := c.do(ctx, http.MethodPut, endpoint, rec, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.Credentials.Username, c.Credentials.Password)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
