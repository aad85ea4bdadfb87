package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ostisync/internal/domain"
)

// Client is a minimal client for the repository's paginated read API.
type Client struct {
	BaseURL    string
	SiteCode   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, siteCode string) *Client {
	return &Client{
		BaseURL:  baseURL,
		SiteCode: siteCode,
		Timeout:  30 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("source api error: status=%d body=%s", e.StatusCode, e.Body)
}

// FetchPage retrieves one page of records. A page shorter than size is the
// end-of-pagination signal; callers stop without error.
func (c *Client) FetchPage(ctx context.Context, page, size int) ([]domain.SourceRecord, error) {
	endpoint := fmt.Sprintf("records?site_ownership_code=%s&page=%d&rows=%d", c.SiteCode, page, size)
	var records []domain.SourceRecord
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ResolveHandle follows a DOI to the repository landing page and returns
// the trailing handle. Callers cache the result; each miss is a network
// round-trip.
func (c *Client) ResolveHandle(ctx context.Context, doi string) (string, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := doi
	if !strings.HasPrefix(url, "http") {
		url = "https://doi.org/" + doi
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: resp.Request.URL.String()}
	}
	final := resp.Request.URL.String()
	_, handle, ok := strings.Cut(final, "handle/")
	if !ok {
		return "", fmt.Errorf("doi %s resolved to %s, which has no handle", doi, final)
	}
	return handle, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
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
