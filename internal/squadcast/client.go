// Package squadcast is a minimal HTTP client for the Squadcast incident
// export API. It handles one status per request; multi-status merging lives
// in the export package.
package squadcast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sqanalyze/internal/export"
)

const (
	// DefaultBaseAPI is the vendor REST API root.
	DefaultBaseAPI = "https://api.squadcast.com/v3"
	// DefaultAuthURL exchanges a refresh token for an access token.
	DefaultAuthURL = "https://auth.squadcast.com/oauth/access-token"

	// bodyPreviewLimit bounds error payloads attached to APIError.
	bodyPreviewLimit = 4000

	defaultTimeout = 120 * time.Second
)

// APIError wraps a non-2xx response with a bounded body preview.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client calls the export API with a bearer token.
type Client struct {
	BaseAPI     string
	AccessToken string
	HTTPClient  *http.Client
	Log         *zerolog.Logger
}

// NewClient creates a client with the default request timeout.
func NewClient(baseAPI, accessToken string) *Client {
	return &Client{
		BaseAPI:     baseAPI,
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
	}
}

// ExportURL builds the export request URL. The query parameter order
// (type, start_time, end_time, owner_id, assigned_to, tags, status) is part
// of the vendor contract and must not change.
func (c *Client) ExportURL(q export.Query) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(c.BaseAPI, "/"))
	b.WriteString("/incidents/export")
	b.WriteString("?type=" + url.QueryEscape(string(q.Format)))
	b.WriteString("&start_time=" + url.QueryEscape(q.Start))
	b.WriteString("&end_time=" + url.QueryEscape(q.End))
	if q.OwnerID != "" {
		b.WriteString("&owner_id=" + url.QueryEscape(q.OwnerID))
	}
	if q.AssignedTo != "" {
		b.WriteString("&assigned_to=" + url.QueryEscape(q.AssignedTo))
	}
	if q.Tags != "" {
		b.WriteString("&tags=" + url.QueryEscape(q.Tags))
	}
	if q.Status != "" {
		b.WriteString("&status=" + url.QueryEscape(q.Status))
	}
	return b.String()
}

// Export performs one single-status export call and returns the raw payload.
func (c *Client) Export(ctx context.Context, q export.Query) ([]byte, error) {
	endpoint := c.ExportURL(q)
	if c.Log != nil {
		c.Log.Debug().Str("url", endpoint).Msg("export request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	if q.Format == export.FormatCSV {
		req.Header.Set("Accept", "text/csv")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: preview(body)}
	}
	return body, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return c.HTTPClient
}

func preview(body []byte) string {
	if len(body) > bodyPreviewLimit {
		body = body[:bodyPreviewLimit]
	}
	return string(body)
}
