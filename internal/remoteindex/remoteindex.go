// Package remoteindex fetches per-formula metadata from the upstream
// formula API and exchanges a bearer token for authenticated bottle
// downloads from GHCR.
package remoteindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pacmgr/pac/internal/httputil"
	"github.com/pacmgr/pac/internal/log"
	"github.com/pacmgr/pac/internal/pacerr"
)

const (
	maxFetchAttempts = 5
	baseBackoff      = 500 * time.Millisecond
)

// BottleFile is one platform entry in a formula's bottle stanza.
type BottleFile struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
	Cellar string `json:"cellar"`
}

// PackageMetadata is the formula document returned by the index.
type PackageMetadata struct {
	Name          string                `json:"name"`
	FullName      string                `json:"full_name"`
	Tap           string                `json:"tap"`
	StableVersion string                `json:"stable_version"`
	Revision      int                   `json:"revision"`
	BottleRebuild int                   `json:"bottle_rebuild"`
	Files         map[string]BottleFile `json:"files"`
	Dependencies  []string              `json:"dependencies"`
	ConflictsWith []string              `json:"conflicts_with"`
}

// Client talks to the formula index and to GHCR's token endpoint.
type Client struct {
	httpClient *http.Client
	apiRoot    string
	ghcrRoot   string
}

// New builds a Client pointed at apiRoot (e.g. "https://formulae.brew.sh/api").
func New(apiRoot string) *Client {
	return &Client{
		httpClient: httputil.NewSecureClient(httputil.DefaultOptions()),
		apiRoot:    apiRoot,
		ghcrRoot:   "https://ghcr.io",
	}
}

// Fetch retrieves and decodes a single formula's metadata.
func (c *Client) Fetch(ctx context.Context, name string) (*PackageMetadata, error) {
	url := fmt.Sprintf("%s/formula/%s.json", c.apiRoot, name)

	body, err := c.getWithRetry(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	var meta PackageMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, pacerr.Wrap(pacerr.Deserialize, fmt.Sprintf("decode formula %s", name), err)
	}
	return &meta, nil
}

// ghcrTokenResponse is the token endpoint's JSON shape.
type ghcrTokenResponse struct {
	Token string `json:"token"`
}

// BottleToken exchanges a short-lived bearer token for pulling the named
// package's bottle image from GHCR.
func (c *Client) BottleToken(ctx context.Context, tap, name string) (string, error) {
	url := fmt.Sprintf("%s/token?service=ghcr.io&scope=repository:%s/%s:pull", c.ghcrRoot, tap, name)

	body, err := c.getWithRetry(ctx, url, nil)
	if err != nil {
		return "", err
	}

	var resp ghcrTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", pacerr.Wrap(pacerr.Deserialize, "decode ghcr token", err)
	}
	return resp.Token, nil
}

// getWithRetry performs a GET with exponential backoff on transient
// failures (network errors, 5xx). A 404 is reported distinctly as
// NotFound; other non-2xx statuses are RemoteStatus. A 404 and non-5xx
// statuses are not retried; a 5xx that persists through every attempt is
// reported as RemoteStatus, a persistent network error as Network.
func (c *Client) getWithRetry(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error
	delay := baseBackoff

	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, retryable, err := c.doGet(ctx, url, headers)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		log.Default().Warn("remote index fetch failed, retrying",
			"url", url, "attempt", attempt+1, "error", lastErr)
	}

	kind := pacerr.Network
	if k, ok := pacerr.KindOf(lastErr); ok {
		kind = k
	}
	return nil, pacerr.Wrap(kind, fmt.Sprintf("exhausted %d attempts fetching %s", maxFetchAttempts, url), lastErr)
}

// doGet performs a single attempt. The bool return reports whether a
// failure is worth retrying.
func (c *Client) doGet(ctx context.Context, url string, headers map[string]string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, pacerr.Wrap(pacerr.Network, "build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, pacerr.Wrap(pacerr.Network, fmt.Sprintf("GET %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, pacerr.New(pacerr.NotFound, url)
	}
	if resp.StatusCode >= 500 {
		return nil, true, pacerr.New(pacerr.RemoteStatus, fmt.Sprintf("%s: %s", url, resp.Status))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, pacerr.New(pacerr.RemoteStatus, fmt.Sprintf("%s: %s", url, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, pacerr.Wrap(pacerr.Network, "read response body", err)
	}
	return body, false, nil
}
