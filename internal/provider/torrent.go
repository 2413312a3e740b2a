package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/network"
)

// TorrentLookup queries the torrent indexer aggregation endpoint.
type TorrentLookup struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retry       apperrors.RetryConfig
}

// NewTorrentLookup creates a torrent lookup client
func NewTorrentLookup(baseURL string, timeout time.Duration, requestsPerSec int) *TorrentLookup {
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	config := network.DefaultClientConfig()
	config.Timeout = timeout

	return &TorrentLookup{
		baseURL:     baseURL,
		httpClient:  network.NewClient(config),
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
		retry:       apperrors.DefaultRetryConfig(),
	}
}

// Search runs one query against the indexer and returns the raw result
// entries.
func (c *TorrentLookup) Search(ctx context.Context, query string) ([]TorrentResult, error) {
	if query == "" {
		return nil, apperrors.NewValidationError("search query cannot be empty")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("query", query)

	var results []TorrentResult
	err := apperrors.RetryWithBackoff(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/search?"+params.Encode(), nil)
		if err != nil {
			return apperrors.NewValidationError("build request: " + err.Error())
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.NewProviderError("torrent search request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return apperrors.NewProviderError(
				fmt.Sprintf("torrent search returned status %d: %s", resp.StatusCode, string(body)), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return apperrors.NewProviderError("failed to decode torrent search response", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Ping checks indexer reachability for health reporting.
func (c *TorrentLookup) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("indexer health returned status %d", resp.StatusCode)
	}
	return nil
}
