package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/network"
)

// StreamLookup queries the streaming-video extraction service: search by
// title/artist, resolve a playable URL by descriptor id, and fetch per-id
// metadata which may signal that the asset is gone.
type StreamLookup struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retry       apperrors.RetryConfig
}

// NewStreamLookup creates a stream lookup client
func NewStreamLookup(baseURL string, timeout time.Duration, requestsPerSec int) *StreamLookup {
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	config := network.DefaultClientConfig()
	config.Timeout = timeout

	return &StreamLookup{
		baseURL:     baseURL,
		httpClient:  network.NewClient(config),
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
		retry:       apperrors.DefaultRetryConfig(),
	}
}

// Search finds stream descriptors matching the track.
func (c *StreamLookup) Search(ctx context.Context, title, artist string) ([]StreamResult, error) {
	if title == "" {
		return nil, apperrors.NewValidationError("search title cannot be empty")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"title":  title,
		"artist": artist,
		"type":   "stream",
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var results []StreamResult
	err = apperrors.RetryWithBackoff(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/search", bytes.NewReader(payload))
		if err != nil {
			return apperrors.NewValidationError("build request: " + err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.NewProviderError("stream search request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return apperrors.NewProviderError(
				fmt.Sprintf("stream search returned status %d: %s", resp.StatusCode, string(body)), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return apperrors.NewProviderError("failed to decode stream search response", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ResolveURL returns the playable stream URL for a descriptor id.
func (c *StreamLookup) ResolveURL(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", apperrors.NewValidationError("stream id cannot be empty")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/"+id+"/url", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewProviderError("stream url resolution failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return "", apperrors.NewUnavailableError("stream source is no longer available")
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewProviderError(
			fmt.Sprintf("stream url resolution returned status %d", resp.StatusCode), nil)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.NewProviderError("failed to decode stream url response", err)
	}
	if result.URL == "" {
		return "", apperrors.NewUnavailableError("stream source resolved to an empty url")
	}

	return result.URL, nil
}

// Info fetches descriptor metadata. An unavailable asset comes back as a
// distinguished ErrTypeUnavailable error, never as an empty success.
func (c *StreamLookup) Info(ctx context.Context, id string) (*StreamInfo, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("stream id cannot be empty")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/"+id+"/info", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewProviderError("stream info request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewUnavailableError("stream source is no longer available")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewProviderError(
			fmt.Sprintf("stream info returned status %d", resp.StatusCode), nil)
	}

	var info StreamInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, apperrors.NewProviderError("failed to decode stream info response", err)
	}
	if info.Reason != "" {
		return nil, apperrors.NewUnavailableError("stream source unavailable: " + info.Reason)
	}

	return &info, nil
}

// Ping checks extractor reachability for health reporting.
func (c *StreamLookup) Ping(ctx context.Context) error {
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
		return fmt.Errorf("extractor health returned status %d", resp.StatusCode)
	}
	return nil
}
