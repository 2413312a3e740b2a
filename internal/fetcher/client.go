package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/network"
)

// Client talks to the byte-fetcher's local control endpoint over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a fetcher client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	config := network.DefaultClientConfig()
	config.Timeout = timeout
	return &Client{
		baseURL:    baseURL,
		httpClient: network.NewClient(config),
	}
}

// Start asks the fetcher to begin transferring a resource into the cache.
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	if req.TrackID == "" || req.SourceHash == "" {
		return apperrors.NewValidationError("start request missing resource identity")
	}
	if req.URL == "" {
		return apperrors.NewValidationError("start request missing download url")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/fetch", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.NewNetworkError("fetch start failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return apperrors.NewNetworkError(
			fmt.Sprintf("fetch start returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// Exists asks whether the resource (at the given file index) is already in
// the cache.
func (c *Client) Exists(ctx context.Context, trackID, sourceType, sourceHash string, fileIndex int) (bool, error) {
	var reply struct {
		Exists bool `json:"exists"`
	}
	if err := c.get(ctx, "/api/v1/cache/exists", trackID, sourceType, sourceHash, fileIndex, &reply); err != nil {
		return false, err
	}
	return reply.Exists, nil
}

// Status returns transfer progress for the resource.
func (c *Client) Status(ctx context.Context, trackID, sourceType, sourceHash string, fileIndex int) (*Status, error) {
	var reply Status
	if err := c.get(ctx, "/api/v1/cache/status", trackID, sourceType, sourceHash, fileIndex, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Pause asks the fetcher to suspend the resource's transfer.
func (c *Client) Pause(ctx context.Context, resourceID string) error {
	return c.post(ctx, "/api/v1/fetch/"+resourceID+"/pause")
}

// Resume asks the fetcher to continue a paused transfer.
func (c *Client) Resume(ctx context.Context, resourceID string) error {
	return c.post(ctx, "/api/v1/fetch/"+resourceID+"/resume")
}

// Remove asks the fetcher to drop the resource from the cache.
func (c *Client) Remove(ctx context.Context, resourceID string) error {
	return c.post(ctx, "/api/v1/fetch/"+resourceID+"/remove")
}

func (c *Client) get(ctx context.Context, path, trackID, sourceType, sourceHash string, fileIndex int, out interface{}) error {
	params := url.Values{}
	params.Set("track_id", trackID)
	params.Set("source_type", sourceType)
	params.Set("source_hash", sourceHash)
	if fileIndex != NoFileIndex {
		params.Set("file_index", strconv.Itoa(fileIndex))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("fetcher request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewNetworkError(
			fmt.Sprintf("fetcher returned status %d for %s", resp.StatusCode, path), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewNetworkError("failed to decode fetcher response", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("fetcher request failed", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return apperrors.NewNetworkError(
			fmt.Sprintf("fetcher returned status %d for %s", resp.StatusCode, path), nil)
	}
	return nil
}

var _ Fetcher = (*Client)(nil)
