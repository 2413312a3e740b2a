// Package fetcher defines the contract with the external byte-fetcher: the
// process that actually moves audio bytes into the local cache. This core
// starts, inspects and pauses transfers; the fetcher reports back through
// two event streams.
package fetcher

import (
	"context"
	"time"

	"github.com/soundrift/soundrift-go/internal/sourceid"
)

// EventType enumerates the cache-download lifecycle events.
type EventType string

const (
	EventReady    EventType = "ready"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventPaused   EventType = "paused"
	EventResumed  EventType = "resumed"
	EventRemoved  EventType = "removed"
)

// Event is one explicit cache-download lifecycle event. Every event carries
// the full resource triple, so correlation is deterministic.
type Event struct {
	Type       EventType `json:"type"`
	TrackID    string    `json:"track_id"`
	SourceType string    `json:"source_type"`
	SourceHash string    `json:"source_hash"`

	TmpPath string `json:"tmp_path,omitempty"`
	Bytes   int64  `json:"bytes_downloaded,omitempty"`
	Total   int64  `json:"total_bytes,omitempty"`
	Err     string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ResourceID derives the canonical resource identifier for the event.
func (e *Event) ResourceID() string {
	return sourceid.ResourceID(e.TrackID, e.SourceType, e.SourceHash)
}

// PlaybackEventType enumerates the playback-coupled events.
type PlaybackEventType string

const (
	// PlaybackStarted acknowledges that the playback engine began streaming
	// a resource, establishing it as the current playback session.
	PlaybackStarted PlaybackEventType = "start_ack"
	// PlaybackProgress reports byte progress of the resource being streamed.
	PlaybackProgress PlaybackEventType = "download_progress"
)

// PlaybackEvent is one playback-coupled event. ResourceID is the explicit
// session identifier; collaborators that cannot attach it to progress
// events leave it empty, and the aggregator falls back to the most recent
// start acknowledgement.
type PlaybackEvent struct {
	Type       PlaybackEventType `json:"type"`
	ResourceID string            `json:"resource_id,omitempty"`

	// Resource triple, set on start acknowledgements.
	TrackID    string `json:"track_id,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	SourceHash string `json:"source_hash,omitempty"`

	Bytes   int64 `json:"downloaded_bytes,omitempty"`
	Total   int64 `json:"total_bytes,omitempty"`
	Success bool  `json:"success,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// StartRequest carries everything the byte-fetcher needs to begin a
// transfer. FileIndex is NoFileIndex for single-file sources.
type StartRequest struct {
	TrackID    string `json:"track_id"`
	SourceType string `json:"source_type"`
	SourceHash string `json:"source_hash"`
	URL        string `json:"url"`
	FileIndex  int    `json:"file_index"`
}

// NoFileIndex marks the absence of a file-index component.
const NoFileIndex = -1

// ResourceID derives the canonical resource identifier for the request.
func (r *StartRequest) ResourceID() string {
	return sourceid.ResourceID(r.TrackID, r.SourceType, r.SourceHash)
}

// Status is the fetcher's reply to a status check.
type Status struct {
	Inflight  bool  `json:"inflight"`
	Completed bool  `json:"completed"`
	Bytes     int64 `json:"bytes_downloaded"`
	Total     int64 `json:"total_bytes"`
}

// Fetcher is the byte-fetcher collaborator. Start is fire-and-forget:
// transfer outcomes arrive on the event streams, not as return values.
type Fetcher interface {
	Start(ctx context.Context, req StartRequest) error
	Exists(ctx context.Context, trackID, sourceType, sourceHash string, fileIndex int) (bool, error)
	Status(ctx context.Context, trackID, sourceType, sourceHash string, fileIndex int) (*Status, error)
	Pause(ctx context.Context, resourceID string) error
	Resume(ctx context.Context, resourceID string) error
	Remove(ctx context.Context, resourceID string) error
}
