// Package source defines the candidate-source model shared by the resolver,
// file-list loader and download orchestrator.
package source

import (
	"github.com/soundrift/soundrift-go/internal/sourceid"
)

// Kind discriminates the provider families a candidate can come from.
type Kind string

const (
	KindTorrent Kind = "torrent"
	KindStream  Kind = "stream"
	KindHTTP    Kind = "http"
	KindLocal   Kind = "local"
)

// Candidate is one playable-audio candidate returned by a lookup provider,
// normalized across provider result shapes. Candidates are created fresh per
// search result set and are immutable except for StreamURL, which the
// file-list loader attaches once resolved.
type Candidate struct {
	Kind     Kind   `json:"kind"`
	Provider string `json:"provider,omitempty"`
	Title    string `json:"title,omitempty"`

	// Identity fields; at least one is non-empty.
	ID        string `json:"id,omitempty"`         // stream descriptor id
	MagnetURI string `json:"magnet_uri,omitempty"` // torrent magnet link
	InfoHash  string `json:"info_hash,omitempty"`  // 40-hex, lowercased
	URL       string `json:"url,omitempty"`        // direct http url or local path

	// StreamURL is the resolved playable url for stream candidates.
	StreamURL string `json:"stream_url,omitempty"`

	Seeders  int    `json:"seeders,omitempty"`
	Size     int64  `json:"size,omitempty"`
	SizeText string `json:"size_text,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Uploader string `json:"uploader,omitempty"`
}

// Key returns the session-scoped map key for this candidate at the given
// position in its result set.
func (c *Candidate) Key(index int) string {
	return sourceid.SourceKey(c.InfoHash, c.MagnetURI, c.ID, c.URL, index)
}

// Hash returns the identity component used in resource identifiers and
// fetcher correlation: info-hash for torrents, descriptor id for streams,
// url otherwise.
func (c *Candidate) Hash() string {
	switch {
	case c.InfoHash != "":
		return c.InfoHash
	case c.ID != "":
		return c.ID
	default:
		return c.URL
	}
}

// Identity returns the raw provider identity used to deduplicate file-list
// fetches. Identical underlying resources found via different search passes
// share one identity even when their UI keys differ.
func (c *Candidate) Identity() string {
	switch c.Kind {
	case KindTorrent:
		if c.InfoHash != "" {
			return c.InfoHash
		}
		return c.MagnetURI
	case KindStream:
		return c.ID
	default:
		return c.URL
	}
}

// ResourceID derives the fetcher correlation identifier for this candidate
// and track.
func (c *Candidate) ResourceID(trackID string) string {
	return sourceid.ResourceID(trackID, string(c.Kind), c.Hash())
}

// Valid reports whether the candidate should appear in the primary list.
// Stream candidates are always valid; everything else needs a live swarm.
func (c *Candidate) Valid(minSeeders int) bool {
	if c.Kind == KindStream {
		return true
	}
	return c.Seeders >= minSeeders
}

// FileEntry is one playable file inside a candidate source. Index is the
// file's position in the source's original listing; persisted file_index
// values reference that position, so dedup must never renumber entries.
type FileEntry struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Length int64  `json:"length"`
}
