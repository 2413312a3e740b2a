// Package provider contains the HTTP clients for the external lookup
// providers. Result shapes are intentionally loose: real indexers disagree
// on field names, so every alias observed in the wild gets a slot and the
// resolver normalizes afterwards.
package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

// TorrentResult is one raw entry from the torrent lookup provider.
type TorrentResult struct {
	Provider  string          `json:"provider,omitempty"`
	Source    string          `json:"source,omitempty"`
	Magnet    string          `json:"magnet,omitempty"`
	MagnetURI string          `json:"magnetURI,omitempty"`
	InfoHash  string          `json:"infoHash,omitempty"`
	Seeders   *int            `json:"seeders,omitempty"`
	Seeds     *int            `json:"seeds,omitempty"`
	Size      json.RawMessage `json:"size,omitempty"`
	Title     string          `json:"title,omitempty"`
	Name      string          `json:"name,omitempty"`
}

// ProviderName returns the indexer name under either alias.
func (r *TorrentResult) ProviderName() string {
	if r.Provider != "" {
		return r.Provider
	}
	return r.Source
}

// MagnetLink returns the magnet URI under either alias.
func (r *TorrentResult) MagnetLink() string {
	if r.MagnetURI != "" {
		return r.MagnetURI
	}
	return r.Magnet
}

// SeederCount returns the seeder count under either alias, -1 when the
// provider reported none at all.
func (r *TorrentResult) SeederCount() int {
	if r.Seeders != nil {
		return *r.Seeders
	}
	if r.Seeds != nil {
		return *r.Seeds
	}
	return -1
}

// DisplayTitle returns the torrent title under either alias.
func (r *TorrentResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// SizeInfo splits the size field into bytes (when numeric) and a human
// string (when the provider sent text like "1.4 GB").
func (r *TorrentResult) SizeInfo() (int64, string) {
	if len(r.Size) == 0 {
		return 0, ""
	}
	var n int64
	if err := json.Unmarshal(r.Size, &n); err == nil {
		return n, ""
	}
	var s string
	if err := json.Unmarshal(r.Size, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n, ""
		}
		return 0, s
	}
	return 0, ""
}

// StreamResult is one raw descriptor from the stream lookup provider.
type StreamResult struct {
	ID             string `json:"id"`
	Title          string `json:"title,omitempty"`
	Name           string `json:"name,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Uploader       string `json:"uploader,omitempty"`
	Filesize       int64  `json:"filesize,omitempty"`
	FilesizeApprox int64  `json:"filesize_approx,omitempty"`
}

// DisplayTitle returns the descriptor title under either alias.
func (r *StreamResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// EstimatedSize returns the best available byte-size estimate.
func (r *StreamResult) EstimatedSize() int64 {
	if r.Filesize > 0 {
		return r.Filesize
	}
	return r.FilesizeApprox
}

// StreamInfo is the metadata reply for a single stream descriptor. A
// non-empty Reason marks the underlying asset as unresolvable.
type StreamInfo struct {
	ID             string `json:"id"`
	Filesize       int64  `json:"filesize,omitempty"`
	FilesizeApprox int64  `json:"filesize_approx,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// EstimatedSize returns the best available byte-size estimate.
func (i *StreamInfo) EstimatedSize() int64 {
	if i.Filesize > 0 {
		return i.Filesize
	}
	return i.FilesizeApprox
}
