// Package btindex lists the files inside a torrent without downloading any
// payload data. It joins the swarm just long enough to fetch metadata, then
// drops the torrent.
package btindex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anacrolix/torrent"
	"go.uber.org/zap"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/source"
)

// Index resolves torrent file lists from magnet links via a shared
// metadata-only client.
type Index struct {
	client   *torrent.Client
	logger   *zap.Logger
	trackers []string

	mu     sync.Mutex
	closed bool
}

// New creates an Index. dataDir holds the client's piece bookkeeping; no
// payload is ever written there because torrents are dropped as soon as
// metadata arrives.
func New(dataDir string, logger *zap.Logger) (*Index, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.NoUpload = true
	cfg.Seed = false

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	return &Index{
		client:   client,
		logger:   logger,
		trackers: defaultTrackers(),
	}, nil
}

// Files fetches the ordered file list for a magnet link. The caller bounds
// the wait through ctx; hitting the deadline before metadata arrives yields
// a retryable timeout error.
func (x *Index) Files(ctx context.Context, magnetURI, infoHash string) ([]source.FileEntry, error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, fmt.Errorf("torrent index is closed")
	}
	x.mu.Unlock()

	if magnetURI == "" {
		if infoHash == "" {
			return nil, apperrors.NewValidationError("torrent source has neither magnet nor info-hash")
		}
		magnetURI = "magnet:?xt=urn:btih:" + strings.ToLower(infoHash)
	}

	t, err := x.client.AddMagnet(magnetURI)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid magnet link: " + err.Error())
	}
	defer t.Drop()

	for _, tracker := range x.trackers {
		t.AddTrackers([][]string{{tracker}})
	}

	select {
	case <-ctx.Done():
		x.logger.Debug("torrent metadata fetch timed out",
			zap.String("info_hash", t.InfoHash().HexString()))
		return nil, apperrors.NewTimeoutError("timed out fetching torrent metadata", ctx.Err())
	case <-t.GotInfo():
	}

	info := t.Info()
	if info == nil {
		return nil, apperrors.NewProviderError("torrent metadata arrived empty", nil)
	}

	files := t.Files()
	entries := make([]source.FileEntry, len(files))
	for i, f := range files {
		entries[i] = source.FileEntry{
			Index:  i,
			Name:   f.DisplayPath(),
			Length: f.Length(),
		}
	}

	x.logger.Debug("torrent file list fetched",
		zap.String("info_hash", t.InfoHash().HexString()),
		zap.Int("files", len(entries)))

	return entries, nil
}

// Close shuts the underlying client down. Files calls after Close fail.
func (x *Index) Close() {
	x.mu.Lock()
	x.closed = true
	x.mu.Unlock()
	x.client.Close()
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"udp://tracker.torrent.eu.org:451/announce",
	}
}
