// Package filelist loads and caches the playable-file listing of a candidate
// source, and picks which file inside a multi-file source should play.
package filelist

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/flight"
	"github.com/soundrift/soundrift-go/internal/monitoring"
	"github.com/soundrift/soundrift-go/internal/source"
)

// TorrentIndexer fetches the file list of a torrent from its metadata.
type TorrentIndexer interface {
	Files(ctx context.Context, magnetURI, infoHash string) ([]source.FileEntry, error)
}

// StreamResolver resolves a stream descriptor id to a playable URL.
type StreamResolver interface {
	ResolveURL(ctx context.Context, id string) (string, error)
}

// Listing is the cached load result for one source identity.
type Listing struct {
	Files []source.FileEntry

	// StreamURL is set for stream sources, whose listing doubles as URL
	// resolution.
	StreamURL string
}

// Loader fetches file listings with per-identity deduplication. Two
// candidates that point at the same underlying resource share one fetch and
// one cache entry even when they came from different searches.
type Loader struct {
	torrents TorrentIndexer
	streams  StreamResolver
	loads    *flight.Group[*Listing]
	logger   *zap.Logger
	timeout  time.Duration

	mu   sync.Mutex
	dead map[string]error
}

// NewLoader creates a Loader. timeout bounds each individual listing fetch.
func NewLoader(torrents TorrentIndexer, streams StreamResolver, logger *zap.Logger, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Loader{
		torrents: torrents,
		streams:  streams,
		loads:    flight.New[*Listing](flight.NoExpiration),
		logger:   logger,
		timeout:  timeout,
		dead:     make(map[string]error),
	}
}

// Load returns the file listing for a candidate, fetching it at most once
// per identity. Generic failures (timeouts, provider errors) are surfaced
// but never cached, so a retry re-fetches. An unavailable source is a dead
// end for the session: its verdict is memoized and every later load fails
// with the same error without touching the provider again. Forget lifts
// the verdict.
func (l *Loader) Load(ctx context.Context, cand *source.Candidate) (*Listing, error) {
	identity := cand.Identity()
	if identity == "" {
		return nil, apperrors.NewValidationError("candidate has no identity to list")
	}

	l.mu.Lock()
	if deadErr, ok := l.dead[identity]; ok {
		l.mu.Unlock()
		return nil, deadErr
	}
	l.mu.Unlock()

	listing, err := l.loads.Do(identity, func() (*Listing, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		start := time.Now()
		listing, err := l.fetch(fetchCtx, cand)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		monitoring.FileListLoadsTotal.WithLabelValues(string(cand.Kind), outcome).Inc()

		if err != nil {
			l.logger.Warn("file list load failed",
				zap.String("identity", identity),
				zap.String("kind", string(cand.Kind)),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return nil, err
		}
		l.logger.Debug("file list loaded",
			zap.String("identity", identity),
			zap.String("kind", string(cand.Kind)),
			zap.Int("files", len(listing.Files)),
			zap.Duration("elapsed", time.Since(start)))
		return listing, nil
	})
	if err != nil {
		if apperrors.IsUnavailable(err) {
			l.mu.Lock()
			l.dead[identity] = err
			l.mu.Unlock()
		}
		return nil, err
	}

	if listing.StreamURL != "" {
		cand.StreamURL = listing.StreamURL
	}
	return listing, nil
}

// Peek returns the cached listing for a candidate without fetching.
func (l *Loader) Peek(cand *source.Candidate) (*Listing, bool) {
	return l.loads.Peek(cand.Identity())
}

// Forget drops a cached listing, including a memoized unavailable verdict,
// so the next Load re-fetches.
func (l *Loader) Forget(cand *source.Candidate) {
	identity := cand.Identity()
	l.mu.Lock()
	delete(l.dead, identity)
	l.mu.Unlock()
	l.loads.Forget(identity)
}

// Reset drops every cached listing and unavailable verdict.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.dead = make(map[string]error)
	l.mu.Unlock()
	l.loads.Reset()
}

func (l *Loader) fetch(ctx context.Context, cand *source.Candidate) (*Listing, error) {
	switch cand.Kind {
	case source.KindTorrent:
		files, err := l.torrents.Files(ctx, cand.MagnetURI, cand.InfoHash)
		if err != nil {
			return nil, err
		}
		return &Listing{Files: dedupeByName(files)}, nil

	case source.KindStream:
		// Listing a stream source doubles as URL resolution: a stream is
		// always a single file, but resolution can fail with a
		// distinguished unavailable error.
		streamURL, err := l.streams.ResolveURL(ctx, cand.ID)
		if err != nil {
			return nil, err
		}
		return &Listing{
			Files: []source.FileEntry{{
				Index:  0,
				Name:   streamFileName(cand, streamURL),
				Length: cand.Size,
			}},
			StreamURL: streamURL,
		}, nil

	case source.KindHTTP, source.KindLocal:
		name := path.Base(cand.URL)
		if u, err := url.Parse(cand.URL); err == nil && u.Path != "" {
			name = path.Base(u.Path)
		}
		return &Listing{
			Files: []source.FileEntry{{Index: 0, Name: name, Length: cand.Size}},
		}, nil

	default:
		return nil, apperrors.NewValidationError("unknown source kind: " + string(cand.Kind))
	}
}

// dedupeByName drops later duplicates of the same file name while keeping
// every survivor's original index intact.
func dedupeByName(files []source.FileEntry) []source.FileEntry {
	seen := make(map[string]bool, len(files))
	out := make([]source.FileEntry, 0, len(files))
	for _, f := range files {
		key := strings.ToLower(f.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func streamFileName(cand *source.Candidate, streamURL string) string {
	if cand.Title != "" {
		return cand.Title
	}
	if u, err := url.Parse(streamURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return cand.ID
}
