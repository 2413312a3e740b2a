// Package resolver turns a track's metadata into a ranked list of candidate
// sources by fanning out to the lookup providers and normalizing their
// result shapes.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/anacrolix/torrent/metainfo"
	"go.uber.org/zap"

	"github.com/soundrift/soundrift-go/internal/flight"
	"github.com/soundrift/soundrift-go/internal/monitoring"
	"github.com/soundrift/soundrift-go/internal/provider"
	"github.com/soundrift/soundrift-go/internal/source"
	"github.com/soundrift/soundrift-go/internal/sourceid"
)

var infoHashPattern = regexp.MustCompile(`(?i)xt=urn:btih:([a-f0-9]{40})`)

// Query identifies the track whose sources are wanted. Title follows the
// caller's fallback chain (album name, embedded album name, track name);
// Artist is the track's primary artist.
type Query struct {
	TrackID string
	Title   string
	Artist  string
	Year    int
}

// Composite returns the single query string sent to providers.
func (q Query) Composite() string {
	return strings.TrimSpace(q.Title + " " + q.Artist)
}

// CacheKey keys the whole multi-provider search.
func (q Query) CacheKey() string {
	return fmt.Sprintf("%s|%s|%d", q.Composite(), q.Artist, q.Year)
}

// Result holds one search's full candidate set. Candidates below the seeder
// floor stay in the set (the cache entry keeps everything) and are filtered
// only at display time via Visible.
type Result struct {
	Candidates []source.Candidate
	Errors     []string
}

// Visible returns the candidates that pass the validity filter, preserving
// order.
func (r *Result) Visible(minSeeders int) []source.Candidate {
	visible := make([]source.Candidate, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		if c.Valid(minSeeders) {
			visible = append(visible, c)
		}
	}
	return visible
}

// TorrentSearcher is the torrent lookup provider contract.
type TorrentSearcher interface {
	Search(ctx context.Context, query string) ([]provider.TorrentResult, error)
}

// StreamSearcher is the stream lookup provider contract.
type StreamSearcher interface {
	Search(ctx context.Context, title, artist string) ([]provider.StreamResult, error)
}

// Config tunes resolution behavior.
type Config struct {
	MaxCandidates int
	MinSeeders    int
}

// Resolver coordinates the provider fanout. Searches for the same query are
// deduplicated and cached for the session.
type Resolver struct {
	torrents TorrentSearcher
	streams  StreamSearcher
	searches *flight.Group[*Result]
	logger   *zap.Logger
	cfg      Config
}

// New creates a Resolver.
func New(torrents TorrentSearcher, streams StreamSearcher, logger *zap.Logger, cfg Config) *Resolver {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 50
	}
	if cfg.MinSeeders <= 0 {
		cfg.MinSeeders = 1
	}
	return &Resolver{
		torrents: torrents,
		streams:  streams,
		searches: flight.New[*Result](flight.NoExpiration),
		logger:   logger,
		cfg:      cfg,
	}
}

// MinSeeders exposes the configured validity floor.
func (r *Resolver) MinSeeders() int { return r.cfg.MinSeeders }

// Resolve returns the candidate set for a query. Concurrent callers with
// the same query share one provider fanout; a fully failed search is not
// cached, so a later call retries.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Result, error) {
	if q.Composite() == "" {
		return nil, fmt.Errorf("empty search query for track %s", q.TrackID)
	}

	// The fanout may be shared by several joined callers, so it runs on a
	// detached context: the initiator cancelling must not fail everyone
	// else. Provider clients bound the work with their own timeouts.
	searchCtx := context.WithoutCancel(ctx)
	return r.searches.Do(q.CacheKey(), func() (*Result, error) {
		return r.search(searchCtx, q)
	})
}

// Reset drops all cached searches (logout/session reset).
func (r *Resolver) Reset() {
	r.searches.Reset()
}

func (r *Resolver) search(ctx context.Context, q Query) (*Result, error) {
	composite := q.Composite()

	var (
		wg          sync.WaitGroup
		streamCands []source.Candidate
		torrentCand []source.Candidate
		mu          sync.Mutex
		errs        []string
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		start := time.Now()
		results, err := r.streams.Search(ctx, q.Title, q.Artist)
		monitoring.ObserveSearch("stream", start, err)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			r.logger.Warn("stream lookup failed",
				zap.String("query", composite), zap.Error(err))
			errs = append(errs, "stream lookup: "+err.Error())
			return
		}
		streamCands = normalizeStreams(results, q.Title)
	}()

	go func() {
		defer wg.Done()
		start := time.Now()
		results, err := r.torrents.Search(ctx, composite)
		monitoring.ObserveSearch("torrent", start, err)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			r.logger.Warn("torrent lookup failed",
				zap.String("query", composite), zap.Error(err))
			errs = append(errs, "torrent lookup: "+err.Error())
			return
		}
		torrentCand = normalizeTorrents(results)
	}()

	wg.Wait()

	// Streams come first: they resolve faster and are preferred for
	// auto-fetch ordering. Torrents follow, best swarms first.
	candidates := append(streamCands, torrentCand...)
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	if len(candidates) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil, fmt.Errorf("no sources found for %q", composite)
	}

	r.logger.Info("sources resolved",
		zap.String("query", composite),
		zap.Int("streams", len(streamCands)),
		zap.Int("torrents", len(torrentCand)),
		zap.Strings("provider_errors", errs))

	return &Result{Candidates: candidates, Errors: errs}, nil
}

// normalizeStreams maps raw stream descriptors into candidates, ordered by
// title affinity to the searched track so the closest match auto-fetches
// first.
func normalizeStreams(results []provider.StreamResult, wantTitle string) []source.Candidate {
	wantNorm := sourceid.NormalizeText(wantTitle)

	type scored struct {
		cand source.Candidate
		dist int
	}
	out := make([]scored, 0, len(results))
	for _, raw := range results {
		if raw.ID == "" {
			continue
		}
		cand := source.Candidate{
			Kind:     source.KindStream,
			Provider: "stream",
			Title:    raw.DisplayTitle(),
			ID:       raw.ID,
			Size:     raw.EstimatedSize(),
			Duration: raw.Duration,
			Uploader: raw.Uploader,
		}
		dist := levenshtein.ComputeDistance(wantNorm, sourceid.NormalizeText(cand.Title))
		out = append(out, scored{cand, dist})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].dist < out[j].dist })

	cands := make([]source.Candidate, len(out))
	for i, s := range out {
		cands[i] = s.cand
	}
	return cands
}

// normalizeTorrents maps raw torrent entries into candidates, deriving the
// info-hash from the magnet URI when the provider did not supply one, and
// orders them by seeder count.
func normalizeTorrents(results []provider.TorrentResult) []source.Candidate {
	cands := make([]source.Candidate, 0, len(results))
	for _, raw := range results {
		magnet := raw.MagnetLink()
		hash := strings.ToLower(raw.InfoHash)
		if hash == "" {
			hash = ExtractInfoHash(magnet)
		}
		if hash == "" && magnet == "" {
			continue
		}

		bytes, human := raw.SizeInfo()
		cands = append(cands, source.Candidate{
			Kind:      source.KindTorrent,
			Provider:  raw.ProviderName(),
			Title:     raw.DisplayTitle(),
			MagnetURI: magnet,
			InfoHash:  hash,
			Seeders:   raw.SeederCount(),
			Size:      bytes,
			SizeText:  human,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Seeders > cands[j].Seeders })
	return cands
}

// ExtractInfoHash pulls the 40-hex info-hash out of a magnet URI, trying a
// full parse first and falling back to pattern matching for URIs the parser
// rejects.
func ExtractInfoHash(magnet string) string {
	if magnet == "" {
		return ""
	}
	if m, err := metainfo.ParseMagnetUri(magnet); err == nil {
		return strings.ToLower(m.InfoHash.HexString())
	}
	if match := infoHashPattern.FindStringSubmatch(magnet); match != nil {
		return strings.ToLower(match[1])
	}
	return ""
}

// FindCandidate locates a candidate by identity equality against a
// persisted selection record: hash first, then url. Returns -1 when no
// candidate matches.
func FindCandidate(cands []source.Candidate, hash, url string) int {
	if hash != "" {
		hash = strings.ToLower(hash)
		for i := range cands {
			if cands[i].InfoHash == hash || cands[i].ID == hash || strings.ToLower(cands[i].Hash()) == hash {
				return i
			}
		}
	}
	if url != "" {
		for i := range cands {
			if cands[i].URL == url || cands[i].MagnetURI == url || cands[i].StreamURL == url {
				return i
			}
		}
	}
	return -1
}
