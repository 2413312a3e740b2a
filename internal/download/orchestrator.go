package download

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/fetcher"
	"github.com/soundrift/soundrift-go/internal/filelist"
	"github.com/soundrift/soundrift-go/internal/flight"
	"github.com/soundrift/soundrift-go/internal/monitoring"
	"github.com/soundrift/soundrift-go/internal/source"
)

// Config tunes orchestrator timing. Tests shrink these; production values
// come from the download section of the settings file.
type Config struct {
	// CacheCheckTTL bounds how long a cache-existence answer is reused.
	CacheCheckTTL time.Duration

	// Poll tiers: PollFast until PollFastWindow has elapsed, PollMid until
	// PollMidWindow, PollSlow thereafter, giving up at PollCeiling.
	PollFast       time.Duration
	PollFastWindow time.Duration
	PollMid        time.Duration
	PollMidWindow  time.Duration
	PollSlow       time.Duration
	PollCeiling    time.Duration
}

// DefaultConfig returns the production timing profile.
func DefaultConfig() Config {
	return Config{
		CacheCheckTTL:  3 * time.Second,
		PollFast:       250 * time.Millisecond,
		PollFastWindow: 5 * time.Second,
		PollMid:        500 * time.Millisecond,
		PollMidWindow:  15 * time.Second,
		PollSlow:       time.Second,
		PollCeiling:    90 * time.Second,
	}
}

// Request describes one download attempt.
type Request struct {
	TrackID    string
	TrackTitle string
	SourceKey  string
	Candidate  *source.Candidate

	// FileIndexOverride is a user-chosen file index inside a multi-file
	// source, filelist.NoOverride when absent.
	FileIndexOverride int
}

// Orchestrator drives downloads to a terminal state: it resolves the
// concrete URL and file index for a candidate, short-circuits on cache
// hits, starts the byte-fetcher and polls until completion, error, or the
// ceiling. At most one attempt runs per resource; concurrent requests for
// the same resource join the running attempt.
type Orchestrator struct {
	fetcher fetcher.Fetcher
	loader  *filelist.Loader
	logger  *zap.Logger
	cfg     Config

	records  *recordStore
	inflight *flight.Group[State]
	exists   *flight.Group[bool]
	updates  *fetcher.Bus[Record]
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(f fetcher.Fetcher, loader *filelist.Loader, logger *zap.Logger, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.CacheCheckTTL <= 0 {
		cfg.CacheCheckTTL = def.CacheCheckTTL
	}
	if cfg.PollFast <= 0 {
		cfg.PollFast = def.PollFast
	}
	if cfg.PollFastWindow <= 0 {
		cfg.PollFastWindow = def.PollFastWindow
	}
	if cfg.PollMid <= 0 {
		cfg.PollMid = def.PollMid
	}
	if cfg.PollMidWindow <= 0 {
		cfg.PollMidWindow = def.PollMidWindow
	}
	if cfg.PollSlow <= 0 {
		cfg.PollSlow = def.PollSlow
	}
	if cfg.PollCeiling <= 0 {
		cfg.PollCeiling = def.PollCeiling
	}

	return &Orchestrator{
		fetcher:  f,
		loader:   loader,
		logger:   logger,
		cfg:      cfg,
		records:  newRecordStore(),
		inflight: flight.New[State](flight.NoExpiration),
		exists:   flight.New[bool](cfg.CacheCheckTTL),
		updates:  fetcher.NewBus[Record](logger),
	}
}

// Updates returns a subscription to state-transition records.
func (o *Orchestrator) Updates(buffer int) (<-chan Record, func()) {
	return o.updates.Subscribe(buffer)
}

// Status returns a copy of the current record for a resource.
func (o *Orchestrator) Status(resourceID string) (Record, bool) {
	return o.records.get(resourceID)
}

// Snapshot returns copies of every tracked record.
func (o *Orchestrator) Snapshot() []Record {
	return o.records.snapshot()
}

// Active returns the number of downloads in a non-terminal, non-idle state.
func (o *Orchestrator) Active() int {
	return o.records.active()
}

// Download runs (or joins) the download attempt for the request's resource
// and returns its terminal state. Setup failures transition straight to
// error without touching the byte-fetcher.
func (o *Orchestrator) Download(ctx context.Context, req Request) (Record, error) {
	cand := req.Candidate
	if cand == nil {
		return Record{}, apperrors.NewValidationError("download request missing candidate")
	}
	if cand.Hash() == "" {
		return Record{}, apperrors.NewValidationError("candidate has no resolvable identity")
	}
	resourceID := cand.ResourceID(req.TrackID)

	if rec, ok := o.records.get(resourceID); ok && !rec.State.Terminal() && rec.State != StateIdle {
		monitoring.DedupHitsTotal.WithLabelValues("download").Inc()
	}

	_, err := o.inflight.Do(resourceID, func() (State, error) {
		return o.run(ctx, resourceID, req)
	})
	// Completed attempts must not pin the key forever: the cache can be
	// evicted externally, after which a fresh attempt has to be possible.
	// Joined callers are unaffected, they share the in-flight slot.
	o.inflight.Forget(resourceID)

	rec, _ := o.records.get(resourceID)
	return rec, err
}

// CheckCached reports whether the resource is already fully cached for its
// resolved file index. Answers are shared and reused for a few seconds to
// absorb rapid repeated checks.
func (o *Orchestrator) CheckCached(ctx context.Context, req Request) (bool, error) {
	cand := req.Candidate
	if cand == nil || cand.Hash() == "" {
		return false, apperrors.NewValidationError("candidate has no resolvable identity")
	}
	resourceID := cand.ResourceID(req.TrackID)

	return o.exists.Do(resourceID, func() (bool, error) {
		fileIndex, err := o.resolveFileIndex(ctx, req)
		if err != nil {
			return false, err
		}
		return o.fetcher.Exists(ctx, req.TrackID, string(cand.Kind), cand.Hash(), fileIndex)
	})
}

// Pause asks the fetcher to suspend a transfer. The record moves to queued;
// actual suspension is the fetcher's business. Only an active download can
// be paused: completed and error are final until a new download begins, and
// unknown resources have nothing to suspend.
func (o *Orchestrator) Pause(ctx context.Context, resourceID string) error {
	rec, ok := o.records.get(resourceID)
	if !ok || (rec.State != StateDownloading && rec.State != StateQueued) {
		return apperrors.NewValidationError("no active download to pause")
	}
	if err := o.fetcher.Pause(ctx, resourceID); err != nil {
		return err
	}
	o.setState(resourceID, "", func(r *Record) { r.State = StateQueued })
	return nil
}

// Resume asks the fetcher to continue a paused transfer.
func (o *Orchestrator) Resume(ctx context.Context, resourceID string) error {
	rec, ok := o.records.get(resourceID)
	if !ok || rec.State != StateQueued {
		return apperrors.NewValidationError("no paused download to resume")
	}
	if err := o.fetcher.Resume(ctx, resourceID); err != nil {
		return err
	}
	o.setState(resourceID, "", func(r *Record) { r.State = StateDownloading })
	return nil
}

// Reset drops all dedup state and records (session teardown).
func (o *Orchestrator) Reset() {
	o.inflight.Reset()
	o.exists.Reset()
	for _, r := range o.records.snapshot() {
		o.records.remove(r.ResourceID)
	}
}

func (o *Orchestrator) run(ctx context.Context, resourceID string, req Request) (State, error) {
	cand := req.Candidate
	kind := string(cand.Kind)
	start := time.Now()

	o.setState(resourceID, req.SourceKey, func(r *Record) {
		r.State = StateQueued
		r.Err = ""
	})

	downloadURL, fileIndex, err := o.resolveTarget(ctx, req)
	if err != nil {
		o.fail(resourceID, err)
		monitoring.ObserveDownload(kind, "setup_error", start)
		return StateError, err
	}

	cached, err := o.fetcher.Exists(ctx, req.TrackID, kind, cand.Hash(), fileIndex)
	if err == nil && cached {
		o.setState(resourceID, req.SourceKey, func(r *Record) {
			r.State = StateCompleted
			r.Bytes, r.Total = 0, 0
		})
		o.logger.Debug("cache hit, skipping fetch", zap.String("resource_id", resourceID))
		monitoring.ObserveDownload(kind, "cache_hit", start)
		return StateCompleted, nil
	}

	o.setState(resourceID, req.SourceKey, func(r *Record) { r.State = StateDownloading })
	monitoring.ActiveDownloads.Inc()
	defer monitoring.ActiveDownloads.Dec()

	if err := o.fetcher.Start(ctx, fetcher.StartRequest{
		TrackID:    req.TrackID,
		SourceType: kind,
		SourceHash: cand.Hash(),
		URL:        downloadURL,
		FileIndex:  fileIndex,
	}); err != nil {
		o.fail(resourceID, err)
		monitoring.ObserveDownload(kind, "start_error", start)
		return StateError, err
	}

	state, err := o.poll(ctx, resourceID, req, fileIndex)
	outcome := "completed"
	if state == StateError {
		outcome = "error"
	}
	monitoring.ObserveDownload(kind, outcome, start)
	return state, err
}

// poll watches the transfer until a completion signal, the ceiling, or
// context cancellation. An explicit status reply is preferred over a raw
// existence re-check on every tick.
func (o *Orchestrator) poll(ctx context.Context, resourceID string, req Request, fileIndex int) (State, error) {
	cand := req.Candidate
	kind := string(cand.Kind)
	started := time.Now()

	for {
		elapsed := time.Since(started)
		if elapsed >= o.cfg.PollCeiling {
			err := apperrors.NewTimeoutError(
				fmt.Sprintf("no completion signal within %s", o.cfg.PollCeiling), nil)
			o.fail(resourceID, err)
			o.logger.Warn("download polling hit ceiling",
				zap.String("resource_id", resourceID),
				zap.Duration("ceiling", o.cfg.PollCeiling))
			return StateError, err
		}

		select {
		case <-ctx.Done():
			err := apperrors.NewTimeoutError("download cancelled", ctx.Err())
			o.fail(resourceID, err)
			return StateError, err
		case <-time.After(o.pollInterval(elapsed)):
		}

		status, err := o.fetcher.Status(ctx, req.TrackID, kind, cand.Hash(), fileIndex)
		if err == nil {
			if status.Completed || (status.Total > 0 && status.Bytes >= status.Total) {
				o.complete(resourceID)
				return StateCompleted, nil
			}
			if status.Inflight {
				o.setState(resourceID, req.SourceKey, func(r *Record) {
					r.State = StateDownloading
					r.Bytes, r.Total = status.Bytes, status.Total
				})
				continue
			}
			// Not inflight and not completed: the fetcher may have finished
			// between events, fall back to the existence check.
		} else {
			o.logger.Debug("status check failed, falling back to existence check",
				zap.String("resource_id", resourceID), zap.Error(err))
		}

		exists, err := o.fetcher.Exists(ctx, req.TrackID, kind, cand.Hash(), fileIndex)
		if err == nil && exists {
			o.complete(resourceID)
			return StateCompleted, nil
		}
	}
}

func (o *Orchestrator) pollInterval(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < o.cfg.PollFastWindow:
		return o.cfg.PollFast
	case elapsed < o.cfg.PollMidWindow:
		return o.cfg.PollMid
	default:
		return o.cfg.PollSlow
	}
}

// resolveTarget produces the URL handed to the fetcher and the file index
// within multi-file sources.
func (o *Orchestrator) resolveTarget(ctx context.Context, req Request) (string, int, error) {
	cand := req.Candidate

	switch cand.Kind {
	case source.KindTorrent:
		downloadURL := cand.MagnetURI
		if downloadURL == "" {
			if cand.InfoHash == "" {
				return "", 0, apperrors.NewValidationError("torrent candidate has neither magnet nor info-hash")
			}
			downloadURL = "magnet:?xt=urn:btih:" + cand.InfoHash
		}
		fileIndex, err := o.resolveFileIndex(ctx, req)
		if err != nil {
			return "", 0, err
		}
		return downloadURL, fileIndex, nil

	case source.KindStream:
		// Stream downloads need the resolved URL; resolve it now when the
		// file-list loader has not been asked yet.
		if cand.StreamURL == "" {
			if _, err := o.loader.Load(ctx, cand); err != nil {
				return "", 0, err
			}
		}
		if cand.StreamURL == "" {
			return "", 0, apperrors.NewUnavailableError("stream url could not be resolved")
		}
		return cand.StreamURL, fetcher.NoFileIndex, nil

	case source.KindHTTP, source.KindLocal:
		if cand.URL == "" {
			return "", 0, apperrors.NewValidationError("candidate has no url")
		}
		return cand.URL, fetcher.NoFileIndex, nil

	default:
		return "", 0, apperrors.NewValidationError("unknown source kind: " + string(cand.Kind))
	}
}

// resolveFileIndex picks the target file inside a multi-file source. Cache
// identity for those is (hash, fileIndex), so this must happen before any
// existence check.
func (o *Orchestrator) resolveFileIndex(ctx context.Context, req Request) (int, error) {
	if req.Candidate.Kind != source.KindTorrent {
		return fetcher.NoFileIndex, nil
	}
	listing, err := o.loader.Load(ctx, req.Candidate)
	if err != nil {
		return 0, err
	}
	entry, err := filelist.ChooseFile(listing.Files, req.TrackTitle, req.FileIndexOverride)
	if err != nil {
		return 0, err
	}
	return entry.Index, nil
}

func (o *Orchestrator) setState(resourceID, sourceKey string, fn func(*Record)) {
	rec := o.records.transition(resourceID, sourceKey, fn)
	o.updates.Publish(rec)
}

func (o *Orchestrator) complete(resourceID string) {
	o.setState(resourceID, "", func(r *Record) {
		r.State = StateCompleted
		if r.Total > 0 {
			r.Bytes = r.Total
		}
	})
}

func (o *Orchestrator) fail(resourceID string, err error) {
	o.setState(resourceID, "", func(r *Record) {
		r.State = StateError
		r.Err = err.Error()
	})
}
