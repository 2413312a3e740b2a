package download

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/soundrift-go/internal/fetcher"
	"github.com/soundrift/soundrift-go/internal/monitoring"
	"github.com/soundrift/soundrift-go/internal/source"
)

// Aggregator merges the fetcher's two event streams, the explicit
// cache-download stream and the playback-coupled stream, into one
// per-resource progress view. Explicit events win: once a resource has
// reported through the explicit stream, playback progress for it is
// ignored until the resource is removed.
type Aggregator struct {
	logger *zap.Logger
	grace  time.Duration

	mu              sync.Mutex
	progress        map[string]*Record
	explicit        map[string]bool
	pendingRemoval  map[string]bool
	currentPlayback string

	updates *fetcher.Bus[Record]
	timers  map[string]*time.Timer
}

// NewAggregator creates an Aggregator. grace is how long a completed entry
// stays visible before removal.
func NewAggregator(logger *zap.Logger, grace time.Duration) *Aggregator {
	if grace <= 0 {
		grace = time.Second
	}
	return &Aggregator{
		logger:         logger,
		grace:          grace,
		progress:       make(map[string]*Record),
		explicit:       make(map[string]bool),
		pendingRemoval: make(map[string]bool),
		updates:        fetcher.NewBus[Record](logger),
		timers:         make(map[string]*time.Timer),
	}
}

// Updates returns a subscription to the merged progress view.
func (a *Aggregator) Updates(buffer int) (<-chan Record, func()) {
	return a.updates.Subscribe(buffer)
}

// Progress returns a copy of the merged record for a resource.
func (a *Aggregator) Progress(resourceID string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.progress[resourceID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Run consumes both event streams until ctx is cancelled or both channels
// close.
func (a *Aggregator) Run(ctx context.Context, cache <-chan fetcher.Event, playback <-chan fetcher.PlaybackEvent) {
	for cache != nil || playback != nil {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-cache:
			if !ok {
				cache = nil
				continue
			}
			a.HandleCacheEvent(e)
		case e, ok := <-playback:
			if !ok {
				playback = nil
				continue
			}
			a.HandlePlaybackEvent(e)
		}
	}
}

// HandleCacheEvent applies one explicit cache-download event.
func (a *Aggregator) HandleCacheEvent(e fetcher.Event) {
	monitoring.ProgressEventsTotal.WithLabelValues("cache", string(e.Type)).Inc()
	id := e.ResourceID()

	a.mu.Lock()
	if a.pendingRemoval[id] && e.Type != fetcher.EventRemoved {
		// Completion already announced; late progress and duplicate
		// complete events are dropped.
		a.mu.Unlock()
		return
	}
	a.explicit[id] = true

	switch e.Type {
	case fetcher.EventReady:
		a.applyLocked(id, func(r *Record) {
			r.State = StateReady
			r.Bytes, r.Total = e.Bytes, e.Total
		})
	case fetcher.EventProgress:
		a.applyLocked(id, func(r *Record) {
			r.State = StateDownloading
			r.Bytes, r.Total = e.Bytes, e.Total
		})
		if e.Total > 0 && e.Bytes >= e.Total {
			a.completeLocked(id)
		}
	case fetcher.EventComplete:
		a.completeLocked(id)
	case fetcher.EventError:
		a.applyLocked(id, func(r *Record) {
			r.State = StateError
			r.Err = e.Err
		})
	case fetcher.EventPaused:
		a.applyLocked(id, func(r *Record) { r.State = StateQueued })
	case fetcher.EventResumed:
		a.applyLocked(id, func(r *Record) { r.State = StateDownloading })
	case fetcher.EventRemoved:
		a.removeLocked(id)
	}
	a.mu.Unlock()
}

// HandlePlaybackEvent applies one playback-coupled event. Progress events
// without an explicit resource id fall back to the most recent start
// acknowledgement.
func (a *Aggregator) HandlePlaybackEvent(e fetcher.PlaybackEvent) {
	monitoring.ProgressEventsTotal.WithLabelValues("playback", string(e.Type)).Inc()

	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Type {
	case fetcher.PlaybackStarted:
		id := e.ResourceID
		if id == "" {
			id = (&fetcher.Event{TrackID: e.TrackID, SourceType: e.SourceType, SourceHash: e.SourceHash}).ResourceID()
		}
		a.currentPlayback = id

	case fetcher.PlaybackProgress:
		id := e.ResourceID
		if id == "" {
			id = a.currentPlayback
		}
		if id == "" {
			a.logger.Debug("playback progress with no attributable resource, dropped")
			return
		}
		if a.explicit[id] {
			// The explicit stream owns this resource.
			return
		}
		if a.pendingRemoval[id] {
			return
		}
		a.applyLocked(id, func(r *Record) {
			r.State = StateDownloading
			r.Bytes, r.Total = e.Bytes, e.Total
		})
		if e.Total > 0 && e.Bytes >= e.Total {
			a.completeLocked(id)
		}
	}
}

// applyLocked mutates (creating if absent) the record for id and publishes
// a copy. Caller holds a.mu.
func (a *Aggregator) applyLocked(id string, fn func(*Record)) {
	r, ok := a.progress[id]
	if !ok {
		r = &Record{ResourceID: id, State: StateIdle}
		a.progress[id] = r
	}
	fn(r)
	r.UpdatedAt = time.Now()
	a.updates.Publish(*r)
}

// completeLocked announces completion exactly once and schedules removal of
// the entry after the grace delay. Caller holds a.mu.
func (a *Aggregator) completeLocked(id string) {
	if a.pendingRemoval[id] {
		return
	}
	a.pendingRemoval[id] = true

	a.applyLocked(id, func(r *Record) {
		r.State = StateCompleted
		if r.Total > 0 {
			r.Bytes = r.Total
		}
	})

	a.timers[id] = time.AfterFunc(a.grace, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.removeLocked(id)
	})
}

// removeLocked drops all state for id. Caller holds a.mu.
func (a *Aggregator) removeLocked(id string) {
	if t, ok := a.timers[id]; ok {
		t.Stop()
		delete(a.timers, id)
	}
	if _, ok := a.progress[id]; !ok && !a.pendingRemoval[id] {
		return
	}
	delete(a.progress, id)
	delete(a.explicit, id)
	delete(a.pendingRemoval, id)
	if a.currentPlayback == id {
		a.currentPlayback = ""
	}
	a.updates.Publish(Record{ResourceID: id, State: StateIdle, UpdatedAt: time.Now()})
}

// Close stops pending removal timers and closes the update bus.
func (a *Aggregator) Close() {
	a.mu.Lock()
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
	a.mu.Unlock()
	a.updates.Close()
}

// FindSourceKeyForEvent maps an event's source hash back to the key of a
// displayed candidate: exact identity match first, then prefix/suffix,
// then substring against any known url. The empty result means the event
// is not attributable to a visible row and should be dropped.
func FindSourceKeyForEvent(sourceHash string, cands []source.Candidate) (string, bool) {
	if sourceHash == "" {
		return "", false
	}
	hash := strings.ToLower(sourceHash)

	for i := range cands {
		for _, identity := range []string{cands[i].InfoHash, strings.ToLower(cands[i].ID)} {
			if identity == "" {
				continue
			}
			if identity == hash || strings.HasPrefix(identity, hash) || strings.HasSuffix(identity, hash) ||
				strings.HasPrefix(hash, identity) || strings.HasSuffix(hash, identity) {
				return cands[i].Key(i), true
			}
		}
	}
	for i := range cands {
		for _, u := range []string{cands[i].URL, cands[i].StreamURL, cands[i].MagnetURI} {
			if u != "" && strings.Contains(strings.ToLower(u), hash) {
				return cands[i].Key(i), true
			}
		}
	}
	return "", false
}
