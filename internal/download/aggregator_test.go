package download

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/soundrift-go/internal/fetcher"
	"github.com/soundrift/soundrift-go/internal/source"
)

func cacheProgress(bytes, total int64) fetcher.Event {
	return fetcher.Event{
		Type:    fetcher.EventProgress,
		TrackID: "track1", SourceType: "torrent", SourceHash: "abcdef",
		Bytes: bytes, Total: total,
	}
}

func TestCompletionAnnouncedExactlyOnce(t *testing.T) {
	a := NewAggregator(zap.NewNop(), time.Hour)
	defer a.Close()

	updates, cancel := a.Updates(32)
	defer cancel()

	a.HandleCacheEvent(cacheProgress(10, 100))
	a.HandleCacheEvent(cacheProgress(100, 100))
	a.HandleCacheEvent(cacheProgress(100, 100)) // duplicate after completion
	a.HandleCacheEvent(fetcher.Event{
		Type:    fetcher.EventComplete,
		TrackID: "track1", SourceType: "torrent", SourceHash: "abcdef",
	})

	completed := 0
	sawDownloading := false
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case u := <-updates:
			if u.State == StateDownloading {
				sawDownloading = true
			}
			if u.State == StateCompleted {
				completed++
			}
		case <-timeout:
			t.Fatal("updates did not arrive")
		default:
			break drain
		}
	}

	if !sawDownloading {
		t.Error("no downloading update observed")
	}
	if completed != 1 {
		t.Errorf("completed announced %d times, want exactly 1", completed)
	}
}

func TestCompletedEntryRemovedAfterGrace(t *testing.T) {
	a := NewAggregator(zap.NewNop(), 20*time.Millisecond)
	defer a.Close()

	a.HandleCacheEvent(cacheProgress(100, 100))
	ev := cacheProgress(0, 0)
	id := ev.ResourceID()

	if rec, ok := a.Progress(id); !ok || rec.State != StateCompleted {
		t.Fatalf("expected completed entry, got %+v ok=%v", rec, ok)
	}

	deadline := time.After(time.Second)
	for {
		if _, ok := a.Progress(id); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("entry not removed after grace delay")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExplicitEventsWinOverPlaybackProgress(t *testing.T) {
	a := NewAggregator(zap.NewNop(), time.Hour)
	defer a.Close()

	a.HandleCacheEvent(cacheProgress(40, 100))
	ev := cacheProgress(0, 0)
	id := ev.ResourceID()

	a.HandlePlaybackEvent(fetcher.PlaybackEvent{
		Type:       fetcher.PlaybackProgress,
		ResourceID: id,
		Bytes:      99, Total: 100,
	})

	rec, ok := a.Progress(id)
	if !ok {
		t.Fatal("no record")
	}
	if rec.Bytes != 40 {
		t.Errorf("bytes = %d, playback progress must not override explicit stream", rec.Bytes)
	}
}

func TestPlaybackProgressFallsBackToLastAck(t *testing.T) {
	a := NewAggregator(zap.NewNop(), time.Hour)
	defer a.Close()

	a.HandlePlaybackEvent(fetcher.PlaybackEvent{
		Type:    fetcher.PlaybackStarted,
		TrackID: "track1", SourceType: "stream", SourceHash: "vid1",
	})
	a.HandlePlaybackEvent(fetcher.PlaybackEvent{
		Type:  fetcher.PlaybackProgress,
		Bytes: 30, Total: 100,
	})

	id := (&fetcher.Event{TrackID: "track1", SourceType: "stream", SourceHash: "vid1"}).ResourceID()
	rec, ok := a.Progress(id)
	if !ok {
		t.Fatal("progress without id did not apply to acked resource")
	}
	if rec.Bytes != 30 || rec.State != StateDownloading {
		t.Errorf("unexpected record: %+v", rec)
	}

	// Progress with no id and no prior ack is dropped.
	b := NewAggregator(zap.NewNop(), time.Hour)
	defer b.Close()
	b.HandlePlaybackEvent(fetcher.PlaybackEvent{Type: fetcher.PlaybackProgress, Bytes: 1, Total: 2})
	if len(b.progress) != 0 {
		t.Error("unattributable playback progress was tracked")
	}
}

func TestPlaybackCompletionAlsoAnnouncesOnce(t *testing.T) {
	a := NewAggregator(zap.NewNop(), time.Hour)
	defer a.Close()

	a.HandlePlaybackEvent(fetcher.PlaybackEvent{
		Type:    fetcher.PlaybackStarted,
		TrackID: "t", SourceType: "stream", SourceHash: "v",
	})
	a.HandlePlaybackEvent(fetcher.PlaybackEvent{Type: fetcher.PlaybackProgress, Bytes: 100, Total: 100})
	a.HandlePlaybackEvent(fetcher.PlaybackEvent{Type: fetcher.PlaybackProgress, Bytes: 100, Total: 100})

	id := (&fetcher.Event{TrackID: "t", SourceType: "stream", SourceHash: "v"}).ResourceID()
	rec, ok := a.Progress(id)
	if !ok || rec.State != StateCompleted {
		t.Errorf("record = %+v ok=%v, want completed", rec, ok)
	}
}

func TestRemovedEventDropsState(t *testing.T) {
	a := NewAggregator(zap.NewNop(), time.Hour)
	defer a.Close()

	a.HandleCacheEvent(cacheProgress(10, 100))
	ev := cacheProgress(0, 0)
	id := ev.ResourceID()
	a.HandleCacheEvent(fetcher.Event{
		Type:    fetcher.EventRemoved,
		TrackID: "track1", SourceType: "torrent", SourceHash: "abcdef",
	})

	if _, ok := a.Progress(id); ok {
		t.Error("record survived removed event")
	}

	// After removal, playback progress may own the resource again.
	a.HandlePlaybackEvent(fetcher.PlaybackEvent{
		Type:       fetcher.PlaybackProgress,
		ResourceID: id,
		Bytes:      5, Total: 100,
	})
	if rec, ok := a.Progress(id); !ok || rec.Bytes != 5 {
		t.Errorf("playback progress after removal not applied: %+v ok=%v", rec, ok)
	}
}

func TestFindSourceKeyForEvent(t *testing.T) {
	hashA := strings.Repeat("a", 40)
	cands := []source.Candidate{
		{Kind: source.KindStream, ID: "vid123"},
		{Kind: source.KindTorrent, InfoHash: hashA, MagnetURI: "magnet:?xt=urn:btih:" + hashA},
		{Kind: source.KindHTTP, URL: "https://cdn.example.com/files/xyz789/track.mp3"},
	}

	tests := []struct {
		name string
		hash string
		want string
		ok   bool
	}{
		{"exact info-hash", hashA, cands[1].Key(1), true},
		{"exact stream id", "vid123", cands[0].Key(0), true},
		{"prefix of identity", hashA[:20], cands[1].Key(1), true},
		{"substring of url", "xyz789", cands[2].Key(2), true},
		{"unmatched", strings.Repeat("f", 40), "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindSourceKeyForEvent(tt.hash, cands)
			if ok != tt.ok || got != tt.want {
				t.Errorf("FindSourceKeyForEvent(%q) = (%q, %v), want (%q, %v)",
					tt.hash, got, ok, tt.want, tt.ok)
			}
		})
	}
}
