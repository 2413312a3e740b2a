package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	bus := NewBus[Event](zap.NewNop())

	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(Event{Type: EventProgress, TrackID: "t1", SourceHash: "h1", Bytes: 10, Total: 100})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != EventProgress || e.Bytes != 10 {
				t.Errorf("unexpected event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	cancel1()
	cancel1() // second call must be harmless

	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel not closed")
	}
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}

	// Publishing to the remaining subscriber still works.
	bus.Publish(Event{Type: EventComplete})
	select {
	case e := <-ch2:
		if e.Type != EventComplete {
			t.Errorf("event type = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber did not receive event")
	}
}

func TestBusFullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus[Event](zap.NewNop())
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventProgress, Bytes: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[PlaybackEvent](zap.NewNop())
	ch, _ := bus.Subscribe(1)
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("channel not closed on bus Close")
	}
	// Publish after Close must not panic.
	bus.Publish(PlaybackEvent{Type: PlaybackProgress})
}

func TestEventResourceID(t *testing.T) {
	e := Event{TrackID: "track/1", SourceType: "torrent", SourceHash: "abc DEF"}
	want := "track_1_torrent_abc_DEF"
	if got := e.ResourceID(); got != want {
		t.Errorf("ResourceID = %q, want %q", got, want)
	}
}

func TestClientStartAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/fetch":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			w.WriteHeader(http.StatusAccepted)
		case "/api/v1/cache/status":
			q := r.URL.Query()
			if q.Get("track_id") != "t1" || q.Get("file_index") != "2" {
				t.Errorf("unexpected query: %v", q)
			}
			w.Write([]byte(`{"inflight":true,"bytes_downloaded":512,"total_bytes":1024}`))
		case "/api/v1/cache/exists":
			w.Write([]byte(`{"exists":true}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	err := c.Start(ctx, StartRequest{
		TrackID: "t1", SourceType: "torrent", SourceHash: "abc", URL: "magnet:?xt=x", FileIndex: 2,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.Start(ctx, StartRequest{TrackID: "t1", SourceHash: "abc"}); err == nil {
		t.Error("Start without url should fail validation")
	}

	status, err := c.Status(ctx, "t1", "torrent", "abc", 2)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Inflight || status.Bytes != 512 || status.Total != 1024 {
		t.Errorf("unexpected status: %+v", status)
	}

	exists, err := c.Exists(ctx, "t1", "torrent", "abc", NoFileIndex)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists = false, want true")
	}
}
