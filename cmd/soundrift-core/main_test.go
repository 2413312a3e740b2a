package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/soundrift/soundrift-go/internal/provider"
	"github.com/soundrift/soundrift-go/internal/resolver"
	"github.com/soundrift/soundrift-go/internal/source"
	"github.com/soundrift/soundrift-go/internal/store"
)

type fixedTorrents struct {
	results []provider.TorrentResult
}

func (f fixedTorrents) Search(ctx context.Context, query string) ([]provider.TorrentResult, error) {
	return f.results, nil
}

type fixedStreams struct {
	results []provider.StreamResult
}

func (f fixedStreams) Search(ctx context.Context, title, artist string) ([]provider.StreamResult, error) {
	return f.results, nil
}

func TestResolveHandler(t *testing.T) {
	res := resolver.New(
		fixedTorrents{},
		fixedStreams{results: []provider.StreamResult{{ID: "vid1", Title: "My Song"}}},
		zap.NewNop(), resolver.Config{})

	var (
		mu     sync.Mutex
		warmed []source.Candidate
	)
	handler := resolveHandler(zap.NewNop(), res, func(cands []source.Candidate) {
		mu.Lock()
		warmed = append(warmed, cands...)
		mu.Unlock()
	})

	body, _ := json.Marshal(map[string]any{
		"track_id": "t1", "title": "My Song", "artist": "Someone",
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/resolve", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var reply struct {
		Candidates []source.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(reply.Candidates) != 1 || reply.Candidates[0].ID != "vid1" {
		t.Errorf("candidates = %+v, want the one stream", reply.Candidates)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(warmed) != 1 {
		t.Errorf("warmed %d candidates, want 1", len(warmed))
	}
}

func TestResolveHandlerRejectsBadRequests(t *testing.T) {
	res := resolver.New(fixedTorrents{}, fixedStreams{}, zap.NewNop(), resolver.Config{})
	handler := resolveHandler(zap.NewNop(), res, func([]source.Candidate) {})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/resolve", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/resolve", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestKVHandlerRoundTrip(t *testing.T) {
	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	defer db.Close()

	handler := kvHandler(zap.NewNop(), store.NewKVStore(db))

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/kv/ui-state", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing key status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPut, "/kv/ui-state", strings.NewReader(`{"volume":80}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put status = %d, want 204: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/kv/ui-state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	if got, _ := io.ReadAll(rec.Body); string(got) != `{"volume":80}` {
		t.Errorf("value = %q, want the stored blob", got)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodDelete, "/kv/ui-state", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/kv/ui-state", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
}

func TestKVHandlerRejectsMissingKeyAndBadMethod(t *testing.T) {
	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	defer db.Close()

	handler := kvHandler(zap.NewNop(), store.NewKVStore(db))

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/kv/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty key status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPatch, "/kv/ui-state", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("patch status = %d, want 405", rec.Code)
	}
}
