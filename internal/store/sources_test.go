package store

import (
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func testStore(t *testing.T) *SourceStore {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSourceStore(db, zap.NewNop())
}

func countSelected(t *testing.T, s *SourceStore, trackID string) int {
	t.Helper()
	sources, err := s.Get(trackID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	n := 0
	for _, src := range sources {
		if src.Selected {
			n++
		}
	}
	return n
}

var (
	hashA = strings.Repeat("a", 40)
	hashB = strings.Repeat("b", 40)
)

func seedSources(t *testing.T, s *SourceStore) {
	t.Helper()
	err := s.SetSources("track1", []TrackSource{
		{Kind: "torrent", Title: "Album FLAC", Hash: hashA, URL: "magnet:?xt=urn:btih:" + hashA, FileIndex: -1},
		{Kind: "torrent", Title: "Album MP3", Hash: hashB, URL: "magnet:?xt=urn:btih:" + hashB, FileIndex: -1},
		{Kind: "stream", Title: "My Song", Hash: "vid1", URL: "", FileIndex: -1},
	})
	if err != nil {
		t.Fatalf("SetSources failed: %v", err)
	}
}

func TestSetSourcesPreservesOrder(t *testing.T) {
	s := testStore(t)
	seedSources(t, s)

	sources, err := s.Get("track1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(sources))
	}
	for i, want := range []string{hashA, hashB, "vid1"} {
		if sources[i].Hash != want {
			t.Errorf("position %d hash = %q, want %q", i, sources[i].Hash, want)
		}
		if sources[i].Position != i {
			t.Errorf("position field = %d, want %d", sources[i].Position, i)
		}
	}
}

func TestSelectAtMostOneSelected(t *testing.T) {
	s := testStore(t)
	seedSources(t, s)

	steps := []*TrackSource{
		{Hash: hashA},
		{Hash: hashB},
		{Hash: "vid1"},
		nil,
		{Hash: hashB},
	}
	for _, sel := range steps {
		if err := s.Select("track1", sel); err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		want := 1
		if sel == nil {
			want = 0
		}
		if got := countSelected(t, s, "track1"); got != want {
			t.Fatalf("selected count = %d, want %d after selecting %+v", got, want, sel)
		}
	}

	selected, err := s.Selected("track1")
	if err != nil {
		t.Fatalf("Selected failed: %v", err)
	}
	if selected == nil || selected.Hash != hashB {
		t.Errorf("selected = %+v, want hash %s", selected, hashB)
	}
}

func TestSelectMatchPriority(t *testing.T) {
	s := testStore(t)
	if err := s.SetSources("track1", []TrackSource{
		{Kind: "local", Title: "local copy", FilePath: "/music/song.flac", FileIndex: -1},
		{Kind: "http", Title: "direct", URL: "https://cdn.example.com/song.mp3", FileIndex: -1},
	}); err != nil {
		t.Fatalf("SetSources failed: %v", err)
	}

	// File-path match beats url match when the record has no hash.
	if err := s.Select("track1", &TrackSource{FilePath: "/music/song.flac", URL: "https://other.example.com/x"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	selected, _ := s.Selected("track1")
	if selected == nil || selected.FilePath != "/music/song.flac" {
		t.Errorf("selected = %+v, want file-path match", selected)
	}

	// URL match when neither hash nor file path matches.
	if err := s.Select("track1", &TrackSource{URL: "https://cdn.example.com/song.mp3"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	selected, _ = s.Selected("track1")
	if selected == nil || selected.URL != "https://cdn.example.com/song.mp3" {
		t.Errorf("selected = %+v, want url match", selected)
	}
}

func TestSelectAppendsUnknownSource(t *testing.T) {
	s := testStore(t)
	seedSources(t, s)

	newHash := strings.Repeat("c", 40)
	if err := s.Select("track1", &TrackSource{
		Kind: "torrent", Title: "new find", Hash: newHash, FileIndex: 1,
	}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	sources, err := s.Get("track1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sources) != 4 {
		t.Fatalf("got %d sources, want 4 after append", len(sources))
	}
	last := sources[3]
	if !last.Selected || last.Hash != newHash || last.FileIndex != 1 {
		t.Errorf("appended record = %+v", last)
	}
	if countSelected(t, s, "track1") != 1 {
		t.Error("append broke the at-most-one-selected invariant")
	}
}

func TestSelectNullClearsWithoutRemoving(t *testing.T) {
	s := testStore(t)
	seedSources(t, s)

	if err := s.Select("track1", &TrackSource{Hash: hashA}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := s.Select("track1", nil); err != nil {
		t.Fatalf("Select(nil) failed: %v", err)
	}

	sources, err := s.Get("track1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sources) != 3 {
		t.Errorf("clearing selection removed records: %d left", len(sources))
	}
	if countSelected(t, s, "track1") != 0 {
		t.Error("selection flags not cleared")
	}
}

func TestSelectionObserverFiresAfterCommit(t *testing.T) {
	s := testStore(t)
	seedSources(t, s)

	var observed []string
	s.OnSelectionChanged(func(trackID string) {
		// The write must be durable by the time the observer runs.
		sel, err := s.Selected(trackID)
		if err != nil {
			t.Errorf("Selected inside observer failed: %v", err)
		}
		if sel == nil {
			t.Error("observer saw no selection")
			return
		}
		observed = append(observed, sel.Hash)
	})

	if err := s.Select("track1", &TrackSource{Hash: hashB}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(observed) != 1 || observed[0] != hashB {
		t.Errorf("observed = %v, want [%s]", observed, hashB)
	}
}

func TestSelectUpdatesFileIndexOnExistingRecord(t *testing.T) {
	s := testStore(t)
	seedSources(t, s)

	if err := s.Select("track1", &TrackSource{Hash: hashA, FileIndex: 2}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	selected, _ := s.Selected("track1")
	if selected == nil || selected.FileIndex != 2 {
		t.Errorf("selected = %+v, want file_index 2", selected)
	}
}

func TestKVStoreRoundTrip(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	defer db.Close()
	kv := NewKVStore(db)

	if _, ok, err := kv.Get("missing"); err != nil || ok {
		t.Errorf("Get missing = ok=%v err=%v, want absent", ok, err)
	}

	if err := kv.Set("ui_state", []byte(`{"volume":80}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := kv.Set("ui_state", []byte(`{"volume":55}`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	value, ok, err := kv.Get("ui_state")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != `{"volume":55}` {
		t.Errorf("value = %s", value)
	}

	if err := kv.Delete("ui_state"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := kv.Get("ui_state"); ok {
		t.Error("value survived delete")
	}
	if err := kv.Delete("ui_state"); err != nil {
		t.Errorf("deleting absent key errored: %v", err)
	}
}
