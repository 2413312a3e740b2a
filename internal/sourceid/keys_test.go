package sourceid

import "testing"

func TestSourceKeyPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		uri      string
		id       string
		url      string
		index    int
		expected string
	}{
		{"hash wins", "abc123", "magnet:?xt=x", "id1", "http://x", 0, "abc123"},
		{"uri when no hash", "", "magnet:?xt=x", "id1", "http://x", 0, "magnet:?xt=x"},
		{"id when no hash or uri", "", "", "id1", "http://x", 0, "id1"},
		{"url as last identity", "", "", "", "http://x", 0, "http://x"},
		{"positional fallback", "", "", "", "", 7, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SourceKey(tt.hash, tt.uri, tt.id, tt.url, tt.index)
			if got != tt.expected {
				t.Errorf("SourceKey() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSourceKeyStable(t *testing.T) {
	first := SourceKey("", "", "stream-42", "", 3)
	for i := 0; i < 100; i++ {
		if got := SourceKey("", "", "stream-42", "", 3); got != first {
			t.Fatalf("SourceKey not stable: got %q, want %q", got, first)
		}
	}
}

func TestResourceID(t *testing.T) {
	tests := []struct {
		name       string
		trackID    string
		sourceType string
		sourceHash string
		expected   string
	}{
		{
			"clean inputs pass through",
			"12345", "torrent", "deadbeefdeadbeef",
			"12345_torrent_deadbeefdeadbeef",
		},
		{
			"special chars replaced",
			"track:1/2", "stream", "id with spaces",
			"track_1_2_stream_id_with_spaces",
		},
		{
			"allowed chars preserved",
			"a-b_C9", "http", "x-y_Z",
			"a-b_C9_http_x-y_Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResourceID(tt.trackID, tt.sourceType, tt.sourceHash)
			if got != tt.expected {
				t.Errorf("ResourceID() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestResourceIDDeterministic(t *testing.T) {
	a := ResourceID("track#1", "torrent", "hash/slash")
	b := ResourceID("track#1", "torrent", "hash/slash")
	if a != b {
		t.Errorf("ResourceID not deterministic: %q vs %q", a, b)
	}
}

func TestResourceIDDistinguishesComponents(t *testing.T) {
	ids := map[string]string{
		"base":       ResourceID("t1", "torrent", "h1"),
		"track":      ResourceID("t2", "torrent", "h1"),
		"sourceType": ResourceID("t1", "stream", "h1"),
		"hash":       ResourceID("t1", "torrent", "h2"),
	}
	seen := make(map[string]string)
	for name, id := range ids {
		if prev, ok := seen[id]; ok {
			t.Errorf("collision between %s and %s: %q", prev, name, id)
		}
		seen[id] = name
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "Track Name", "track name"},
		{"collapse runs", "a__b--c   d", "a b c d"},
		{"strip punctuation", "What's Up? (Remix)!", "whats up remix"},
		{"trim", "  padded  ", "padded"},
		{"diacritics folded", "Beyoncé — Café", "beyonce cafe"},
		{"empty", "", ""},
		{"symbols stripped", "A + B = C", "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.expected {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
