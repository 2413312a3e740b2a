package filelist

import (
	"path"
	"strings"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/source"
	"github.com/soundrift/soundrift-go/internal/sourceid"
)

// audioExtensions is the playable-file allow-list. Anything else in a
// listing is treated as packaging noise (covers, nfo files, samples).
var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".wav":  true,
	".ogg":  true,
	".aac":  true,
	".opus": true,
	".webm": true,
}

// NoOverride marks the absence of a persisted file-index override.
const NoOverride = -1

// IsAudioFile reports whether a listed file name carries a playable audio
// extension.
func IsAudioFile(name string) bool {
	return audioExtensions[strings.ToLower(path.Ext(name))]
}

// MatchingFiles returns every listed file whose normalized name contains
// the normalized track title, in listing order. When any match carries a
// playable audio extension the result is narrowed to that subset; the
// non-audio matches only survive as a fallback when no audio match exists.
// The full result is what a UI presents when asking the user to pick a
// file explicitly.
func MatchingFiles(files []source.FileEntry, trackTitle string) []source.FileEntry {
	want := sourceid.NormalizeText(trackTitle)
	if want == "" {
		return nil
	}

	var all, audio []source.FileEntry
	for _, f := range files {
		if !strings.Contains(sourceid.NormalizeText(f.Name), want) {
			continue
		}
		all = append(all, f)
		if IsAudioFile(f.Name) {
			audio = append(audio, f)
		}
	}
	if len(audio) > 0 {
		return audio
	}
	return all
}

// ChooseFile picks which entry of a listing should play for a track.
//
// A valid override (a persisted file index that still refers to a playable
// file) wins outright. Otherwise the first title match is chosen (audio
// matches preferred, see MatchingFiles), then the first audio file at all.
// Listings with no playable file and no title match yield a not-found
// error.
func ChooseFile(files []source.FileEntry, trackTitle string, override int) (source.FileEntry, error) {
	if override != NoOverride {
		for _, f := range files {
			if f.Index == override && IsAudioFile(f.Name) {
				return f, nil
			}
		}
		// Stale override: the listing changed underneath it. Fall through
		// to title matching rather than failing the play request.
	}

	if matches := MatchingFiles(files, trackTitle); len(matches) > 0 {
		return matches[0], nil
	}

	for _, f := range files {
		if IsAudioFile(f.Name) {
			return f, nil
		}
	}

	return source.FileEntry{}, apperrors.NewNotFoundError("no playable file in source")
}
