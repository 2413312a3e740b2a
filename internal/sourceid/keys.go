package sourceid

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SourceKey derives the session-scoped key for a candidate source from its
// identity fields. The first non-empty field wins so the key stays stable
// across renders of the same result set; the positional index is only a
// fallback for sources with no usable identity at all.
func SourceKey(hash, uri, id, rawURL string, index int) string {
	switch {
	case hash != "":
		return hash
	case uri != "":
		return uri
	case id != "":
		return id
	case rawURL != "":
		return rawURL
	default:
		return strconv.Itoa(index)
	}
}

// ResourceID builds the correlation identifier shared with the byte-fetcher:
// sanitized trackID, the source type and the sanitized source hash joined
// with underscores. The fetcher derives the same identifier independently,
// so the sanitization rule here is a cross-boundary contract and must not
// change.
func ResourceID(trackID, sourceType, sourceHash string) string {
	var b strings.Builder
	b.Grow(len(trackID) + len(sourceType) + len(sourceHash) + 2)
	writeSanitized(&b, trackID)
	b.WriteByte('_')
	b.WriteString(sourceType)
	b.WriteByte('_')
	writeSanitized(&b, sourceHash)
	return b.String()
}

func writeSanitized(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
}

// NormalizeText canonicalizes a string for fuzzy filename-to-title matching:
// NFKD decomposition, combining marks and punctuation/symbol categories
// stripped, separators collapsed to single spaces, lowercased and trimmed.
func NormalizeText(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// Combining mark left over from decomposition.
		case r == '_' || r == '-':
			b.WriteByte(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
