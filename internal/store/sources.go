package store

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/monitoring"
)

// TrackSource is one durable candidate-source record for a track. Hash is
// the source's identity (info-hash or stream descriptor id), FilePath a
// local file where applicable, URL the magnet/stream/http location.
// FileIndex is the chosen file inside a multi-file source, -1 when unset.
type TrackSource struct {
	ID        int64
	TrackID   string
	Position  int
	Kind      string
	Title     string
	Hash      string
	URL       string
	FilePath  string
	FileIndex int
	Selected  bool
}

// Matches reports identity equality against another record, in the
// selection match priority: hash, then file path, then url.
func (s *TrackSource) Matches(other *TrackSource) bool {
	if s.Hash != "" && other.Hash != "" {
		return s.Hash == other.Hash
	}
	if s.FilePath != "" && other.FilePath != "" {
		return s.FilePath == other.FilePath
	}
	if s.URL != "" && other.URL != "" {
		return s.URL == other.URL
	}
	return false
}

// SourceStore persists per-track source arrays and the at-most-one-selected
// invariant. All writes for a track happen inside one transaction.
type SourceStore struct {
	db     *sql.DB
	logger *zap.Logger

	mu        sync.Mutex
	observers []func(trackID string)
}

// NewSourceStore creates a SourceStore over an initialized database.
func NewSourceStore(db *sql.DB, logger *zap.Logger) *SourceStore {
	return &SourceStore{db: db, logger: logger}
}

// OnSelectionChanged registers an observer invoked after a Select commits.
// The write is durable before the observer runs, so observers reading the
// store see consistent state.
func (s *SourceStore) OnSelectionChanged(fn func(trackID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Get returns the stored sources for a track in position order.
func (s *SourceStore) Get(trackID string) ([]TrackSource, error) {
	rows, err := s.db.Query(`
		SELECT id, track_id, position, kind, title, hash, url, file_path, file_index, selected
		FROM track_sources WHERE track_id = ? ORDER BY position`, trackID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to read track sources", err)
	}
	defer rows.Close()

	var out []TrackSource
	for rows.Next() {
		var ts TrackSource
		var selected int
		if err := rows.Scan(&ts.ID, &ts.TrackID, &ts.Position, &ts.Kind, &ts.Title,
			&ts.Hash, &ts.URL, &ts.FilePath, &ts.FileIndex, &selected); err != nil {
			return nil, apperrors.NewPersistenceError("failed to scan track source", err)
		}
		ts.Selected = selected != 0
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("failed to iterate track sources", err)
	}
	return out, nil
}

// Selected returns the selected source for a track, nil when none.
func (s *SourceStore) Selected(trackID string) (*TrackSource, error) {
	sources, err := s.Get(trackID)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		if sources[i].Selected {
			return &sources[i], nil
		}
	}
	return nil, nil
}

// SetSources replaces the whole source array for a track, preserving
// supplied order. Selection flags on the new records are honored as given.
func (s *SourceStore) SetSources(trackID string, sources []TrackSource) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.NewPersistenceError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM track_sources WHERE track_id = ?", trackID); err != nil {
		return apperrors.NewPersistenceError("failed to clear track sources", err)
	}
	if err := insertAll(tx, trackID, sources); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("failed to commit track sources", err)
	}
	return nil
}

// Select marks one source as selected for a track, appending it first when
// no stored record matches (priority: hash, file path, url). A nil source
// clears every selection flag without removing records. The whole
// read-modify-write runs in one transaction.
func (s *SourceStore) Select(trackID string, selection *TrackSource) error {
	err := s.selectTx(trackID, selection)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	monitoring.SelectionWritesTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return err
	}

	s.mu.Lock()
	observers := make([]func(string), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(trackID)
	}
	return nil
}

func (s *SourceStore) selectTx(trackID string, selection *TrackSource) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.NewPersistenceError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE track_sources SET selected = 0, updated_at = CURRENT_TIMESTAMP WHERE track_id = ?",
		trackID); err != nil {
		return apperrors.NewPersistenceError("failed to clear selection", err)
	}

	if selection != nil {
		matchID, err := findMatch(tx, trackID, selection)
		if err != nil {
			return err
		}

		if matchID != 0 {
			if _, err := tx.Exec(`
				UPDATE track_sources
				SET selected = 1, file_index = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?`, selection.FileIndex, matchID); err != nil {
				return apperrors.NewPersistenceError("failed to mark selection", err)
			}
		} else {
			var maxPos sql.NullInt64
			if err := tx.QueryRow(
				"SELECT MAX(position) FROM track_sources WHERE track_id = ?", trackID).Scan(&maxPos); err != nil {
				return apperrors.NewPersistenceError("failed to read positions", err)
			}
			pos := 0
			if maxPos.Valid {
				pos = int(maxPos.Int64) + 1
			}
			if _, err := tx.Exec(`
				INSERT INTO track_sources (track_id, position, kind, title, hash, url, file_path, file_index, selected)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				trackID, pos, selection.Kind, selection.Title, selection.Hash,
				selection.URL, selection.FilePath, selection.FileIndex); err != nil {
				return apperrors.NewPersistenceError("failed to append selection", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("failed to commit selection", err)
	}

	if selection != nil {
		s.logger.Debug("source selected",
			zap.String("track_id", trackID), zap.String("hash", selection.Hash))
	} else {
		s.logger.Debug("selection cleared", zap.String("track_id", trackID))
	}
	return nil
}

// findMatch returns the row id of the stored record matching the selection
// by hash, then file path, then url. Zero means no match.
func findMatch(tx *sql.Tx, trackID string, sel *TrackSource) (int64, error) {
	queries := []struct {
		field, value string
	}{
		{"hash", sel.Hash},
		{"file_path", sel.FilePath},
		{"url", sel.URL},
	}
	for _, q := range queries {
		if q.value == "" {
			continue
		}
		var id int64
		err := tx.QueryRow(fmt.Sprintf(
			"SELECT id FROM track_sources WHERE track_id = ? AND %s = ? ORDER BY position LIMIT 1", q.field),
			trackID, q.value).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, apperrors.NewPersistenceError("failed to match selection", err)
		}
		return id, nil
	}
	return 0, nil
}

func insertAll(tx *sql.Tx, trackID string, sources []TrackSource) error {
	stmt, err := tx.Prepare(`
		INSERT INTO track_sources (track_id, position, kind, title, hash, url, file_path, file_index, selected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperrors.NewPersistenceError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for i, src := range sources {
		selected := 0
		if src.Selected {
			selected = 1
		}
		if _, err := stmt.Exec(trackID, i, src.Kind, src.Title, src.Hash,
			src.URL, src.FilePath, src.FileIndex, selected); err != nil {
			return apperrors.NewPersistenceError("failed to insert track source", err)
		}
	}
	return nil
}
