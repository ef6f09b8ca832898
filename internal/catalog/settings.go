package catalog

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertSettings stores the viewer payload for one series combination
// on one study date, replacing any earlier payload.
func (s *Store) UpsertSettings(combinationID, studyDate, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO viewer_settings (combination_id, study_date, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(combination_id, study_date)
		DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		combinationID, studyDate, payload)
	if err != nil {
		return fmt.Errorf("upsert settings %s/%s: %w", combinationID, studyDate, err)
	}
	return nil
}

// GetSettings fetches the stored viewer payload, or ErrNotFound.
func (s *Store) GetSettings(combinationID, studyDate string) (string, error) {
	var payload string
	err := s.db.Get(&payload, `
		SELECT payload FROM viewer_settings
		WHERE combination_id = ? AND study_date = ?`, combinationID, studyDate)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return payload, nil
}
