package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shenoy37/voicenotes/internal/models"
)

// ErrNotFound is returned when a record does not exist or does not belong
// to the requesting user.
var ErrNotFound = errors.New("record not found")

// CreateNote inserts a new note for a user and returns it.
func (s *Store) CreateNote(userID int64, title, body string, category *string) (*models.Note, error) {
	now := time.Now()
	res, err := s.db.Exec(
		"INSERT INTO notes (user_id, title, body, category, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		userID, title, body, category, now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetNote(id, userID)
}

// GetNote retrieves a single note owned by the given user.
func (s *Store) GetNote(id, userID int64) (*models.Note, error) {
	var n models.Note
	err := s.db.QueryRow(
		`SELECT id, user_id, title, body, category, transcript, transcript_status, audio_path, created_at, updated_at
		 FROM notes WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Category, &n.Transcript, &n.TranscriptStatus, &n.AudioPath, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tags, err := s.getTagsForNote(n.ID)
	if err != nil {
		return nil, err
	}
	n.Tags = tags
	return &n, nil
}

// ListNotes returns all notes for a user, newest first. An empty category
// or tag filter matches everything.
func (s *Store) ListNotes(userID int64, category, tag string) ([]*models.Note, error) {
	query := `SELECT DISTINCT n.id, n.user_id, n.title, n.body, n.category, n.transcript, n.transcript_status, n.audio_path, n.created_at, n.updated_at
		FROM notes n`
	args := []interface{}{}
	if tag != "" {
		query += ` JOIN note_tags nt ON nt.note_id = n.id JOIN tags t ON t.id = nt.tag_id AND t.name = ?`
		args = append(args, tag)
	}
	query += ` WHERE n.user_id = ?`
	args = append(args, userID)
	if category != "" {
		query += ` AND n.category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY n.updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Category, &n.Transcript, &n.TranscriptStatus, &n.AudioPath, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// UpdateNote updates the editable fields of a note owned by the user.
func (s *Store) UpdateNote(id, userID int64, title, body string, category *string) error {
	res, err := s.db.Exec(
		"UPDATE notes SET title = ?, body = ?, category = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		title, body, category, time.Now(), id, userID,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNote removes a note owned by the user. Cascading deletes handle
// the tag associations.
func (s *Store) DeleteNote(id, userID int64) error {
	res, err := s.db.Exec("DELETE FROM notes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNoteAudioPath records the stored location of a note's audio recording.
func (s *Store) SetNoteAudioPath(id, userID int64, path string) error {
	_, err := s.db.Exec(
		"UPDATE notes SET audio_path = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		path, time.Now(), id, userID,
	)
	return err
}

// SetNoteTranscript mirrors the terminal state of a transcription job onto
// its note. Called exactly once per job, when the job finishes.
func (s *Store) SetNoteTranscript(id int64, transcript, status string) error {
	_, err := s.db.Exec(
		"UPDATE notes SET transcript = ?, transcript_status = ?, updated_at = ? WHERE id = ?",
		transcript, status, time.Now(), id,
	)
	return err
}

// AddTagToNote associates a tag (created on demand) with a note.
func (s *Store) AddTagToNote(noteID, userID int64, tagName string) (*models.Tag, error) {
	// Ownership check first; tagging someone else's note must fail.
	if _, err := s.GetNote(noteID, userID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var tagID int64
	err = tx.QueryRow("SELECT id FROM tags WHERE name = ?", tagName).Scan(&tagID)
	if err == sql.ErrNoRows {
		res, err := tx.Exec("INSERT INTO tags (name) VALUES (?)", tagName)
		if err != nil {
			return nil, err
		}
		tagID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	_, err = tx.Exec("INSERT OR IGNORE INTO note_tags (note_id, tag_id) VALUES (?, ?)", noteID, tagID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &models.Tag{ID: tagID, Name: tagName}, nil
}

// RemoveTagFromNote detaches a tag from a note owned by the user.
func (s *Store) RemoveTagFromNote(noteID, userID, tagID int64) error {
	if _, err := s.GetNote(noteID, userID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM note_tags WHERE note_id = ? AND tag_id = ?", noteID, tagID)
	return err
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags() ([]*models.Tag, error) {
	rows, err := s.db.Query("SELECT id, name FROM tags ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

func (s *Store) getTagsForNote(noteID int64) ([]*models.Tag, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.name FROM tags t JOIN note_tags nt ON nt.tag_id = t.id WHERE nt.note_id = ? ORDER BY t.name ASC`,
		noteID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags for note %d: %w", noteID, err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}
