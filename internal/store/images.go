package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"
)

type ImageRecord struct {
	ID             int64
	Filepath       string
	Sender         string
	SenderRelation string
	Description    string
	Categories     []string
	SourceURL      string
	Timestamp      time.Time
}

func (s *Store) SaveImage(r ImageRecord) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO images (filepath, sender, sender_relation, description, categories, source_url, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Filepath, r.Sender, r.SenderRelation, r.Description,
			strings.Join(r.Categories, ","), r.SourceURL, r.Timestamp.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *Store) RecentImages(limit int, sender string) ([]ImageRecord, error) {
	q := `SELECT id, filepath, sender, sender_relation, description, categories, source_url, timestamp
		FROM images`
	args := []any{}
	if sender != "" {
		q += ` WHERE sender = ?`
		args = append(args, sender)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []ImageRecord
	for rows.Next() {
		var r ImageRecord
		var cats, ts string
		if err := rows.Scan(&r.ID, &r.Filepath, &r.Sender, &r.SenderRelation,
			&r.Description, &cats, &r.SourceURL, &ts); err != nil {
			return nil, err
		}
		if cats != "" {
			r.Categories = strings.Split(cats, ",")
		}
		r.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneImages deletes rows older than the cutoff together with their files.
// The row goes first so a missing file never resurrects.
func (s *Store) PruneImages(cutoff time.Time) (int, error) {
	rows, err := s.db.Query(`SELECT id, filepath FROM images WHERE timestamp < ?`,
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("query old images: %w", err)
	}
	type victim struct {
		id   int64
		path string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
	}
	rows.Close()

	deleted := 0
	for _, v := range victims {
		err := s.withTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(`DELETE FROM images WHERE id = ?`, v.id)
			return err
		})
		if err != nil {
			return deleted, err
		}
		_ = os.Remove(v.path)
		deleted++
	}
	return deleted, nil
}
