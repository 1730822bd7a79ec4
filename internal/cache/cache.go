// Package cache persists content-addressed results of the expensive
// collaborator calls: translated text keyed by text hash, and synthesized
// audio keyed by job scope, speaker, and text hash. Cache misses are always
// safe, so read errors degrade to misses and a corrupt database is
// recreated.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed content cache.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the cache database, creating or recreating it as needed.
func Open(path string) (*Store, error) {
	db, err := openAndMigrate(path)
	if err != nil {
		// A corrupt cache only costs recomputation. Start fresh.
		_ = os.Remove(path)
		db, err = openAndMigrate(path)
		if err != nil {
			return nil, fmt.Errorf("open cache db: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

func openAndMigrate(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, execErr
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS translations (
            text_hash TEXT PRIMARY KEY,
            target_text TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS synthesis (
            scope TEXT NOT NULL,
            speaker TEXT NOT NULL,
            text_hash TEXT NOT NULL,
            path TEXT NOT NULL,
            PRIMARY KEY (scope, speaker, text_hash)
        )`,
	}
	for _, stmt := range schema {
		if _, execErr := db.Exec(stmt); execErr != nil {
			_ = db.Close()
			return nil, execErr
		}
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Translation returns the cached translation for a text hash. A read error
// or absent row both report a miss.
func (s *Store) Translation(ctx context.Context, textHash string) (string, bool) {
	var target string
	err := s.db.QueryRowContext(ctx,
		`SELECT target_text FROM translations WHERE text_hash = ?`, textHash,
	).Scan(&target)
	if err != nil {
		return "", false
	}
	return target, true
}

// PutTranslation stores a translation, replacing any previous entry.
func (s *Store) PutTranslation(ctx context.Context, textHash, target string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations (text_hash, target_text) VALUES (?, ?)
         ON CONFLICT(text_hash) DO UPDATE SET target_text = excluded.target_text`,
		textHash, target,
	)
	if err != nil {
		return fmt.Errorf("cache translation: %w", err)
	}
	return nil
}

// Synthesis returns the cached clip path for a scope, speaker, and text
// hash. Speaker labels are diarization-assigned and only mean something
// within one recording, so callers scope entries by job. A stale row
// pointing at a deleted file reports a miss.
func (s *Store) Synthesis(ctx context.Context, scope, speaker, textHash string) (string, bool) {
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT path FROM synthesis WHERE scope = ? AND speaker = ? AND text_hash = ?`,
		scope, speaker, textHash,
	).Scan(&path)
	if err != nil {
		return "", false
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return "", false
	}
	return path, true
}

// PutSynthesis stores a synthesized clip path, replacing any previous entry.
func (s *Store) PutSynthesis(ctx context.Context, scope, speaker, textHash, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO synthesis (scope, speaker, text_hash, path) VALUES (?, ?, ?, ?)
         ON CONFLICT(scope, speaker, text_hash) DO UPDATE SET path = excluded.path`,
		scope, speaker, textHash, path,
	)
	if err != nil {
		return fmt.Errorf("cache synthesis: %w", err)
	}
	return nil
}
