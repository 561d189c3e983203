// Package history keeps a sqlite record of generation runs and their articles.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusGenerated = "generated"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Run is one invocation of the tool against a source file
type Run struct {
	ID         string
	StartedAt  time.Time
	Backend    string
	Model      string
	SourceFile string
}

// Entry is the outcome of one heading
type Entry struct {
	RunID       string
	Title       string
	SourceFile  string
	Filename    string
	Status      string
	TotalTokens int64
	Error       string
	PromptKey   string
	CreatedAt   time.Time
}

// Store persists runs and entries
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createRunsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		backend TEXT,
		model TEXT,
		source_file TEXT
	);`

	createArticlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		title TEXT,
		source_file TEXT,
		filename TEXT,
		status TEXT,
		total_tokens INTEGER,
		error TEXT,
		prompt_key TEXT,
		created_at DATETIME,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);`

	createPromptKeyIndex := `
	CREATE INDEX IF NOT EXISTS idx_articles_prompt_key ON articles(prompt_key, status);`

	for _, stmt := range []string{createRunsTable, createArticlesTable, createPromptKeyIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new run
func (s *Store) StartRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at, backend, model, source_file) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.StartedAt, run.Backend, run.Model, run.SourceFile,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Record stores the outcome of one heading
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (run_id, title, source_file, filename, status, total_tokens, error, prompt_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Title, e.SourceFile, e.Filename, e.Status, e.TotalTokens, e.Error, e.PromptKey, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save article entry: %w", err)
	}
	return nil
}

// LastGenerated returns the file name of the most recent successful article for promptKey
func (s *Store) LastGenerated(ctx context.Context, promptKey string) (string, bool, error) {
	var filename string
	err := s.db.QueryRowContext(ctx,
		"SELECT filename FROM articles WHERE prompt_key = ? AND status = ? ORDER BY id DESC LIMIT 1",
		promptKey, StatusGenerated,
	).Scan(&filename)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query history: %w", err)
	}
	return filename, true, nil
}
