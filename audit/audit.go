// Package audit persists per-stage records and synthesized audio blobs.
// Audit rows are best-effort: workers log and drop write failures rather
// than fail the task, so nothing here may be load-bearing for a task result
// except the audio blob a TTS result points at.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schema for the three audit tables. Portable across sqlite and postgres
// (BLOB maps to BYTEA via the pgx stdlib driver's byte-slice handling when
// the tables are created with migrateStatements below).
var migrateStatements = []string{
	`CREATE TABLE IF NOT EXISTS stt_transcriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audio_filename TEXT NOT NULL,
		transcription TEXT NOT NULL,
		audio_data BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS llm_exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tts_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		audio_filename TEXT NOT NULL,
		audio_data BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

var migratePostgres = []string{
	`CREATE TABLE IF NOT EXISTS stt_transcriptions (
		id SERIAL PRIMARY KEY,
		audio_filename TEXT NOT NULL,
		transcription TEXT NOT NULL,
		audio_data BYTEA NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS llm_exchanges (
		id SERIAL PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tts_results (
		id SERIAL PRIMARY KEY,
		text TEXT NOT NULL,
		audio_filename TEXT NOT NULL,
		audio_data BYTEA NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// SQLRecorder writes audit rows through database/sql. The placeholder style
// is chosen once at construction from the driver name instead of retrying
// each statement in both styles.
type SQLRecorder struct {
	db       *sql.DB
	postgres bool
}

// NewSQLRecorder wraps db. driverName selects placeholder style; anything
// other than "pgx" and "postgres" uses '?' placeholders.
func NewSQLRecorder(db *sql.DB, driverName string) *SQLRecorder {
	return &SQLRecorder{db: db, postgres: driverName == "pgx" || driverName == "postgres"}
}

// Migrate creates the audit tables if they do not exist.
func (r *SQLRecorder) Migrate(ctx context.Context) error {
	stmts := migrateStatements
	if r.postgres {
		stmts = migratePostgres
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return nil
}

func (r *SQLRecorder) placeholders(q string) string {
	if !r.postgres {
		return q
	}
	out := make([]byte, 0, len(q)+8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, q[i])
	}
	return string(out)
}

func (r *SQLRecorder) SaveTranscription(ctx context.Context, filename, transcript string, audio []byte) error {
	q := r.placeholders(`INSERT INTO stt_transcriptions (audio_filename, transcription, audio_data, created_at)
		VALUES (?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q, filename, transcript, audio, time.Now().UTC()); err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	return nil
}

func (r *SQLRecorder) SaveExchange(ctx context.Context, question, answer string) error {
	q := r.placeholders(`INSERT INTO llm_exchanges (question, answer, created_at) VALUES (?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q, question, answer, time.Now().UTC()); err != nil {
		return fmt.Errorf("save exchange: %w", err)
	}
	return nil
}

func (r *SQLRecorder) SaveSpeech(ctx context.Context, text, filename string, audio []byte) error {
	q := r.placeholders(`INSERT INTO tts_results (text, audio_filename, audio_data, created_at)
		VALUES (?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q, text, filename, audio, time.Now().UTC()); err != nil {
		return fmt.Errorf("save speech: %w", err)
	}
	return nil
}
