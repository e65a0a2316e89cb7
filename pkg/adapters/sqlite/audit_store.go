// Package sqlite provides an append-only audit log backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
)

// AuditStore is a SQLite implementation of ports.AuditStore.
// Rows are only ever inserted; ids come from AUTOINCREMENT.
type AuditStore struct {
	db *sql.DB
}

var _ ports.AuditStore = (*AuditStore)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &AuditStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *AuditStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_conversation ON audit_log(conversation_id, created_at, id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Append inserts one record.
func (s *AuditStore) Append(ctx context.Context, conversationID, stage string, payload json.RawMessage) (*domain.AuditRecord, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (conversation_id, stage, payload, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, stage, string(payload), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit record id: %w", err)
	}

	return &domain.AuditRecord{
		ID:             id,
		ConversationID: conversationID,
		Stage:          stage,
		Payload:        append(json.RawMessage(nil), payload...),
		CreatedAt:      now,
	}, nil
}

// Query returns the records of a conversation in creation order.
func (s *AuditStore) Query(ctx context.Context, conversationID string) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, stage, payload, created_at FROM audit_log
		WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		var (
			rec     domain.AuditRecord
			payload string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.Stage, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		rec.CreatedAt = time.Unix(0, created).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return records, nil
}

// Count returns the total number of records.
func (s *AuditStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
