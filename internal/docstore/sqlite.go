package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/protocol"
	_ "modernc.org/sqlite"
)

// ErrNoSnapshot reports that the database holds no saved state yet.
var ErrNoSnapshot = errors.New("no document snapshot")

const schemaVersion = 1

// Persister saves and restores full document snapshots in SQLite. Every
// save rewrites the whole snapshot in one transaction; documents are
// small and snapshots are coalesced by the runtime drain loop.
type Persister struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenPersister initializes the snapshot database according to config.
func OpenPersister(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Persister, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	p := &Persister{db: db, log: log}

	if err := p.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("document store vacuum failed", slog.String("error", err.Error()))
		}
	}

	return p, nil
}

func (p *Persister) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS meta (
    schema_version INTEGER NOT NULL,
    active_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_position ON documents(position);
`
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (p *Persister) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Save rewrites the persisted snapshot.
func (p *Persister) Save(ctx context.Context, docs []protocol.Document, activeID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM meta`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(schema_version, active_id) VALUES(?, ?)`,
		schemaVersion, activeID); err != nil {
		return err
	}
	for position, doc := range docs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO documents(id, position, title, content) VALUES(?, ?, ?, ?)`,
			doc.ID, position, doc.Title, doc.Content); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Load reads the persisted snapshot. ErrNoSnapshot means a fresh
// database; any other error means the saved state is unreadable and the
// caller should fall back to the default state.
func (p *Persister) Load(ctx context.Context) ([]protocol.Document, string, error) {
	var version int
	var activeID string
	err := p.db.QueryRowContext(ctx,
		`SELECT schema_version, active_id FROM meta LIMIT 1`).Scan(&version, &activeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNoSnapshot
	}
	if err != nil {
		return nil, "", fmt.Errorf("read meta: %w", err)
	}
	if version != schemaVersion {
		return nil, "", fmt.Errorf("unsupported snapshot schema version %d", version)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, title, content FROM documents ORDER BY position ASC`)
	if err != nil {
		return nil, "", fmt.Errorf("read documents: %w", err)
	}
	defer rows.Close()

	var docs []protocol.Document
	for rows.Next() {
		var doc protocol.Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content); err != nil {
			return nil, "", fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(docs) == 0 {
		return nil, "", ErrNoSnapshot
	}
	return docs, activeID, nil
}
