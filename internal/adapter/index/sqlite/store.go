package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recalld/internal/domain"
)

// Store implements domain.Index backed by SQLite with embedding BLOBs.
//
// An in-memory vecIndex caches embeddings to avoid SQLite I/O on every
// search. The index is lazily loaded on the first search and incrementally
// updated on Insert/Purge operations.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
	vecIdx *vecIndex
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Store.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrIndexStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	// Pragmas for performance.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrIndexStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrIndexStore, err)
	}

	return &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		vecIdx: newVecIndex(),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert implements domain.Index. The upsert on id makes retried writes
// idempotent: a replayed insert overwrites rather than duplicates.
func (s *Store) Insert(ctx context.Context, mem domain.Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("%w: insert: memory id is empty", domain.ErrInvalidInput)
	}

	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}

	meta, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", domain.ErrIndexStore, err)
	}

	var embeddingBlob []byte
	if len(mem.Embedding) > 0 {
		embeddingBlob = float32ToBytes(mem.Embedding)
	}

	const upsert = `
		INSERT INTO memories (id, session_id, context_type, content, metadata, embedding, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id   = excluded.session_id,
			context_type = excluded.context_type,
			content      = excluded.content,
			metadata     = excluded.metadata,
			embedding    = excluded.embedding,
			importance   = excluded.importance
	`

	_, err = s.db.ExecContext(ctx, upsert,
		mem.ID,
		mem.SessionID,
		mem.ContextType,
		mem.Content,
		string(meta),
		embeddingBlob,
		mem.Importance,
		mem.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", domain.ErrIndexStore, err)
	}

	if embeddingBlob != nil && s.vecIdx.isLoaded() {
		s.vecIdx.put(mem)
	}

	return nil
}

// UpdateImportance implements domain.Index.
func (s *Store) UpdateImportance(ctx context.Context, id string, importance float64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE memories SET importance = ? WHERE id = ?", importance, id)
	if err != nil {
		return fmt.Errorf("%w: update importance: %v", domain.ErrIndexStore, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: id %q", domain.ErrNotFound, id)
	}
	s.vecIdx.setImportance(id, importance)
	return nil
}

// LowestImportance implements domain.Index: the n entries with the lowest
// stored importance, oldest first within equal importance. Used by the
// pressure sweep to pick purge candidates.
func (s *Store) LowestImportance(ctx context.Context, n int) ([]domain.Memory, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, context_type, content, metadata, embedding, importance, created_at
		 FROM memories ORDER BY importance ASC, created_at ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: lowest importance: %v", domain.ErrIndexStore, err)
	}
	defer rows.Close()

	return s.scanMemories(rows)
}

// Purge implements domain.Index. Removal is permanent.
func (s *Store) Purge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "DELETE FROM memories WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: purge: %v", domain.ErrIndexStore, err)
	}

	for _, id := range ids {
		s.vecIdx.remove(id)
	}
	return nil
}

// Count implements domain.Index.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrIndexStore, err)
	}
	return n, nil
}

// SizeBytes implements domain.Index using SQLite's own page accounting.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("%w: page_count: %v", domain.ErrIndexStore, err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("%w: page_size: %v", domain.ErrIndexStore, err)
	}
	return pageCount * pageSize, nil
}

// SessionStats implements domain.Index.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	var stats domain.SessionStats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(importance), 0) FROM memories WHERE session_id = ?",
		sessionID,
	).Scan(&stats.TotalMemories, &stats.AverageImportance)
	if err != nil {
		return stats, fmt.Errorf("%w: session stats: %v", domain.ErrIndexStore, err)
	}
	return stats, nil
}

// Name implements domain.Index.
func (s *Store) Name() string { return "sqlite" }

// scanMemories reads memory rows including embedding blobs. Corrupt rows are
// logged and skipped since they indicate data damage, not a retrieval failure.
func (s *Store) scanMemories(rows *sql.Rows) ([]domain.Memory, error) {
	var memories []domain.Memory
	for rows.Next() {
		mem, ok := s.scanMemory(rows)
		if !ok {
			continue
		}
		memories = append(memories, mem)
	}
	return memories, rows.Err()
}

func (s *Store) scanMemory(row interface{ Scan(dest ...any) error }) (domain.Memory, bool) {
	var (
		mem       domain.Memory
		metaJSON  string
		embBlob   []byte
		createdAt string
	)
	if err := row.Scan(&mem.ID, &mem.SessionID, &mem.ContextType, &mem.Content,
		&metaJSON, &embBlob, &mem.Importance, &createdAt); err != nil {
		s.logger.Warn("index: scan row failed", "error", err)
		return mem, false
	}

	if err := json.Unmarshal([]byte(metaJSON), &mem.Metadata); err != nil {
		s.logger.Warn("index: corrupt metadata JSON", "id", mem.ID, "error", err)
	}
	var parseErr error
	if mem.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
		s.logger.Warn("index: corrupt created_at", "id", mem.ID, "error", parseErr)
	}
	mem.Embedding = bytesToFloat32(embBlob)
	return mem, true
}

// Compile-time interface check.
var _ domain.Index = (*Store)(nil)
