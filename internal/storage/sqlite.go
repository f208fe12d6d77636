// Package storage persists the three tiered memory record kinds in SQLite.
// Every query is scoped by agency_id; cross-tenant reads are impossible by
// construction because no method exists without that parameter.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for episodic, semantic, and
// procedural memory records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "concierge.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Episodic ---

// InsertEpisodic appends an episodic record. ConsolidationCount always starts at 0.
func (s *Store) InsertEpisodic(ctx context.Context, rec EpisodicRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodic_memories (id, agency_id, user_id, interaction_type, content, outcome, importance, consolidation_count, access_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rec.ID, rec.AgencyID, rec.UserID, rec.InteractionType, rec.Content,
		rec.Outcome, rec.Importance, rec.AccessCount, rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// QueryEpisodic returns records for one agency, ordered by importance
// descending then recency descending.
func (s *Store) QueryEpisodic(ctx context.Context, agencyID string, f EpisodicFilter) ([]EpisodicRecord, error) {
	query := `SELECT id, agency_id, user_id, interaction_type, content, outcome, importance, consolidation_count, access_count, created_at
		FROM episodic_memories WHERE agency_id = ?`
	args := []any{agencyID}

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.InteractionType != "" {
		query += " AND interaction_type = ?"
		args = append(args, f.InteractionType)
	}
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if f.MinAccessCount > 0 {
		query += " AND access_count >= ?"
		args = append(args, f.MinAccessCount)
	}
	if f.OnlyUnconsolidated {
		query += " AND consolidation_count = 0"
	}

	query += " ORDER BY importance DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EpisodicRecord
	for rows.Next() {
		var rec EpisodicRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.AgencyID, &rec.UserID, &rec.InteractionType, &rec.Content,
			&rec.Outcome, &rec.Importance, &rec.ConsolidationCount, &rec.AccessCount, &createdAt); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// IncrementEpisodicAccess bumps access_count for the given records.
func (s *Store) IncrementEpisodicAccess(ctx context.Context, agencyID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE episodic_memories SET access_count = access_count + 1
		WHERE agency_id = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, agencyID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// MarkEpisodicConsolidated increments consolidation_count for the given records.
func (s *Store) MarkEpisodicConsolidated(ctx context.Context, agencyID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE episodic_memories SET consolidation_count = consolidation_count + 1
		WHERE agency_id = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, agencyID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// --- Semantic ---

// GetSemanticByKey fetches the record for the natural key
// (agency, concept, category), or ErrNotFound.
func (s *Store) GetSemanticByKey(ctx context.Context, agencyID, concept, category string) (SemanticRecord, error) {
	var rec SemanticRecord
	var facts, relationships, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agency_id, concept, category, facts, relationships, confidence, updated_at
		FROM semantic_memories WHERE agency_id = ? AND concept = ? AND category = ?`,
		agencyID, concept, category,
	).Scan(&rec.ID, &rec.AgencyID, &rec.Concept, &rec.Category, &facts, &relationships, &rec.Confidence, &updatedAt)
	if err == sql.ErrNoRows {
		return SemanticRecord{}, ErrNotFound
	}
	if err != nil {
		return SemanticRecord{}, err
	}
	return decodeSemantic(rec, facts, relationships, updatedAt)
}

// PutSemantic inserts or fully replaces the row for the record's natural key.
// Merge semantics live in the memory service; this is a plain upsert.
func (s *Store) PutSemantic(ctx context.Context, rec SemanticRecord) error {
	facts, err := json.Marshal(rec.Facts)
	if err != nil {
		return fmt.Errorf("marshaling facts: %w", err)
	}
	relationships, err := json.Marshal(rec.Relationships)
	if err != nil {
		return fmt.Errorf("marshaling relationships: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_memories (id, agency_id, concept, category, facts, relationships, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agency_id, concept, category) DO UPDATE SET
			facts = excluded.facts,
			relationships = excluded.relationships,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		rec.ID, rec.AgencyID, rec.Concept, rec.Category, string(facts), string(relationships),
		rec.Confidence, rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// QuerySemantic returns an agency's semantic records ordered by confidence descending.
func (s *Store) QuerySemantic(ctx context.Context, agencyID string, limit int) ([]SemanticRecord, error) {
	query := `SELECT id, agency_id, concept, category, facts, relationships, confidence, updated_at
		FROM semantic_memories WHERE agency_id = ? ORDER BY confidence DESC, concept ASC`
	args := []any{agencyID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SemanticRecord
	for rows.Next() {
		var rec SemanticRecord
		var facts, relationships, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.AgencyID, &rec.Concept, &rec.Category, &facts, &relationships, &rec.Confidence, &updatedAt); err != nil {
			return nil, err
		}
		decoded, err := decodeSemantic(rec, facts, relationships, updatedAt)
		if err != nil {
			return nil, err
		}
		results = append(results, decoded)
	}
	return results, rows.Err()
}

func decodeSemantic(rec SemanticRecord, facts, relationships, updatedAt string) (SemanticRecord, error) {
	if err := json.Unmarshal([]byte(facts), &rec.Facts); err != nil {
		return SemanticRecord{}, fmt.Errorf("parsing facts for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(relationships), &rec.Relationships); err != nil {
		return SemanticRecord{}, fmt.Errorf("parsing relationships for %s: %w", rec.ID, err)
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return SemanticRecord{}, fmt.Errorf("parsing updated_at for %s: %w", rec.ID, err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

// --- Procedural ---

// InsertProcedural appends a procedural record. Always an insert, never a merge.
func (s *Store) InsertProcedural(ctx context.Context, rec ProceduralRecord) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshaling steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO procedural_memories (id, agency_id, task_type, pattern, steps, success_rate, average_duration_ms, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgencyID, rec.TaskType, rec.Pattern, string(steps),
		rec.SuccessRate, rec.AverageDuration.Milliseconds(), rec.UsageCount,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// QueryProcedural returns records matching the exact task type, ordered by
// success rate descending then usage count descending.
func (s *Store) QueryProcedural(ctx context.Context, agencyID, taskType string, limit int) ([]ProceduralRecord, error) {
	query := `SELECT id, agency_id, task_type, pattern, steps, success_rate, average_duration_ms, usage_count, created_at
		FROM procedural_memories WHERE agency_id = ? AND task_type = ?
		ORDER BY success_rate DESC, usage_count DESC`
	args := []any{agencyID, taskType}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProceduralRecord
	for rows.Next() {
		var rec ProceduralRecord
		var steps, createdAt string
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.AgencyID, &rec.TaskType, &rec.Pattern, &steps,
			&rec.SuccessRate, &durationMs, &rec.UsageCount, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(steps), &rec.Steps); err != nil {
			return nil, fmt.Errorf("parsing steps for %s: %w", rec.ID, err)
		}
		rec.AverageDuration = time.Duration(durationMs) * time.Millisecond
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
