// Package store persists cache snapshots in SQLite. The cache itself does no
// I/O; callers hand it fully materialized snapshots loaded from here and save
// what it exports.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cachet-ai/cachet/pkg/models"
)

// Store reads and writes cache snapshots in a SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	position INTEGER PRIMARY KEY,
	id TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	context_hash TEXT NOT NULL,
	prompt TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL,
	model TEXT NOT NULL,
	temperature REAL NOT NULL,
	tokens_used INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	accessed_at DATETIME NOT NULL,
	access_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_stats (
	row_id INTEGER PRIMARY KEY CHECK (row_id = 1),
	total_entries INTEGER NOT NULL,
	total_hits INTEGER NOT NULL,
	total_misses INTEGER NOT NULL,
	estimated_savings INTEGER NOT NULL,
	cache_size INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_settings (
	row_id INTEGER PRIMARY KEY CHECK (row_id = 1),
	enabled INTEGER NOT NULL,
	max_entries INTEGER NOT NULL,
	max_age_days INTEGER NOT NULL,
	match_threshold REAL NOT NULL
);
`

// Open opens the snapshot database and creates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}

	return &Store{db: db}, nil
}

// Save replaces the stored snapshot with the given one in a single
// transaction. Entry order is preserved so a later truncating import keeps
// the entries the snapshot ranked highest.
func (s *Store) Save(ctx context.Context, snap models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"cache_entries", "cache_stats", "cache_settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, e := range snap.Entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (position, id, prompt_hash, context_hash, prompt, context, response, model,
			   temperature, tokens_used, input_tokens, output_tokens, created_at, accessed_at, access_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, e.ID, e.PromptHash, e.ContextHash, e.Prompt, e.Context, e.Response, e.Model,
			e.Temperature, e.TokensUsed, e.InputTokens, e.OutputTokens, e.CreatedAt, e.AccessedAt, e.AccessCount,
		)
		if err != nil {
			return fmt.Errorf("save entry %s: %w", e.ID, err)
		}
	}

	if snap.Stats != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cache_stats (row_id, total_entries, total_hits, total_misses, estimated_savings, cache_size)
			 VALUES (1, ?, ?, ?, ?, ?)`,
			snap.Stats.TotalEntries, snap.Stats.TotalHits, snap.Stats.TotalMisses,
			snap.Stats.EstimatedSavings, snap.Stats.CacheSize,
		)
		if err != nil {
			return fmt.Errorf("save stats: %w", err)
		}
	}

	if snap.Settings != nil {
		settings := resolveSettings(snap.Settings)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cache_settings (row_id, enabled, max_entries, max_age_days, match_threshold)
			 VALUES (1, ?, ?, ?, ?)`,
			settings.Enabled, settings.MaxEntries, settings.MaxAgeDays, settings.MatchThreshold,
		)
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load rebuilds a snapshot in stored order. Absent stats or settings rows
// yield nil blocks, so an import retains defaults.
func (s *Store) Load(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt_hash, context_hash, prompt, context, response, model,
		   temperature, tokens_used, input_tokens, output_tokens, created_at, accessed_at, access_count
		 FROM cache_entries ORDER BY position ASC`,
	)
	if err != nil {
		return snap, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.CacheEntry
		if err := rows.Scan(&e.ID, &e.PromptHash, &e.ContextHash, &e.Prompt, &e.Context, &e.Response, &e.Model,
			&e.Temperature, &e.TokensUsed, &e.InputTokens, &e.OutputTokens, &e.CreatedAt, &e.AccessedAt, &e.AccessCount); err != nil {
			return snap, fmt.Errorf("scan entry: %w", err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load entries: %w", err)
	}

	var stats models.CacheStats
	err = s.db.QueryRowContext(ctx,
		`SELECT total_entries, total_hits, total_misses, estimated_savings, cache_size FROM cache_stats WHERE row_id = 1`,
	).Scan(&stats.TotalEntries, &stats.TotalHits, &stats.TotalMisses, &stats.EstimatedSavings, &stats.CacheSize)
	switch err {
	case nil:
		snap.Stats = &stats
	case sql.ErrNoRows:
	default:
		return snap, fmt.Errorf("load stats: %w", err)
	}

	var settings models.CacheSettings
	err = s.db.QueryRowContext(ctx,
		`SELECT enabled, max_entries, max_age_days, match_threshold FROM cache_settings WHERE row_id = 1`,
	).Scan(&settings.Enabled, &settings.MaxEntries, &settings.MaxAgeDays, &settings.MatchThreshold)
	switch err {
	case nil:
		snap.Settings = &models.SettingsPatch{
			Enabled:        &settings.Enabled,
			MaxEntries:     &settings.MaxEntries,
			MaxAgeDays:     &settings.MaxAgeDays,
			MatchThreshold: &settings.MatchThreshold,
		}
	case sql.ErrNoRows:
	default:
		return snap, fmt.Errorf("load settings: %w", err)
	}

	return snap, nil
}

// resolveSettings flattens a patch onto zero values for storage; Save is
// only ever given the full patch that Export produces.
func resolveSettings(patch *models.SettingsPatch) models.CacheSettings {
	var settings models.CacheSettings
	if patch.Enabled != nil {
		settings.Enabled = *patch.Enabled
	}
	if patch.MaxEntries != nil {
		settings.MaxEntries = *patch.MaxEntries
	}
	if patch.MaxAgeDays != nil {
		settings.MaxAgeDays = *patch.MaxAgeDays
	}
	if patch.MatchThreshold != nil {
		settings.MatchThreshold = *patch.MatchThreshold
	}
	return settings
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
