// Package storage keeps a queryable SQLite snapshot of crawl results next to
// the JSON exports.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
)

// DefaultFileName is the database file created inside an output directory.
const DefaultFileName = "netscan.db"

// RecordDB stores channel records, their messages and the links between
// channels. Writes for one run happen in a single transaction.
type RecordDB struct {
	db     *sql.DB
	dbPath string
}

// Link is a directed reference from one channel to another.
type Link struct {
	Source string
	Target string
}

// ChannelRow is a stored channel without its messages.
type ChannelRow struct {
	Username     string
	ID           int64
	Title        string
	Participants int
	Depth        int
	MessageCount int
	ScannedAt    time.Time
}

// Open opens or creates the database file at path, creating parent
// directories as needed.
func Open(path string) (*RecordDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RecordDB{db: db, dbPath: path}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := rdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return rdb, nil
}

// Path returns the database file path.
func (r *RecordDB) Path() string { return r.dbPath }

// Close closes the database connection.
func (r *RecordDB) Close() error {
	return r.db.Close()
}

func (r *RecordDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		username TEXT PRIMARY KEY,
		channel_id INTEGER,
		title TEXT,
		participants INTEGER DEFAULT 0,
		depth INTEGER DEFAULT 0,
		linked_channels TEXT,
		scanned_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		username TEXT NOT NULL,
		message_id INTEGER NOT NULL,
		date DATETIME,
		text TEXT,
		views INTEGER DEFAULT 0,
		forwards INTEGER DEFAULT 0,
		PRIMARY KEY (username, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_username ON messages(username);

	CREATE TABLE IF NOT EXISTS links (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		PRIMARY KEY (source, target)
	);

	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
	`
	_, err := r.db.ExecContext(context.Background(), schema)
	return err
}

// SaveRun upserts all records and links. Either everything is written or
// nothing is.
func (r *RecordDB) SaveRun(ctx context.Context, records []model.ChannelRecord, links []Link) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range records {
		if err := upsertChannel(ctx, tx, &records[i]); err != nil {
			return err
		}
	}
	for _, l := range links {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO links (source, target) VALUES (?, ?) ON CONFLICT(source, target) DO NOTHING`,
			l.Source, l.Target)
		if err != nil {
			return fmt.Errorf("failed to insert link %s -> %s: %w", l.Source, l.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertChannel(ctx context.Context, tx *sql.Tx, rec *model.ChannelRecord) error {
	linked, err := json.Marshal(rec.LinkedChannels)
	if err != nil {
		return fmt.Errorf("failed to serialize linked channels: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO channels (username, channel_id, title, participants, depth, linked_channels, scanned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET
		channel_id = excluded.channel_id,
		title = excluded.title,
		participants = excluded.participants,
		depth = excluded.depth,
		linked_channels = excluded.linked_channels,
		scanned_at = excluded.scanned_at
	`, rec.Username, rec.ID, rec.Title, rec.Participants, rec.Depth, string(linked), formatTime(rec.ScannedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", rec.Username, err)
	}

	for _, m := range rec.Messages {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (username, message_id, date, text, views, forwards)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, message_id) DO UPDATE SET
			text = excluded.text,
			views = excluded.views,
			forwards = excluded.forwards
		`, rec.Username, m.ID, formatTime(m.Date), m.Text, m.Views, m.Forwards)
		if err != nil {
			return fmt.Errorf("failed to upsert message %d of %s: %w", m.ID, rec.Username, err)
		}
	}
	return nil
}

// ListChannels returns all stored channels ordered by depth then username.
func (r *RecordDB) ListChannels(ctx context.Context) ([]ChannelRow, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT c.username, c.channel_id, c.title, c.participants, c.depth, c.scanned_at,
		(SELECT COUNT(*) FROM messages m WHERE m.username = c.username AND m.text != '')
	FROM channels c
	ORDER BY c.depth, c.username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelRow
	for rows.Next() {
		var row ChannelRow
		var scanned sql.NullString
		if err := rows.Scan(&row.Username, &row.ID, &row.Title, &row.Participants, &row.Depth, &scanned, &row.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		if scanned.Valid {
			row.ScannedAt = parseTime(scanned.String)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Links returns all stored links ordered by source then target.
func (r *RecordDB) Links(ctx context.Context) ([]Link, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT source, target FROM links ORDER BY source, target`)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Source, &l.Target); err != nil {
			return nil, fmt.Errorf("failed to scan link row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LoadGraph returns every stored channel as a node and every stored link as
// an edge. It implements crawl.GraphSource.
func (r *RecordDB) LoadGraph(ctx context.Context) ([]graph.Node, []graph.Edge, error) {
	rows, err := r.ListChannels(ctx)
	if err != nil {
		return nil, nil, err
	}
	links, err := r.Links(ctx)
	if err != nil {
		return nil, nil, err
	}

	nodes := make([]graph.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, graph.Node{
			ID:           row.Username,
			Title:        row.Title,
			Participants: row.Participants,
			MessageCount: row.MessageCount,
			Depth:        row.Depth,
		})
	}
	edges := make([]graph.Edge, 0, len(links))
	for _, l := range links {
		edges = append(edges, graph.Edge{Source: l.Source, Target: l.Target})
	}
	return nodes, edges, nil
}

// Inbound returns the channels that link to target.
func (r *RecordDB) Inbound(ctx context.Context, target string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbound links: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Times are stored as RFC 3339 text so they read back the same regardless
// of driver configuration.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
