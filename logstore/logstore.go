// Package logstore keeps recent log records in SQLite so the admin API can
// show them, and provides a slog.Handler that tees records into it.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const migrationSQL = `
CREATE TABLE IF NOT EXISTS logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ts         DATETIME NOT NULL,
    level      TEXT NOT NULL,
    msg        TEXT NOT NULL,
    bot        TEXT NOT NULL DEFAULT '',
    channel_id TEXT,
    attrs      TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_bot ON logs(bot);
`

const (
	maxRowsPerBot = 10000
	defaultLimit  = 100
	pruneEvery    = 500
)

// levelRank mirrors slog's numeric levels so filters compare like slog does.
var levelRank = map[string]int{"debug": -4, "info": 0, "warn": 4, "error": 8}

// Row is a single log entry returned by List.
type Row struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"ts"`
	Level     string    `json:"level"`
	Msg       string    `json:"msg"`
	Bot       string    `json:"bot,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Attrs     string    `json:"attrs,omitempty"`
}

// Query selects rows for List. Empty Bot matches every bot; Level is the
// minimum level ("debug", "info", "warn", "error") or empty for all.
type Query struct {
	Bot    string
	Level  string
	Limit  int
	Offset int
}

// Store persists slog records in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the log store at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open log db: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("log db migration: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// write persists a single entry. Errors are dropped: reporting them through
// slog would recurse into this store.
func (s *Store) write(ctx context.Context, ts time.Time, level, msg, bot, channelID, attrsJSON string) {
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO logs (ts, level, msg, bot, channel_id, attrs) VALUES (?, ?, ?, ?, ?, ?)`,
		ts, level, msg, bot, channelID, attrsJSON,
	)
	if rand.IntN(pruneEvery) == 0 {
		s.prune(context.Background())
	}
}

// prune keeps at most maxRowsPerBot rows per bot, deleting the oldest.
func (s *Store) prune(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `
DELETE FROM logs WHERE id IN (
    SELECT id FROM (
        SELECT id, ROW_NUMBER() OVER (PARTITION BY bot ORDER BY id DESC) AS rn FROM logs
    ) WHERE rn > ?
)`, maxRowsPerBot)
}

// List returns matching rows newest first, along with the total match count.
func (s *Store) List(ctx context.Context, q Query) ([]Row, int, error) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}

	where := "1 = 1"
	var args []any
	if q.Bot != "" {
		where += " AND bot = ?"
		args = append(args, q.Bot)
	}
	if n, ok := levelRank[q.Level]; ok {
		where += " AND CASE level WHEN 'DEBUG' THEN -4 WHEN 'INFO' THEN 0 WHEN 'WARN' THEN 4 WHEN 'ERROR' THEN 8 ELSE 0 END >= ?"
		args = append(args, n)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, level, msg, bot, COALESCE(channel_id,''), COALESCE(attrs,'') FROM logs WHERE "+where+
			" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Level, &r.Msg, &r.Bot, &r.ChannelID, &r.Attrs); err != nil {
			return nil, 0, fmt.Errorf("scan log row: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Handler is a slog.Handler that tees records to an inner handler and to a
// Store. The bot and channel_id attributes land in their own columns, also
// when bound to a derived logger with With.
type Handler struct {
	inner  slog.Handler
	store  *Store
	bound  fields
	prefix string // open groups, joined with "."
}

// fields collects the attributes of one record.
type fields struct {
	bot       string
	channelID string
	extra     map[string]any
}

func (f *fields) add(prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			f.add(p, ga)
		}
		return
	}
	switch key := prefix + a.Key; key {
	case "bot":
		f.bot = v.String()
	case "channel_id":
		f.channelID = v.String()
	default:
		if f.extra == nil {
			f.extra = make(map[string]any)
		}
		val := v.Any()
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		f.extra[key] = val
	}
}

func (f fields) clone() fields {
	out := f
	out.extra = make(map[string]any, len(f.extra))
	for k, v := range f.extra {
		out.extra[k] = v
	}
	return out
}

// NewHandler wraps inner with a tee to store.
func NewHandler(inner slog.Handler, store *Store) *Handler {
	return &Handler{inner: inner, store: store}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := &Handler{inner: h.inner.WithAttrs(attrs), store: h.store, bound: h.bound.clone(), prefix: h.prefix}
	for _, a := range attrs {
		child.bound.add(h.prefix, a)
	}
	return child
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{inner: h.inner.WithGroup(name), store: h.store, bound: h.bound.clone(), prefix: h.prefix + name + "."}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	f := h.bound.clone()
	r.Attrs(func(a slog.Attr) bool {
		f.add(h.prefix, a)
		return true
	})

	var attrsJSON string
	if len(f.extra) > 0 {
		b, _ := json.Marshal(f.extra)
		attrsJSON = string(b)
	}
	h.store.write(ctx, r.Time, r.Level.String(), r.Message, f.bot, f.channelID, attrsJSON)
	return nil
}
