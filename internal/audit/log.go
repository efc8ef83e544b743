// Package audit persists an append-only trail of privileged actions.
// Entries are written by a single goroutine so sequence numbers are
// monotonic and gapless; the trail supports no update or delete.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/finfiles/finfiles/internal/config"
	"github.com/finfiles/finfiles/internal/metric"
	"github.com/finfiles/finfiles/pkg/models"
)

var (
	// ErrLogClosed is returned by Append after Close has started.
	ErrLogClosed = errors.New("audit: log closed")

	// ErrFlushTimeout is returned by Close when buffered entries could
	// not be committed before the flush deadline.
	ErrFlushTimeout = errors.New("audit: flush timed out, entries lost")
)

const appendBuffer = 128

type appendReq struct {
	entry models.AuditEntry
	resp  chan appendResult
}

type appendResult struct {
	seq int64
	err error
}

// Log is the append-only audit trail backed by SQLite.
type Log struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool

	in           chan appendReq
	writerDone   chan struct{}
	flushTimeout time.Duration
}

// Open opens or creates the audit database and starts the writer.
func Open(cfg config.AuditConfig) (*Log, error) {
	dbPath := cfg.DBPath
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	l := &Log{
		db:           db,
		in:           make(chan appendReq, appendBuffer),
		writerDone:   make(chan struct{}),
		flushTimeout: cfg.FlushTimeout(),
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	go l.writer()
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_trail (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_trail(action);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_trail(actor_role);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_trail(timestamp);
	`
	_, err := l.db.Exec(schema)
	return err
}

// writer is the single goroutine allowed to insert. It drains the
// request channel until Close closes it.
func (l *Log) writer() {
	defer close(l.writerDone)
	for req := range l.in {
		seq, err := l.insert(req.entry)
		if err != nil {
			metric.AuditAppends.WithLabelValues("failure").Inc()
		} else {
			metric.AuditAppends.WithLabelValues("success").Inc()
		}
		req.resp <- appendResult{seq: seq, err: err}
	}
}

func (l *Log) insert(e models.AuditEntry) (int64, error) {
	res, err := l.db.Exec(`
		INSERT INTO audit_trail (id, actor_role, action, target, timestamp, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorRole, string(e.Action), e.Target, e.Timestamp.UTC(), string(e.Outcome), e.Detail)
	if err != nil {
		return 0, fmt.Errorf("audit: insert: %w", err)
	}
	return res.LastInsertId()
}

// Append commits one entry and blocks until it is durably written. A
// failed append is the caller's failure too: audited actions must not
// report success without their trail entry.
func (l *Log) Append(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrLogClosed
	}
	req := appendReq{entry: e, resp: make(chan appendResult, 1)}
	select {
	case l.in <- req:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case res := <-req.resp:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrailFilter narrows a Trail query. Zero fields match everything.
type TrailFilter struct {
	Action    models.AuditAction
	ActorRole string
	Since     time.Time
	Limit     int
}

// Trail returns committed entries in sequence order, oldest first.
func (l *Log) Trail(ctx context.Context, f TrailFilter) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.ActorRole != "" {
		where = append(where, "actor_role = ?")
		args = append(args, f.ActorRole)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}

	query := "SELECT seq, id, actor_role, action, target, timestamp, outcome, detail FROM audit_trail"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query trail: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			action  string
			outcome string
			detail  sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.ActorRole, &action, &e.Target, &e.Timestamp, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.Outcome = models.Outcome(outcome)
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Len reports the number of committed entries.
func (l *Log) Len(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_trail").Scan(&n)
	return n, err
}

// Close stops accepting appends and flushes buffered entries. The
// flush is bounded by ctx and the configured flush timeout; entries
// abandoned past the deadline are counted as lost.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.in)
	l.mu.Unlock()

	timer := time.NewTimer(l.flushTimeout)
	defer timer.Stop()

	select {
	case <-l.writerDone:
		return l.db.Close()
	case <-ctx.Done():
	case <-timer.C:
	}

	lost := int64(len(l.in))
	if lost > 0 {
		metric.AuditLost.Add(float64(lost))
	}
	// Let the writer finish its drain before the handle goes away.
	go func() {
		<-l.writerDone
		l.db.Close()
	}()
	return fmt.Errorf("%w: %d buffered", ErrFlushTimeout, lost)
}
