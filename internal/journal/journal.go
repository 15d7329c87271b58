// Package journal records finished tasks in SQLite.
//
// Journal is a task.Listener: on DONE it snapshots the task and hands the record to a writer
// goroutine, so the consumer context never waits on disk.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/evan-idocoding/peon/rt/safego"
	"github.com/evan-idocoding/peon/rt/task"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("journal: closed")

// Record is one finished task.
type Record struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	State        string    `json:"state"`
	Progress     int       `json:"progress"`
	Total        int       `json:"total"`
	Status       string    `json:"status,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorDetails string    `json:"error_details,omitempty"`
	Fault        string    `json:"fault,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

// Elapsed is the run time of the task.
func (r Record) Elapsed() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// FromInfo converts a task snapshot.
func FromInfo(info task.Info) Record {
	r := Record{
		ID:        info.ID,
		Type:      info.Type,
		Name:      info.Name,
		State:     info.State.String(),
		Progress:  info.Progress,
		Total:     info.Total,
		Status:    info.Status,
		Fault:     info.Fault,
		StartedAt: info.StartTime,
		EndedAt:   info.EndTime,
	}
	if info.Error != nil {
		r.ErrorMessage = info.Error.Message
		r.ErrorDetails = info.Error.Details
	}
	return r
}

type op struct {
	rec     *Record
	flushed chan struct{}
}

// Journal is a SQLite-backed task history.
type Journal struct {
	db  *sql.DB
	log logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	ops    chan op

	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

// Option configures Open.
type Option func(*Journal)

// WithLogger sets the logger. Nil means logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(j *Journal) {
		if l != nil {
			j.log = l
		}
	}
}

// WithBuffer sets how many records may wait for the writer. Records beyond it are dropped
// and counted. Default 256.
func WithBuffer(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.ops = make(chan op, n)
		}
	}
}

// Open migrates and opens the journal at path, and starts its writer.
func Open(path string, opts ...Option) (*Journal, error) {
	if err := Migrate(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}

	j := &Journal{
		db:   db,
		log:  logrus.StandardLogger(),
		ops:  make(chan op, 256),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	safego.Go(context.Background(), j.writer,
		safego.WithName("journal.writer"),
		safego.WithLogger(j.log),
		safego.WithFinally(func() { close(j.done) }),
	)
	return j, nil
}

// TaskEvent implements task.Listener. Only DONE is recorded.
func (j *Journal) TaskEvent(e task.Event) {
	if e.Kind != task.EventDone {
		return
	}
	rec := FromInfo(e.Task.Info())

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ops <- op{rec: &rec}:
	default:
		n := j.dropped.Add(1)
		j.log.WithFields(logrus.Fields{"task_id": rec.ID, "task_type": rec.Type, "dropped": n}).
			Warn("journal: buffer full, record dropped")
	}
}

// Dropped returns how many records were dropped because the buffer was full.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Flush waits until every record queued before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	select {
	case j.ops <- op{flushed: flushed}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Insert writes r synchronously, replacing a record with the same ID.
func (j *Journal) Insert(ctx context.Context, r Record) error {
	_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO task_runs
    (id, type, name, state, progress, total, status, error_message, error_details, fault, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Type, r.Name, r.State, r.Progress, r.Total, r.Status,
		r.ErrorMessage, r.ErrorDetails, r.Fault, unixMilli(r.StartedAt), unixMilli(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, type, name, state, progress, total, status, error_message, error_details, fault, started_at, ended_at
FROM task_runs
ORDER BY ended_at DESC, id
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r              Record
			started, ended int64
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.State, &r.Progress, &r.Total, &r.Status,
			&r.ErrorMessage, &r.ErrorDetails, &r.Fault, &started, &ended); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		r.StartedAt = fromUnixMilli(started)
		r.EndedAt = fromUnixMilli(ended)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

// Close stops accepting records, writes what is queued, and closes the database.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ops)
		j.mu.Unlock()
		<-j.done
		err = j.db.Close()
	})
	return err
}

func (j *Journal) writer(ctx context.Context) {
	for o := range j.ops {
		if o.rec != nil {
			if err := j.Insert(ctx, *o.rec); err != nil {
				j.log.WithError(err).WithField("task_id", o.rec.ID).Error("journal: write failed")
			}
		}
		if o.flushed != nil {
			close(o.flushed)
		}
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
