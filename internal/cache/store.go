package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite3 driver

	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/mediatypes"
)

// Store names. Each store lives in its own database file.
const (
	ThumbnailsStore = "Thumbnails"
	ViewsStore      = "Views"
)

// Default timeout for opening a store
const defaultTimeout = 5 * time.Second

var (
	// ErrBlocked is returned by DeleteStore while other connections are open.
	ErrBlocked = errors.New("store deletion blocked by open connections")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("store is closed")

	// ErrConflict is returned by Put when the file name is already stored.
	ErrConflict = errors.New("record already stored")
)

var log = logging.For("cache")

// Store is a durable, insertion-ordered collection of image records keyed
// by file name. The only mutations are Clear, BulkInsert and Put; there is
// no partial update. Store does not provide isolation across calls: callers
// that clear and rewrite must serialise those cycles themselves.
type Store struct {
	name string
	path string
	db   *sql.DB

	mu     sync.RWMutex
	closed bool
}

// Path returns the database file that backs a store in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, "pikoshi-"+strings.ToLower(name)+".db")
}

// OpenThumbnails opens the gallery-grid cache.
func OpenThumbnails(ctx context.Context, dir string) (*Store, error) {
	return Open(ctx, dir, ThumbnailsStore)
}

// OpenViews opens the full-resolution viewer cache.
func OpenViews(ctx context.Context, dir string) (*Store, error) {
	return Open(ctx, dir, ViewsStore)
}

// Open opens (creating if needed) the named store under dir. The directory
// must already exist and be writable.
func Open(ctx context.Context, dir, name string) (*Store, error) {
	path := Path(dir, name)
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close %s after ping failure: %v", name, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to %s store: %w", name, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{name: name, path: path, db: db}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close %s after initialization failure: %v", name, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize %s schema: %w", name, err)
	}

	acquire(path)
	log.Debug("opened %s at %s", name, path)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Close releases the connection. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	release(s.path)
	return s.db.Close()
}

// acquireOpen holds the read lock for the duration of an operation so Close
// waits for in-flight work.
func (s *Store) acquireOpen() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// BulkInsert appends every record in order. A record whose write fails (for
// instance a duplicate file name) is logged and skipped; the rest of the
// batch still commits. It returns the number of records written.
func (s *Store) BulkInsert(ctx context.Context, records []mediatypes.ImageRecord) (inserted int, err error) {
	if err := s.acquireOpen(); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	timer := startTimer(s.name, "bulk_insert")
	defer func() { timer.done(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin %s insert: %w", s.name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (file_name, type, data) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, s.rollback(tx, fmt.Errorf("prepare %s insert: %w", s.name, err))
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			log.Debug("failed to close statement: %v", closeErr)
		}
	}()

	for _, rec := range records {
		if _, execErr := stmt.ExecContext(ctx, rec.FileName, rec.Type, rec.Data); execErr != nil {
			if ctx.Err() != nil {
				return 0, s.rollback(tx, ctx.Err())
			}
			if isConflict(execErr) {
				if o := observe(); o != nil {
					o.ObserveConflict(s.name)
				}
			}
			log.Error("error adding image %s to %s: %v", rec.FileName, s.name, execErr)
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s insert: %w", s.name, err)
	}

	s.reportSize(ctx)
	return inserted, nil
}

// ReadAll returns every record in insertion order.
func (s *Store) ReadAll(ctx context.Context) (records []mediatypes.ImageRecord, err error) {
	if err := s.acquireOpen(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	timer := startTimer(s.name, "read_all")
	defer func() { timer.done(err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT file_name, type, data FROM records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("error retrieving images from %s: %w", s.name, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Debug("failed to close rows: %v", closeErr)
		}
	}()

	records = []mediatypes.ImageRecord{}
	for rows.Next() {
		var rec mediatypes.ImageRecord
		if err := rows.Scan(&rec.FileName, &rec.Type, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", s.name, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Clear empties the store without deleting it.
func (s *Store) Clear(ctx context.Context) (err error) {
	if err := s.acquireOpen(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	timer := startTimer(s.name, "clear")
	defer func() { timer.done(err) }()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("error clearing %s: %w", s.name, err)
	}
	s.reportSize(ctx)
	return nil
}

// Get looks up a single record by file name.
func (s *Store) Get(ctx context.Context, fileName string) (rec mediatypes.ImageRecord, found bool, err error) {
	if err := s.acquireOpen(); err != nil {
		return rec, false, err
	}
	defer s.mu.RUnlock()

	timer := startTimer(s.name, "get")
	defer func() { timer.done(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT file_name, type, data FROM records WHERE file_name = ?`, fileName,
	).Scan(&rec.FileName, &rec.Type, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return mediatypes.ImageRecord{}, false, nil
	}
	if err != nil {
		return mediatypes.ImageRecord{}, false, fmt.Errorf("error retrieving %s from %s: %w", fileName, s.name, err)
	}
	return rec, true, nil
}

// Put adds a single record. It returns ErrConflict if the file name is
// already stored.
func (s *Store) Put(ctx context.Context, rec mediatypes.ImageRecord) (err error) {
	if err := s.acquireOpen(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	timer := startTimer(s.name, "put")
	defer func() { timer.done(err) }()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (file_name, type, data) VALUES (?, ?, ?)`,
		rec.FileName, rec.Type, rec.Data)
	if isConflict(err) {
		if o := observe(); o != nil {
			o.ObserveConflict(s.name)
		}
		return fmt.Errorf("%w: %s in %s", ErrConflict, rec.FileName, s.name)
	}
	if err != nil {
		return fmt.Errorf("error adding %s to %s: %w", rec.FileName, s.name, err)
	}
	s.reportSize(ctx)
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.acquireOpen(); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.name, err)
	}
	return n, nil
}

func (s *Store) reportSize(ctx context.Context) {
	o := observe()
	if o == nil {
		return
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err == nil {
		o.ObserveSize(s.name, n)
	}
}

func (s *Store) rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
	}
	return err
}

func isConflict(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

type opTimer struct {
	store, op string
	start     time.Time
}

func startTimer(store, op string) opTimer {
	return opTimer{store: store, op: op, start: time.Now()}
}

func (t opTimer) done(err error) {
	if o := observe(); o != nil {
		o.ObserveOperation(t.store, t.op, time.Since(t.start).Seconds(), err)
	}
}
