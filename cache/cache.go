// Package cache stores compiled PostC programs in a sqlite database keyed by
// the hash of their source, so unchanged sources are not recompiled.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/postc/compiler"
	"github.com/chazu/postc/vm"
	"github.com/chazu/postc/vm/dist"
)

// ErrNotFound indicates the source has no cached program.
var ErrNotFound = errors.New("cache: not found")

const schema = `CREATE TABLE IF NOT EXISTS programs (
	key        TEXT PRIMARY KEY,
	hash       BLOB NOT NULL,
	image      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	last_used  INTEGER NOT NULL,
	hits       INTEGER NOT NULL DEFAULT 0
)`

// Store is a sqlite-backed program cache. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	log  commonlog.Logger
	now  func() time.Time
	mu   sync.Mutex
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int64
	Bytes   int64
	Hits    int64
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating table: %w", err)
	}

	return &Store{
		db:   db,
		path: path,
		log:  commonlog.GetLogger("postc.cache"),
		now:  time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Key returns the cache key for source. The image format version is part of
// the key so a format change never serves stale images.
func Key(source string) string {
	h := sha256.New()
	fmt.Fprintf(h, "postc/%d\x00", dist.FormatVersion)
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached program for source. A corrupt entry is dropped and
// reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, source string) (*vm.Program, error) {
	key := Key(source)

	var image []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM programs WHERE key = ?", key).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: querying program: %w", err)
	}

	p, err := dist.UnmarshalProgram(image)
	if err != nil {
		s.log.Warningf("dropping corrupt entry %s: %s", key[:12], err)
		if _, derr := s.db.ExecContext(ctx, "DELETE FROM programs WHERE key = ?", key); derr != nil {
			return nil, fmt.Errorf("cache: deleting corrupt entry: %w", derr)
		}
		return nil, ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE programs SET hits = hits + 1, last_used = ? WHERE key = ?",
		s.now().Unix(), key,
	); err != nil {
		return nil, fmt.Errorf("cache: recording hit: %w", err)
	}
	s.log.Debugf("hit %s", key[:12])
	return p, nil
}

// Put stores p as the compiled form of source.
func (s *Store) Put(ctx context.Context, source string, p *vm.Program) error {
	img, err := dist.NewImage(p)
	if err != nil {
		return err
	}
	data, err := dist.MarshalImage(img)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (key, hash, image, created_at, last_used, hits) VALUES (?, ?, ?, ?, ?, 0)",
		Key(source), img.Hash[:], data, now, now,
	)
	if err != nil {
		return fmt.Errorf("cache: saving program: %w", err)
	}
	s.log.Debugf("stored %s (%d bytes)", Key(source)[:12], len(data))
	return nil
}

// Compile returns the cached program for source, compiling and storing it on
// a miss. hit reports whether the cache served the program.
func (s *Store) Compile(ctx context.Context, source string) (p *vm.Program, hit bool, err error) {
	p, err = s.Get(ctx, source)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	p, err = compiler.Compile(source)
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(ctx, source, p); err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// Stats reports entry count, total image size and total hits.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(image)), 0), COALESCE(SUM(hits), 0) FROM programs",
	).Scan(&st.Entries, &st.Bytes, &st.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return st, nil
}

// Prune deletes entries not used within maxAge and returns how many were
// removed. A zero maxAge removes everything.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge).Unix()
	query := "DELETE FROM programs WHERE last_used < ?"
	if maxAge == 0 {
		query = "DELETE FROM programs WHERE last_used <= ?"
	}
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	s.log.Infof("pruned %d entries", n)
	return n, nil
}
