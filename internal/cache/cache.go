// Package cache persists extracted fact sets keyed by deadcode.ContentKey,
// the BLAKE3 hash of the file content, so unchanged files are never re-extracted, wherever they move.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/neural-garage/tools/pkg/analyzer/deadcode"
	"github.com/neural-garage/tools/pkg/facts"
)

// FormatVersion tags every stored entry. Bump it whenever the serialized
// FactSet layout changes; opening a database written with another version
// drops all entries.
const FormatVersion = 1

// DefaultMaxEntries bounds the total number of cached fact sets.
const DefaultMaxEntries = 50_000

// FileName is the database file created inside the cache directory.
const FileName = "facts.db"

// Options configures a cache.
type Options struct {
	// Dir holds the database. Empty keeps the cache in memory.
	Dir string
	// MaxEntries bounds the entry count; zero means DefaultMaxEntries.
	MaxEntries int
	Logger     *slog.Logger
}

// Cache is a content-addressed store of fact sets. Lookups are safe for
// concurrent use; entries are written once and never replaced.
type Cache struct {
	db         *sql.DB
	path       string
	maxEntries int
	logger     *slog.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	hits      atomic.Uint64
	misses    atomic.Uint64
	stores    atomic.Uint64
	evictions atomic.Uint64
}

// Stats describes the cache contents and this process's traffic.
type Stats struct {
	Path          string `json:"path"`
	FormatVersion int    `json:"format_version"`
	Entries       int    `json:"entries"`
	Projects      int    `json:"projects"`
	Bytes         int64  `json:"bytes"`
	MaxEntries    int    `json:"max_entries"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Stores        uint64 `json:"stores"`
	Evictions     uint64 `json:"evictions"`
}

// Open opens or creates the cache described by opts.
func Open(ctx context.Context, opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	dsn := ":memory:"
	path := ""
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		path = filepath.Join(opts.Dir, FileName)
		// pragmas in the DSN apply to every pooled connection
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if path == "" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	c := &Cache{db: db, path: path, maxEntries: maxEntries, logger: logger}
	if err := c.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	c.dec, err = zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return c, nil
}

func (c *Cache) init(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			hash TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS memberships (
			hash TEXT NOT NULL,
			project TEXT NOT NULL,
			PRIMARY KEY (hash, project)
		);
		CREATE INDEX IF NOT EXISTS idx_memberships_project ON memberships(project);
		CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			last_used INTEGER NOT NULL
		);
	`
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize cache schema: %w", err)
	}

	var stored string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'format_version'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read cache format version: %w", err)
	case stored != strconv.Itoa(FormatVersion):
		c.logger.Info("cache format changed, dropping entries",
			"path", c.path, "stored_version", stored, "version", FormatVersion)
		if err := c.Clear(ctx); err != nil {
			return err
		}
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('format_version', ?)`, strconv.Itoa(FormatVersion))
	if err != nil {
		return fmt.Errorf("write cache format version: %w", err)
	}
	return nil
}

// Lookup returns the fact set stored for a content hash. The set is
// path-independent; callers attach it to the file it was found at. An entry
// carrying another format version is a contract breach and is reported as
// deadcode.ErrInternalInvariant.
func (c *Cache) Lookup(ctx context.Context, hash string) (*facts.FactSet, bool, error) {
	var version int
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT version, data FROM entries WHERE hash = ?`, hash).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", hash, err)
	}
	if version != FormatVersion {
		return nil, false, fmt.Errorf("%w: cache entry %s has format version %d, want %d",
			deadcode.ErrInternalInvariant, hash, version, FormatVersion)
	}

	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: cache entry %s: decompress: %v", deadcode.ErrInternalInvariant, hash, err)
	}
	var fs facts.FactSet
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, false, fmt.Errorf("%w: cache entry %s: decode: %v", deadcode.ErrInternalInvariant, hash, err)
	}
	c.hits.Add(1)
	return &fs, true, nil
}

// Store records the fact set for a content hash on behalf of project. An
// existing entry is kept as is; only the project's membership and recency are
// updated. The set is stored detached from its path.
func (c *Cache) Store(ctx context.Context, hash, project string, fs *facts.FactSet) error {
	raw, err := json.Marshal(fs.Detach())
	if err != nil {
		return fmt.Errorf("encode facts for %s: %w", hash, err)
	}
	data := c.enc.EncodeAll(raw, nil)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store %s: %w", hash, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (hash, version, data, created_at) VALUES (?, ?, ?, ?)`,
		hash, FormatVersion, data, now)
	if err != nil {
		return fmt.Errorf("store %s: %w", hash, err)
	}
	if err := touch(ctx, tx, project, now, hash); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store %s: %w", hash, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		c.stores.Add(1)
		return c.evict(ctx, project)
	}
	return nil
}

// Touch marks hashes as used by project, keeping the project recent.
func (c *Cache) Touch(ctx context.Context, project string, hashes []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := touch(ctx, tx, project, time.Now().UnixNano(), hashes...); err != nil {
		return err
	}
	return tx.Commit()
}

func touch(ctx context.Context, tx *sql.Tx, project string, now int64, hashes ...string) error {
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memberships (hash, project) VALUES (?, ?)`, h, project); err != nil {
			return fmt.Errorf("record membership: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, last_used) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_used = excluded.last_used`, project, now)
	if err != nil {
		return fmt.Errorf("touch project %s: %w", project, err)
	}
	return nil
}

// evict drops the least recently used projects until the entry count is
// within bounds. An entry shared with a surviving project is kept. When only
// the current project is left, its oldest entries go.
func (c *Cache) evict(ctx context.Context, current string) error {
	for {
		count, err := c.count(ctx, `SELECT COUNT(*) FROM entries`)
		if err != nil {
			return err
		}
		excess := count - c.maxEntries
		if excess <= 0 {
			return nil
		}

		var victim string
		err = c.db.QueryRowContext(ctx,
			`SELECT name FROM projects WHERE name != ? ORDER BY last_used ASC, name ASC LIMIT 1`, current).Scan(&victim)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := c.db.ExecContext(ctx,
				`DELETE FROM entries WHERE hash IN (SELECT hash FROM entries ORDER BY created_at ASC, hash ASC LIMIT ?)`, excess)
			if err != nil {
				return fmt.Errorf("evict oldest entries: %w", err)
			}
			n, _ := res.RowsAffected()
			c.evictions.Add(uint64(n))
			_, err = c.db.ExecContext(ctx, `DELETE FROM memberships WHERE hash NOT IN (SELECT hash FROM entries)`)
			return err
		}
		if err != nil {
			return fmt.Errorf("select eviction victim: %w", err)
		}
		if err := c.dropProject(ctx, victim); err != nil {
			return err
		}
	}
}

func (c *Cache) dropProject(ctx context.Context, project string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM memberships WHERE project = ?`,
		`DELETE FROM projects WHERE name = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, project); err != nil {
			return fmt.Errorf("evict project %s: %w", project, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE hash NOT IN (SELECT hash FROM memberships)`)
	if err != nil {
		return fmt.Errorf("evict project %s: %w", project, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	c.evictions.Add(uint64(n))
	c.logger.Debug("evicted cache project", "project", project, "entries", n)
	return nil
}

func (c *Cache) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache rows: %w", err)
	}
	return n, nil
}

// Stats reports the cache contents.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Path:          c.path,
		FormatVersion: FormatVersion,
		MaxEntries:    c.maxEntries,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stores:        c.stores.Load(),
		Evictions:     c.evictions.Load(),
	}
	var bytes sql.NullInt64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(LENGTH(data)) FROM entries`).Scan(&s.Entries, &bytes)
	if err != nil {
		return s, fmt.Errorf("read cache stats: %w", err)
	}
	s.Bytes = bytes.Int64
	if s.Projects, err = c.count(ctx, `SELECT COUNT(*) FROM projects`); err != nil {
		return s, err
	}
	return s, nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	for _, table := range []string{"entries", "memberships", "projects"} {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c.dec != nil {
		c.dec.Close()
	}
	if c.enc != nil {
		_ = c.enc.Close()
	}
	return c.db.Close()
}
