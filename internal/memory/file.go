package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/peopleinfo/pocketpaw/internal/bus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// FileStore is the embedded, cgo-free durable backend: one sqlite database
// file under dir, one row per turn. It writes no file directly; turn data
// goes through sqlite's own durability.
type FileStore struct {
	db  *sql.DB
	dir string

	mu    sync.RWMutex
	cache map[string][]Turn // hot-path cache, keyed by sanitized session key
}

// OpenFileStore opens (creating if absent) a sqlite-backed store at
// dir/pocketpaw.db.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "pocketpaw.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &FileStore{db: db, dir: dir, cache: make(map[string][]Turn)}, nil
}

// runMigrations applies internal/memory/migrations against db, the same
// migrate.New-and-Up shape the CLI's `migrate up` command uses against
// Postgres, pointed at the embedded sqlite schema instead of an on-disk
// migrations directory and a DSN.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func sessionCacheKey(k bus.SessionKey) string {
	return sanitizeSessionKey(k.Channel) + "/" + sanitizeSessionKey(k.ChatID)
}

// sanitizeSessionKey strips path-traversal characters the way the teacher's
// sanitizeFilename did for its on-disk session files — still relevant here
// because the cache key doubles as a log-correlation string.
func sanitizeSessionKey(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}

func (s *FileStore) AddToSession(ctx context.Context, key bus.SessionKey, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.mu.Lock()
	ck := sessionCacheKey(key)
	prior := s.cache[ck]
	if len(prior) > 0 && turn.CreatedAt.Before(prior[len(prior)-1].CreatedAt) {
		// Enforce monotonicity even if a caller's clock jitters.
		turn.CreatedAt = prior[len(prior)-1].CreatedAt.Add(time.Nanosecond)
	}
	s.cache[ck] = append(prior, turn)
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
		ck, string(turn.Role), turn.Content, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *FileStore) GetCompactedHistory(ctx context.Context, key bus.SessionKey, maxTurns int) ([]Turn, error) {
	ck := sessionCacheKey(key)

	s.mu.RLock()
	cached, ok := s.cache[ck]
	s.mu.RUnlock()

	var history []Turn
	if ok {
		history = cached
	} else {
		loaded, err := s.loadFromDB(ctx, ck)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[ck] = loaded
		s.mu.Unlock()
		history = loaded
	}

	return Compact(history, maxTurns, DefaultSummarize), nil
}

func (s *FileStore) loadFromDB(ctx context.Context, ck string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE session_key = ? ORDER BY id ASC`, ck)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var role, content string
		var createdAtNano int64
		if err := rows.Scan(&role, &content, &createdAtNano); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, Turn{Role: Role(role), Content: content, CreatedAt: time.Unix(0, createdAtNano)})
	}
	return out, rows.Err()
}

// dumpJSON is used only by tests to assert round-trip fidelity.
func (s *FileStore) dumpJSON(key bus.SessionKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.Marshal(s.cache[sessionCacheKey(key)])
	return string(data), err
}

func (s *FileStore) Close() error {
	return s.db.Close()
}
