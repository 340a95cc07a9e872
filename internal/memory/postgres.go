package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peopleinfo/pocketpaw/internal/bus"
)

// PostgresStore is the alternate durable backend for multi-instance
// deployments, mirroring the teacher's internal/store/pg cache-then-DB
// pattern (a hot in-memory cache absorbs the read traffic of a tool loop;
// writes go straight through).
type PostgresStore struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string][]Turn
}

// OpenPostgresStore connects using dsn, which must come from the
// environment (see config's secrets-from-env-only rule) and never from a
// persisted config file.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS turns (
			id BIGSERIAL PRIMARY KEY,
			session_key TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, id);
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate turns table: %w", err)
	}
	return &PostgresStore{pool: pool, cache: make(map[string][]Turn)}, nil
}

func (s *PostgresStore) AddToSession(ctx context.Context, key bus.SessionKey, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	ck := sessionCacheKey(key)

	s.mu.Lock()
	prior := s.cache[ck]
	if len(prior) > 0 && turn.CreatedAt.Before(prior[len(prior)-1].CreatedAt) {
		turn.CreatedAt = prior[len(prior)-1].CreatedAt.Add(time.Nanosecond)
	}
	s.cache[ck] = append(prior, turn)
	s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (session_key, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		ck, string(turn.Role), turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCompactedHistory(ctx context.Context, key bus.SessionKey, maxTurns int) ([]Turn, error) {
	ck := sessionCacheKey(key)

	s.mu.RLock()
	cached, ok := s.cache[ck]
	s.mu.RUnlock()

	if !ok {
		loaded, err := s.loadFromDB(ctx, ck)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[ck] = loaded
		s.mu.Unlock()
		cached = loaded
	}

	return Compact(cached, maxTurns, DefaultSummarize), nil
}

func (s *PostgresStore) loadFromDB(ctx context.Context, ck string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM turns WHERE session_key = $1 ORDER BY id ASC`, ck)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var role, content string
		var createdAt time.Time
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, Turn{Role: Role(role), Content: content, CreatedAt: createdAt})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
