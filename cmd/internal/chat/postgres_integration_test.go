package chat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"murmur/cmd/internal/ids"
)

// Integration tests are enabled when MURMUR_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_ConcurrentAppendsAreGapFree(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const n = 40

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indices []int64
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := store.Append(ctx, "general", fmt.Sprintf("user%d", i), "hello")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			indices = append(indices, msg.Index)
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("append errors (%d): %v", len(errs), errs[0])
	}
	assertGapFree(t, indices, n)

	recent, err := store.RecentMessages(ctx, "general", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != DefaultRecentLimit {
		t.Fatalf("recent len=%d want=%d", len(recent), DefaultRecentLimit)
	}
	for i, m := range recent {
		if want := int64(n - DefaultRecentLimit + i); m.Index != want {
			t.Fatalf("recent[%d].Index=%d want=%d", i, m.Index, want)
		}
	}

	other, err := store.Append(ctx, "random", "bob", "first")
	if err != nil {
		t.Fatalf("append other room: %v", err)
	}
	if other.Index != 0 {
		t.Fatalf("other room index=%d want=0", other.Index)
	}
}

func TestPostgresRegistry_Idempotent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	reg, err := NewPostgresRegistry(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range []string{"B", "A", "B"} {
		if err := reg.Add(ctx, id); err != nil {
			t.Fatalf("add %q: %v", id, err)
		}
	}
	mustListAll(t, reg, []string{"A", "B"})

	for _, id := range []string{"A", "A", "missing"} {
		if err := reg.Remove(ctx, id); err != nil {
			t.Fatalf("remove %q: %v", id, err)
		}
	}
	mustListAll(t, reg, []string{"B"})
}

func TestNewPostgresStore_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if _, err := NewPostgresStore(&pgxpool.Pool{}, WithSchema("bad-schema;drop")); err == nil {
		t.Fatalf("expected error for invalid schema")
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("MURMUR_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: MURMUR_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse MURMUR_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	// Registered first so it runs after any schema cleanup.
	t.Cleanup(pool.Close)
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	schema := "murmur_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	if err := ApplyPostgresSchema(ctx, pool, WithSchema(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}
