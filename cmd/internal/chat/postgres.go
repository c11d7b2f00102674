package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPGSchema = "murmur"

// PostgresOption configures the Postgres-backed store and registry.
type PostgresOption func(*pgSettings) error

type pgSettings struct {
	schema string
}

// WithSchema sets the DB schema (default: "murmur").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *pgSettings) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func applyPGOptions(pool *pgxpool.Pool, opts []PostgresOption) (pgSettings, error) {
	st := pgSettings{schema: defaultPGSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&st); err != nil {
			return pgSettings{}, err
		}
	}
	if pool == nil {
		return pgSettings{}, errors.New("chat: nil pool")
	}
	return st, nil
}

// ApplyPostgresSchema creates the tables used by PostgresStore and PostgresRegistry.
// Statements are idempotent.
func ApplyPostgresSchema(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) error {
	st, err := applyPGOptions(pool, opts)
	if err != nil {
		return err
	}

	cursors := pgIdent(st.schema, "room_cursors")
	messages := pgIdent(st.schema, "messages")
	connections := pgIdent(st.schema, "connections")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  room       TEXT PRIMARY KEY,
  next_index BIGINT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  room       TEXT NOT NULL,
  idx        BIGINT NOT NULL,
  username   TEXT NOT NULL,
  content    TEXT NOT NULL,
  created_ts BIGINT NOT NULL,

  PRIMARY KEY (room, idx),
  CONSTRAINT chk_messages_idx_non_negative CHECK (idx >= 0)
);

CREATE TABLE IF NOT EXISTS %s (
  id           TEXT PRIMARY KEY,
  connected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, pgx.Identifier{st.schema}.Sanitize(), cursors, messages, connections)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
