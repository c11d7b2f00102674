package chat

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry keeps live connection ids in the connections table.
// Like PostgresStore it does not own the pool.
type PostgresRegistry struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresRegistry constructs a Postgres-backed ConnectionRegistry.
func NewPostgresRegistry(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRegistry, error) {
	st, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresRegistry{pool: pool, schema: st.schema}, nil
}

// Add inserts the id; a conflicting insert is a no-op.
func (r *PostgresRegistry) Add(ctx context.Context, connectionID string) error {
	if r == nil || r.pool == nil {
		return errors.New("chat: nil registry")
	}
	if err := validateConnectionID(connectionID); err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(r.schema, "connections")+` (id) VALUES ($1)
		 ON CONFLICT (id) DO NOTHING`,
		connectionID,
	); err != nil {
		return unavailable("put connection", err)
	}
	return nil
}

// Remove deletes the id; deleting a missing row is a no-op.
func (r *PostgresRegistry) Remove(ctx context.Context, connectionID string) error {
	if r == nil || r.pool == nil {
		return errors.New("chat: nil registry")
	}
	if connectionID == "" {
		return nil
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(r.schema, "connections")+` WHERE id = $1`,
		connectionID,
	); err != nil {
		return unavailable("delete connection", err)
	}
	return nil
}

// ListAll scans every registered id, ordered by id.
func (r *PostgresRegistry) ListAll(ctx context.Context) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("chat: nil registry")
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM `+pgIdent(r.schema, "connections")+` ORDER BY id`)
	if err != nil {
		return nil, unavailable("scan connections", err)
	}
	defer rows.Close()

	out := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan connections", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan connections", err)
	}
	return out, nil
}
