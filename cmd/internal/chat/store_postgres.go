package chat

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - The room cursor row is incremented with a single upsert that holds the row lock
//     until commit, so concurrent appends to one room are serialized.
//   - The message insert runs in the same transaction; a failed insert rolls the cursor
//     back and leaves no gap.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    nowFunc
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, schema: st.schema, now: systemNow}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append assigns the next room index and persists the message in one transaction.
func (s *PostgresStore) Append(ctx context.Context, room, username, content string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := validateAppend(room, username, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	ts := s.now().Unix()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "room_cursors")
	messages := pgIdent(s.schema, "messages")

	var idx int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+cursors+` AS c (room, next_index)
		 VALUES ($1, 1)
		 ON CONFLICT (room) DO UPDATE
		    SET next_index = c.next_index + 1,
		        updated_at = now()
		 RETURNING next_index - 1`,
		room,
	).Scan(&idx); err != nil {
		return Message{}, unavailable("allocate index", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (room, idx, username, content, created_ts)
		 VALUES ($1, $2, $3, $4, $5)`,
		room, idx, username, content, ts,
	); err != nil {
		return Message{}, unavailable("insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, unavailable("commit", err)
	}

	return Message{
		Room:      room,
		Index:     idx,
		Timestamp: ts,
		Username:  username,
		Content:   content,
	}, nil
}

// RecentMessages reads the newest rows and returns them oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampRecentLimit(limit)

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT room, idx, created_ts, username, content
		   FROM `+messages+`
		  WHERE room = $1
		  ORDER BY idx DESC
		  LIMIT $2`,
		room, limit,
	)
	if err != nil {
		return nil, unavailable("query recent", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Room, &m.Index, &m.Timestamp, &m.Username, &m.Content); err != nil {
			return nil, unavailable("scan recent", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query recent", err)
	}

	reverseMessages(out)
	return out, nil
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
