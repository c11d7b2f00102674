package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is a MessageStore on an embedded Pebble ordered key-value store.
//
// Key format: room/<escaped room>/msg/<index zero-padded to 20 digits>
// Lexicographic key order equals index order, so the newest messages are at the end
// of the room prefix.
//
// Index allocation is serialized per room by a mutex; the next index is recovered
// from the last key on first use after open.
type PebbleStore struct {
	now nowFunc

	mu    sync.RWMutex // guards db against Close
	db    *pebble.DB
	owned bool

	roomsMu sync.Mutex
	rooms   map[string]*pebbleRoom
}

var errPebbleClosed = errors.New("chat: pebble store closed")

type pebbleRoom struct {
	mu     sync.Mutex
	loaded bool
	next   int64
}

type pebbleRecord struct {
	Index     int64  `json:"i"`
	Timestamp int64  `json:"ts"`
	Username  string `json:"u"`
	Content   string `json:"c"`
}

// OpenPebbleStore opens (or creates) a Pebble database at dir. Close closes the database.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("chat: empty pebble dir")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, unavailable("pebble open", err)
	}
	s := NewPebbleStore(db)
	s.owned = true
	return s, nil
}

// NewPebbleStore wraps an already opened database. The caller keeps ownership of db.
func NewPebbleStore(db *pebble.DB) *PebbleStore {
	return &PebbleStore{
		now:   systemNow,
		db:    db,
		rooms: make(map[string]*pebbleRoom),
	}
}

// Close closes the database when the store opened it.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	var err error
	if s.owned {
		err = s.db.Close()
	}
	s.db = nil
	return err
}

func pebbleRoomPrefix(room string) []byte {
	return []byte("room/" + url.PathEscape(room) + "/msg/")
}

func pebbleMessageKey(room string, idx int64) []byte {
	return append(pebbleRoomPrefix(room), []byte(fmt.Sprintf("%020d", idx))...)
}

// prefixUpperBound returns the smallest key greater than every key with prefix p.
func prefixUpperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) roomState(room string) *pebbleRoom {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	r := s.rooms[room]
	if r == nil {
		r = &pebbleRoom{}
		s.rooms[room] = r
	}
	return r
}

// lastIndex returns the highest stored index of the room, or -1.
func lastIndex(db *pebble.DB, room string) (int64, error) {
	prefix := pebbleRoomPrefix(room)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return -1, iter.Error()
	}
	n, err := strconv.ParseInt(string(bytes.TrimPrefix(iter.Key(), prefix)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse key %q: %w", iter.Key(), err)
	}
	return n, nil
}

// Append writes the message under the next key of the room with a synced write.
func (s *PebbleStore) Append(ctx context.Context, room, username, content string) (Message, error) {
	if err := validateAppend(room, username, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Message{}, unavailable("pebble append", errPebbleClosed)
	}

	r := s.roomState(room)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		last, err := lastIndex(s.db, room)
		if err != nil {
			return Message{}, unavailable("pebble last index", err)
		}
		r.next = last + 1
		r.loaded = true
	}

	rec := pebbleRecord{
		Index:     r.next,
		Timestamp: s.now().Unix(),
		Username:  username,
		Content:   content,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return Message{}, fmt.Errorf("encode record: %w", err)
	}
	if err := s.db.Set(pebbleMessageKey(room, rec.Index), b, pebble.Sync); err != nil {
		return Message{}, unavailable("pebble set", err)
	}
	r.next++

	return Message{
		Room:      room,
		Index:     rec.Index,
		Timestamp: rec.Timestamp,
		Username:  username,
		Content:   content,
	}, nil
}

// RecentMessages walks the room prefix backwards and returns the window oldest first.
func (s *PebbleStore) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampRecentLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, unavailable("pebble recent", errPebbleClosed)
	}

	prefix := pebbleRoomPrefix(room)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, unavailable("pebble iter", err)
	}
	defer iter.Close()

	out := make([]Message, 0, limit)
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var rec pebbleRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", iter.Key(), err)
		}
		out = append(out, Message{
			Room:      room,
			Index:     rec.Index,
			Timestamp: rec.Timestamp,
			Username:  rec.Username,
			Content:   rec.Content,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, unavailable("pebble iter", err)
	}

	reverseMessages(out)
	return out, nil
}
