package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeFactory func(t *testing.T) MessageStore

func storeBackends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) MessageStore {
			return NewInMemoryStore()
		},
		"pebble": func(t *testing.T) MessageStore {
			st, err := OpenPebbleStore(t.TempDir())
			if err != nil {
				t.Fatalf("open pebble: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"redis": func(t *testing.T) MessageStore {
			st, err := NewRedisStore(mustMiniRedisClient(t), WithKeyPrefix("murmur_test"))
			if err != nil {
				t.Fatalf("new redis store: %v", err)
			}
			return st
		},
	}
}

func TestMessageStore_SequentialIndices(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st := newStore(t)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				msg, err := st.Append(ctx, "general", "alice", fmt.Sprintf("m%d", i))
				if err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
				if msg.Index != int64(i) {
					t.Fatalf("append %d: index=%d want=%d", i, msg.Index, i)
				}
				if msg.Room != "general" || msg.Username != "alice" {
					t.Fatalf("append %d: unexpected message %+v", i, msg)
				}
				if msg.Timestamp <= 0 {
					t.Fatalf("append %d: timestamp=%d want>0", i, msg.Timestamp)
				}
			}

			// Rooms are independent sequences.
			other, err := st.Append(ctx, "random", "bob", "hi")
			if err != nil {
				t.Fatalf("append other room: %v", err)
			}
			if other.Index != 0 {
				t.Fatalf("other room index=%d want=0", other.Index)
			}
		})
	}
}

func TestMessageStore_ConcurrentAppendsAreGapFree(t *testing.T) {
	t.Parallel()

	const n = 50

	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st := newStore(t)
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

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
					msg, err := st.Append(ctx, "general", fmt.Sprintf("user%d", i), "hello")
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
				t.Fatalf("append errors: %v", errs[0])
			}
			assertGapFree(t, indices, n)

			recent, err := st.RecentMessages(ctx, "general", MaxRecentLimit)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(recent) != n {
				t.Fatalf("recent len=%d want=%d", len(recent), n)
			}
			for i, m := range recent {
				if m.Index != int64(i) {
					t.Fatalf("recent[%d].Index=%d want=%d", i, m.Index, i)
				}
			}
		})
	}
}

func TestMessageStore_RecentMessagesWindow(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st := newStore(t)
			ctx := context.Background()

			empty, err := st.RecentMessages(ctx, "general", 0)
			if err != nil {
				t.Fatalf("recent on empty room: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("empty room len=%d want=0", len(empty))
			}

			for i := 0; i < 15; i++ {
				if _, err := st.Append(ctx, "general", "alice", fmt.Sprintf("m%d", i)); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}

			cases := []struct {
				name      string
				limit     int
				wantLen   int
				wantFirst int64
			}{
				{name: "default", limit: 0, wantLen: DefaultRecentLimit, wantFirst: 5},
				{name: "explicit", limit: 3, wantLen: 3, wantFirst: 12},
				{name: "larger than room", limit: 100, wantLen: 15, wantFirst: 0},
			}
			for _, tc := range cases {
				got, err := st.RecentMessages(ctx, "general", tc.limit)
				if err != nil {
					t.Fatalf("%s: recent: %v", tc.name, err)
				}
				if len(got) != tc.wantLen {
					t.Fatalf("%s: len=%d want=%d", tc.name, len(got), tc.wantLen)
				}
				for i, m := range got {
					want := tc.wantFirst + int64(i)
					if m.Index != want {
						t.Fatalf("%s: [%d].Index=%d want=%d", tc.name, i, m.Index, want)
					}
					if m.Content != fmt.Sprintf("m%d", want) {
						t.Fatalf("%s: [%d].Content=%q want=%q", tc.name, i, m.Content, fmt.Sprintf("m%d", want))
					}
				}
			}
		})
	}
}

func TestMessageStore_AppendValidation(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st := newStore(t)
			ctx := context.Background()

			cases := []struct {
				room, username, content string
			}{
				{"general", "", "hi"},
				{"general", "alice", ""},
				{"general", "   ", "hi"},
				{"", "alice", "hi"},
			}
			for _, tc := range cases {
				_, err := st.Append(ctx, tc.room, tc.username, tc.content)
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("append(%q,%q,%q) err=%v want=%v", tc.room, tc.username, tc.content, err, ErrValidation)
				}
			}

			// Rejected appends must not consume an index.
			msg, err := st.Append(ctx, "general", "alice", "first")
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if msg.Index != 0 {
				t.Fatalf("index=%d want=0", msg.Index)
			}
		})
	}
}

func TestInMemoryStore_RetainsEveryMessage(t *testing.T) {
	t.Parallel()

	const n = 12_000

	st := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := st.Append(ctx, "general", "alice", "m"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	r := st.room("general", false)
	r.mu.Lock()
	kept, first := len(r.msgs), r.msgs[0].Index
	r.mu.Unlock()

	if kept != n || first != 0 {
		t.Fatalf("kept=%d first index=%d want=%d, 0", kept, first, n)
	}
}

func TestPebbleStore_RecoversNextIndexAfterReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	st, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := st.Append(ctx, "a/b", "alice", "hi"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// A room whose escaped name prefixes the other must not leak into it.
	if _, err := st.Append(ctx, "a", "bob", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	msg, err := st.Append(ctx, "a/b", "alice", "again")
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if msg.Index != 3 {
		t.Fatalf("index after reopen=%d want=3", msg.Index)
	}

	msg, err = st.Append(ctx, "a", "bob", "again")
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if msg.Index != 1 {
		t.Fatalf("index after reopen=%d want=1", msg.Index)
	}
}

func TestPebbleStore_ClosedIsUnavailable(t *testing.T) {
	t.Parallel()

	st, err := OpenPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := st.Append(context.Background(), "general", "alice", "hi"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("append after close err=%v want=%v", err, ErrStorageUnavailable)
	}
	if _, err := st.RecentMessages(context.Background(), "general", 10); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("recent after close err=%v want=%v", err, ErrStorageUnavailable)
	}
}

func TestRedisStore_ServerDownIsUnavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	st, err := NewRedisStore(client)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	mr.Close()

	_, err = st.Append(context.Background(), "general", "alice", "hi")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("append err=%v want=%v", err, ErrStorageUnavailable)
	}
}

func TestClampRecentLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want int
	}{
		{-1, DefaultRecentLimit},
		{0, DefaultRecentLimit},
		{1, 1},
		{MaxRecentLimit, MaxRecentLimit},
		{MaxRecentLimit + 1, MaxRecentLimit},
	}
	for _, tc := range cases {
		if got := clampRecentLimit(tc.in); got != tc.want {
			t.Fatalf("clampRecentLimit(%d)=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func mustMiniRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func assertGapFree(t *testing.T, indices []int64, n int) {
	t.Helper()

	if len(indices) != n {
		t.Fatalf("indices len=%d want=%d", len(indices), n)
	}
	sorted := append([]int64(nil), indices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, idx := range sorted {
		if idx != int64(i) {
			t.Fatalf("indices not gap-free: sorted[%d]=%d want=%d (all=%v)", i, idx, i, sorted)
		}
	}
}
