package users

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// register runs the whole insert/finalize/commit cycle.
func register(t *testing.T, s *Store, username, email string) User {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	u, err := tx.Insert(ctx, NewUser{Username: username, Email: email})
	require.NoError(t, err)
	subject := fmt.Sprintf("%03d", u.ID)
	require.NoError(t, tx.Finalize(ctx, u.ID, subject, "cards/"+username+".png", HashKey(username+"-key")))
	require.NoError(t, tx.Commit())
	return u
}

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "users.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='users'").Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "users", name)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	s1, err := Open(path)
	require.NoError(t, err)
	register(t, s1, "ada", "ada@example.com")
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOpen_WALMode(t *testing.T) {
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestStore_RegisterAndGet(t *testing.T) {
	s := openTestStore(t)
	created := register(t, s, "ada", "ada@example.com")

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "ada", got.Username)
	require.Equal(t, "Anon", got.Name, "name defaults to Anon")
	require.Equal(t, fmt.Sprintf("%03d", created.ID), got.SubjectNo)
	require.Equal(t, "cards/ada.png", got.CardPath)
	require.True(t, VerifyKey("ada-key", got.KeyHash))
	require.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
	require.Nil(t, got.EmailedAt)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTx_DuplicateUsernameConflicts(t *testing.T) {
	s := openTestStore(t)
	register(t, s, "ada", "ada@example.com")

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Insert(ctx, NewUser{Username: "ada", Email: "other@example.com"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestTx_DuplicateEmailConflicts(t *testing.T) {
	s := openTestStore(t)
	register(t, s, "ada", "ada@example.com")

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Insert(ctx, NewUser{Username: "grace", Email: "ada@example.com"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestTx_RollbackDiscardsInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, NewUser{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStore_MarkEmailed(t *testing.T) {
	s := openTestStore(t)
	u := register(t, s, "ada", "ada@example.com")
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.MarkEmailed(context.Background(), u.ID, at))
	got, err := s.Get(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EmailedAt)
	require.True(t, at.Equal(*got.EmailedAt))

	require.ErrorIs(t, s.MarkEmailed(context.Background(), 4242, at), ErrNotFound)
}

func TestStore_ListOrdersByID(t *testing.T) {
	s := openTestStore(t)
	register(t, s, "ada", "ada@example.com")
	register(t, s, "grace", "grace@example.com")
	require.NoError(t, s.Ping(context.Background()))

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Less(t, list[0].ID, list[1].ID)
	require.Equal(t, "grace", list[1].Username)
}

func TestStore_ImportSkipsConflicts(t *testing.T) {
	src := openTestStore(t)
	dst := openTestStore(t)
	register(t, src, "ada", "ada@example.com")
	register(t, src, "grace", "grace@example.com")
	register(t, dst, "ada", "ada@example.com")

	rep, err := dst.Import(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Copied)
	require.Equal(t, []string{"ada"}, rep.Skipped)

	list, err := dst.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
}

// TestStore_SubjectNumbersUnique is a property-based test: however many users
// register, each gets its own subject number.
func TestStore_SubjectNumbersUnique(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s, err := Open(filepath.Join(t.TempDir(), "users.db"))
		if err != nil {
			rt.Fatalf("open: %v", err)
		}
		defer s.Close()

		n := rapid.IntRange(1, 15).Draw(rt, "n")
		ctx := context.Background()
		for i := 0; i < n; i++ {
			tx, err := s.Begin(ctx)
			if err != nil {
				rt.Fatalf("begin: %v", err)
			}
			u, err := tx.Insert(ctx, NewUser{Username: fmt.Sprintf("user%d", i), Email: fmt.Sprintf("u%d@example.com", i)})
			if err != nil {
				rt.Fatalf("insert: %v", err)
			}
			if err := tx.Finalize(ctx, u.ID, fmt.Sprintf("%03d", u.ID), fmt.Sprintf("cards/%d.png", u.ID), HashKey(fmt.Sprint(i))); err != nil {
				rt.Fatalf("finalize: %v", err)
			}
			if err := tx.Commit(); err != nil {
				rt.Fatalf("commit: %v", err)
			}
		}

		list, err := s.List(ctx)
		if err != nil {
			rt.Fatalf("list: %v", err)
		}
		seen := map[string]bool{}
		for _, u := range list {
			if seen[u.SubjectNo] {
				rt.Fatalf("duplicate subject number %s", u.SubjectNo)
			}
			seen[u.SubjectNo] = true
		}
		if len(seen) != n {
			rt.Fatalf("got %d users, want %d", len(seen), n)
		}
	})
}
