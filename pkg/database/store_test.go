package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seed = AdminSeed{Username: "admin", Email: "admin@example.com", PasswordHash: "$2a$10$hash"}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(NewMemoryBackend(nil), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Insert(ctx, Videos, Record{"title": "demo", "duration_seconds": 12, "thumbnail_path": nil})
	require.NoError(t, err)
	require.NotZero(t, rec.ID())
	assert.NotEmpty(t, rec.String("created_at"))
	assert.Equal(t, rec.String("created_at"), rec.String("updated_at"))

	got, err := s.Get(ctx, Videos, Conditions{"id": rec.ID()})
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-inserted +got):\n%s", diff)
	}
	assert.Equal(t, "demo", got.String("title"))
	assert.Equal(t, int64(12), got.Int64("duration_seconds"))
	assert.Contains(t, got, "thumbnail_path")
}

func TestInsertOverridesGeneratedFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Insert(ctx, Users, Record{"id": 7, "created_at": "yesterday", "username": "bob"})
	require.NoError(t, err)
	assert.NotEqual(t, int64(7), rec.ID())
	assert.NotEqual(t, "yesterday", rec.String("created_at"))
}

func TestIDsAreUniqueWithinSameMillisecond(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithClock(fixedClock(time.UnixMilli(1755168092284))))

	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		rec, err := s.Insert(ctx, Videos, Record{"n": i})
		require.NoError(t, err)
		require.False(t, seen[rec.ID()], "duplicate id %d", rec.ID())
		seen[rec.ID()] = true
	}
}

func TestIDsStayAboveStoredIDs(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(Dataset{Videos: {{"id": float64(9_000_000_000_000)}}})
	s := New(backend, WithClock(fixedClock(time.UnixMilli(1000))))

	rec, err := s.Insert(ctx, Videos, Record{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000_000_001), rec.ID())
}

func TestUpdatePreservesUntouchedFields(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 8, 14, 10, 0, 0, 0, time.UTC)
	now := start
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	rec, err := s.Insert(ctx, Videos, Record{"title": "old", "description": "keep me"})
	require.NoError(t, err)

	now = start.Add(time.Minute)
	n, err := s.Update(ctx, Videos, Conditions{"id": rec.ID()}, Record{"title": "new", "id": 1, "created_at": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, Videos, Conditions{"id": rec.ID()})
	require.NoError(t, err)
	assert.Equal(t, "new", got.String("title"))
	assert.Equal(t, "keep me", got.String("description"))
	assert.Equal(t, rec.String("created_at"), got.String("created_at"))
	assert.Equal(t, "2025-08-14T10:01:00.000Z", got.String("updated_at"))
}

func TestUpdateNoMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Update(ctx, Videos, Conditions{"id": 42}, Record{"title": "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteIsIdempotentOnAbsence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Insert(ctx, Videos, Record{"title": "a"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Videos, Record{"title": "b"})
	require.NoError(t, err)

	n, err := s.Delete(ctx, Videos, Conditions{"id": a.ID()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	before, err := s.Query(ctx, Videos, nil)
	require.NoError(t, err)

	n, err = s.Delete(ctx, Videos, Conditions{"id": a.ID()})
	require.NoError(t, err)
	assert.Zero(t, n)

	after, err := s.Query(ctx, Videos, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	require.Len(t, after, 1)
	assert.Equal(t, "b", after[0].String("title"))
}

func TestDeleteRemovesFirstMatchOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, title := range []string{"one", "two", "three"} {
		_, err := s.Insert(ctx, PlayHistory, Record{"user_id": 1, "label": title})
		require.NoError(t, err)
	}

	n, err := s.Delete(ctx, PlayHistory, Conditions{"user_id": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.Query(ctx, PlayHistory, Conditions{"user_id": 1})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "two", left[0].String("label"))
	assert.Equal(t, "three", left[1].String("label"))
}

func TestQueryConjunction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rows := []Record{
		{"a": 1, "b": 2},
		{"a": 1, "b": 3},
		{"a": 2, "b": 2},
		{"a": 1},
	}
	for _, r := range rows {
		_, err := s.Insert(ctx, "things", r)
		require.NoError(t, err)
	}

	both, err := s.Query(ctx, "things", Conditions{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, int64(2), both[0].Int64("b"))

	all, err := s.Query(ctx, "things", Conditions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.Query(ctx, "things", Conditions{"a": "1"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUnknownCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	recs, err := s.Query(ctx, "nope", nil)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	rec, err := s.Get(ctx, "nope", Conditions{"id": 1})
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := s.Delete(ctx, "nope", Conditions{"id": 1})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Insert(ctx, Videos, Record{"title": "orig"})
	require.NoError(t, err)
	rec["title"] = "mutated"

	got, err := s.Get(ctx, Videos, Conditions{"id": rec.ID()})
	require.NoError(t, err)
	assert.Equal(t, "orig", got.String("title"))
}

func TestStoreAcceptsDuplicateUsernames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Insert(ctx, Users, Record{"username": "alice", "email": "a@x.com", "password_hash": "H"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Users, Record{"username": "alice", "email": "other@x.com", "password_hash": "H"})
	require.NoError(t, err)

	users, err := s.Query(ctx, Users, Conditions{"username": "alice"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestInsertUniqueRejectsTakenField(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertUnique(ctx, Users, Record{"username": "alice", "email": "a@x.com"}, "username", "email")
	require.NoError(t, err)

	_, err = s.InsertUnique(ctx, Users, Record{"username": "bob", "email": "a@x.com"}, "username", "email")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)

	users, err := s.Query(ctx, Users, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestInsertUniqueConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.InsertUnique(ctx, Users, Record{"username": "race"}, "username"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestUpdateUniqueRejectsValueHeldByOtherRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice, err := s.Insert(ctx, Users, Record{"username": "alice", "email": "a@x.com"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Users, Record{"username": "bob", "email": "b@x.com"})
	require.NoError(t, err)

	n, err := s.UpdateUnique(ctx, Users, Conditions{"id": alice.ID()}, Record{"username": "bob", "email": "a@x.com"}, "username", "email")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "username", conflict.Field)
	assert.Zero(t, n)

	got, err := s.Get(ctx, Users, Conditions{"id": alice.ID()})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.String("username"))

	// Keeping its own email is not a conflict.
	n, err = s.UpdateUnique(ctx, Users, Conditions{"id": alice.ID()}, Record{"username": "alicia", "email": "a@x.com"}, "username", "email")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateUniqueConcurrentRenames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []int64
	for i := 0; i < 10; i++ {
		rec, err := s.Insert(ctx, Users, Record{"username": fmt.Sprintf("user%d", i)})
		require.NoError(t, err)
		ids = append(ids, rec.ID())
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.UpdateUnique(ctx, Users, Conditions{"id": id}, Record{"username": "taken"}, "username")
		}(id)
	}
	wg.Wait()

	users, err := s.Query(ctx, Users, Conditions{"username": "taken"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestInitializeCreatesSingleAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Initialize(ctx, seed))
	require.NoError(t, s.Initialize(ctx, seed))

	admins, err := s.Query(ctx, Users, Conditions{"is_admin": true})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "admin", admins[0].String("username"))
	assert.Equal(t, "admin@example.com", admins[0].String("email"))
	assert.Equal(t, seed.PasswordHash, admins[0].String("password_hash"))

	for _, name := range Collections {
		recs, err := s.Query(ctx, name, nil)
		require.NoError(t, err)
		assert.NotNil(t, recs)
	}
}

func TestInitializePromotesExistingDefaultUsername(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.Insert(ctx, Users, Record{"username": "admin", "email": "me@x.com", "is_admin": false})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx, seed))

	users, err := s.Query(ctx, Users, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, u.ID(), users[0].ID())
	assert.True(t, users[0].Bool("is_admin"))
}

func TestInitializeKeepsExistingAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Insert(ctx, Users, Record{"username": "root", "is_admin": true})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx, seed))

	users, err := s.Query(ctx, Users, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "root", users[0].String("username"))
}

type failingBackend struct {
	loadErr error
	saveErr error
	saved   int
}

func (b *failingBackend) Load(ctx context.Context) (Dataset, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return NewDataset(), nil
}

func (b *failingBackend) Save(ctx context.Context, d Dataset) error {
	b.saved++
	return b.saveErr
}

func (b *failingBackend) Close() error { return nil }

func TestReadFailurePropagatesByDefault(t *testing.T) {
	ctx := context.Background()
	disk := errors.New("disk on fire")
	s := New(&failingBackend{loadErr: disk})

	_, err := s.Query(ctx, Videos, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, disk)
}

func TestReadFailureDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	s := New(&failingBackend{loadErr: errors.New("corrupt")}, WithDegradeOnReadError(true))

	recs, err := s.Query(ctx, Videos, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	rec, err := s.Get(ctx, Users, Conditions{"username": "admin"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWriteFailureIsReported(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{saveErr: errors.New("read-only fs")}
	s := New(backend)

	rec, err := s.Insert(ctx, Videos, Record{"title": "lost"})
	assert.Nil(t, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, backend.saved)
}

func TestVideoLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.Insert(ctx, Videos, Record{"title": "demo"})
	require.NoError(t, err)

	all, err := s.Query(ctx, Videos, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, v.ID(), all[0].ID())

	n, err := s.Delete(ctx, Videos, Conditions{"id": v.ID()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, Videos, Conditions{"id": v.ID()})
	require.NoError(t, err)
	assert.Nil(t, got)
}
