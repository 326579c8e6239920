package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"video-sharing/pkg/metrics"
)

// Store is the record store. Every call loads the whole dataset from the
// backend and mutating calls write it back before returning. A single
// mutex serialises calls, so read-modify-write sequences inside one call
// never interleave within a process. Nothing coordinates separate
// processes sharing one backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	log     *zap.SugaredLogger
	now     func() time.Time
	lastID  int64

	degradeOnReadError bool
}

type Option func(*Store)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithDegradeOnReadError makes read failures behave like an empty
// dataset, logging the failure instead of returning it. Any write that
// follows replaces the unreadable data.
func WithDegradeOnReadError(enabled bool) Option {
	return func(s *Store) {
		s.degradeOnReadError = enabled
	}
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     zap.NewNop().Sugar(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AdminSeed describes the default administrator Initialize creates.
// PasswordHash is stored as given.
type AdminSeed struct {
	Username     string
	Email        string
	PasswordHash string
}

// Initialize makes sure every known collection exists and that at least
// one user carries is_admin=true. It is safe to call on every start.
func (s *Store) Initialize(ctx context.Context, seed AdminSeed) (err error) {
	defer s.observe("initialize", Users, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(ctx)
	if err != nil {
		return err
	}
	for _, name := range Collections {
		if d[name] == nil {
			d[name] = []Record{}
		}
	}

	users := d[Users]
	hasAdmin := false
	for _, u := range users {
		if u.Bool("is_admin") {
			hasAdmin = true
			break
		}
	}
	if !hasAdmin {
		ts := s.timestamp()
		promoted := false
		for _, u := range users {
			if u.String("username") == seed.Username {
				u["is_admin"] = true
				u["updated_at"] = ts
				promoted = true
				s.log.Infow("promoted existing user to admin", "username", seed.Username, "id", u.ID())
				break
			}
		}
		if !promoted {
			admin, err := canonicalRecord(Record{
				"id":            s.nextID(users),
				"username":      seed.Username,
				"email":         seed.Email,
				"password_hash": seed.PasswordHash,
				"is_admin":      true,
				"created_at":    ts,
				"updated_at":    ts,
			})
			if err != nil {
				return err
			}
			d[Users] = append(users, admin)
			s.log.Infow("created default admin", "username", seed.Username, "id", admin.ID())
		}
	}

	if err := s.save(ctx, d); err != nil {
		return err
	}
	metrics.SetUsersTotal(len(d[Users]))
	return nil
}

// Query returns copies of every record in collection matching all of
// cond, in storage order. An unknown collection yields an empty slice.
func (s *Store) Query(ctx context.Context, collection string, cond Conditions) (out []Record, err error) {
	defer s.observe("query", collection, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	cond, err = canonicalConditions(cond)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	out = []Record{}
	for _, r := range d[collection] {
		if r.matches(cond) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Get returns the first record matching cond, or nil when nothing does.
func (s *Store) Get(ctx context.Context, collection string, cond Conditions) (Record, error) {
	recs, err := s.Query(ctx, collection, cond)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Insert appends fields as a new record with a generated id and
// timestamps, persists, and returns the stored record.
func (s *Store) Insert(ctx context.Context, collection string, fields Record) (rec Record, err error) {
	defer s.observe("insert", collection, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.insertLocked(ctx, d, collection, fields)
}

// InsertUnique is Insert guarded by an atomic check that no record in
// collection already holds the same value for any of keys. Keys absent
// from fields are not checked.
func (s *Store) InsertUnique(ctx context.Context, collection string, fields Record, keys ...string) (rec Record, err error) {
	defer s.observe("insert_unique", collection, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	canon, err := canonicalRecord(fields)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	if err := checkUnique(d[collection], -1, collection, canon, keys); err != nil {
		return nil, err
	}
	return s.insertLocked(ctx, d, collection, canon)
}

// checkUnique reports a ConflictError when a record other than the one at
// skip already holds fields[key] for any of keys.
func checkUnique(recs []Record, skip int, collection string, fields Record, keys []string) error {
	for _, key := range keys {
		want, ok := fields[key]
		if !ok {
			continue
		}
		for i, r := range recs {
			if i != skip && r.matches(Conditions{key: want}) {
				return &ConflictError{Collection: collection, Field: key}
			}
		}
	}
	return nil
}

func (s *Store) insertLocked(ctx context.Context, d Dataset, collection string, fields Record) (Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("insert: empty collection name")
	}
	ts := s.timestamp()
	rec := make(Record, len(fields)+3)
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = s.nextID(d[collection])
	rec["created_at"] = ts
	rec["updated_at"] = ts

	rec, err := canonicalRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	d[collection] = append(d[collection], rec)
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update merges fields into the first record matching cond and refreshes
// updated_at. id and created_at in fields are ignored. It returns the
// number of records changed, 0 or 1.
func (s *Store) Update(ctx context.Context, collection string, cond Conditions, fields Record) (n int, err error) {
	defer s.observe("update", collection, time.Now(), &err)
	return s.update(ctx, collection, cond, fields, nil)
}

// UpdateUnique is Update guarded by an atomic check that no other record
// in collection holds the new value for any of keys. The matched record
// may keep its own values.
func (s *Store) UpdateUnique(ctx context.Context, collection string, cond Conditions, fields Record, keys ...string) (n int, err error) {
	defer s.observe("update_unique", collection, time.Now(), &err)
	return s.update(ctx, collection, cond, fields, keys)
}

func (s *Store) update(ctx context.Context, collection string, cond Conditions, fields Record, unique []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	idx, err := firstMatch(d[collection], cond)
	if err != nil || idx < 0 {
		return 0, err
	}
	canon, err := canonicalRecord(fields)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}
	if err := checkUnique(d[collection], idx, collection, canon, unique); err != nil {
		return 0, err
	}
	rec := d[collection][idx]
	for k, v := range canon {
		if k == "id" || k == "created_at" {
			continue
		}
		rec[k] = v
	}
	rec["updated_at"] = s.timestamp()
	if err := s.save(ctx, d); err != nil {
		return 0, err
	}
	return 1, nil
}

// Delete removes the first record matching cond. Callers wanting to
// remove several records call it once per record.
func (s *Store) Delete(ctx context.Context, collection string, cond Conditions) (n int, err error) {
	defer s.observe("delete", collection, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	recs := d[collection]
	idx, err := firstMatch(recs, cond)
	if err != nil || idx < 0 {
		return 0, err
	}
	d[collection] = append(recs[:idx:idx], recs[idx+1:]...)
	if err := s.save(ctx, d); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

func firstMatch(recs []Record, cond Conditions) (int, error) {
	cond, err := canonicalConditions(cond)
	if err != nil {
		return -1, err
	}
	for i, r := range recs {
		if r.matches(cond) {
			return i, nil
		}
	}
	return -1, nil
}

func (s *Store) load(ctx context.Context) (Dataset, error) {
	d, err := s.backend.Load(ctx)
	if err == nil {
		return d, nil
	}
	if s.degradeOnReadError {
		s.log.Errorw("reading dataset failed, continuing with empty data", "error", err)
		return NewDataset(), nil
	}
	s.log.Errorw("reading dataset failed", "error", err)
	return nil, fmt.Errorf("%w: load: %w", ErrPersistence, err)
}

func (s *Store) save(ctx context.Context, d Dataset) error {
	if err := s.backend.Save(ctx, d); err != nil {
		s.log.Errorw("writing dataset failed", "error", err)
		return fmt.Errorf("%w: save: %w", ErrPersistence, err)
	}
	return nil
}

// nextID derives ids from the wall clock in milliseconds but never hands
// out an id at or below the last one issued or the largest one stored.
func (s *Store) nextID(existing []Record) int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	for _, r := range existing {
		if rid := r.ID(); rid >= id {
			id = rid + 1
		}
	}
	s.lastID = id
	return id
}

func (s *Store) observe(op, collection string, start time.Time, errp *error) {
	metrics.ObserveStoreOp(op, collection, start, *errp)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimeLayout)
}
