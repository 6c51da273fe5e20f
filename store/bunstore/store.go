// Package bunstore is a SQL backed auth.VersionedStore built on bun. Values
// are JSON encoded and scoped by a namespace, one per visitor session.
package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	auth "github.com/goliatone/go-auth-view"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var _ auth.VersionedStore = (*Store)(nil)

// DefaultTimeout bounds every store query
const DefaultTimeout = 2 * time.Second

const nullValue = "null"

// ValueModel is a row of the session_values table
type ValueModel struct {
	bun.BaseModel `bun:"table:session_values"`

	Namespace string    `bun:"namespace,pk"`
	Slot      string    `bun:"slot,pk"`
	Value     string    `bun:"value,notnull"`
	Version   int64     `bun:"version,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Store implements auth.VersionedStore on a bun database. Query errors are
// logged and read as absent values since the store interface is synchronous.
type Store struct {
	db        *bun.DB
	namespace string
	timeout   time.Duration
	logger    auth.Logger
	now       func() time.Time
}

// Option customizes a Store
type Option func(*Store)

// WithTimeout bounds each query
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the store logger
func WithLogger(logger auth.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the updated_at time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to a sqlite DSN through sqliteshim
func Open(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open session store").
			WithMetadata(map[string]any{"dsn": dsn})
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// New returns a store bound to namespace
func New(db *bun.DB, namespace string, opts ...Option) *Store {
	s := &Store{
		db:        db,
		namespace: namespace,
		timeout:   DefaultTimeout,
		logger:    auth.NewZapLogger(nil),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateTable creates session_values when missing
func CreateTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*ValueModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session_values table")
	}
	return nil
}

// Namespace returns the namespace the store reads and writes
func (s *Store) Namespace() string {
	return s.namespace
}

// WithNamespace returns a store sharing the same database under another namespace
func (s *Store) WithNamespace(namespace string) *Store {
	clone := *s
	clone.namespace = namespace
	return &clone
}

// Get implements auth.SessionStore. The user slot decodes to *auth.User,
// other slots to their generic JSON form.
func (s *Store) Get(key string) any {
	ctx, cancel := s.context()
	defer cancel()

	row, err := s.find(ctx, s.db, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("session store get %s/%s: %v", s.namespace, key, err)
		}
		return nil
	}
	return s.decode(key, row.Value)
}

// Set implements auth.SessionStore. A nil value keeps the row with a JSON
// null so the version keeps increasing.
func (s *Store) Set(key string, value any) {
	raw, err := encode(value)
	if err != nil {
		s.logger.Error("session store encode %s/%s: %v", s.namespace, key, err)
		return
	}

	ctx, cancel := s.context()
	defer cancel()

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		updated, err := s.update(ctx, tx, key, raw, nil)
		if err != nil || updated {
			return err
		}
		return s.insert(ctx, tx, key, raw)
	})
	if err != nil {
		s.logger.Error("session store set %s/%s: %v", s.namespace, key, err)
	}
}

// Version implements auth.VersionedStore
func (s *Store) Version(key string) uint64 {
	ctx, cancel := s.context()
	defer cancel()

	row, err := s.find(ctx, s.db, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("session store version %s/%s: %v", s.namespace, key, err)
		}
		return 0
	}
	return uint64(row.Version)
}

// CompareAndSet implements auth.VersionedStore. Version zero means the slot
// must not exist yet.
func (s *Store) CompareAndSet(key string, value any, version uint64) bool {
	raw, err := encode(value)
	if err != nil {
		s.logger.Error("session store encode %s/%s: %v", s.namespace, key, err)
		return false
	}

	ctx, cancel := s.context()
	defer cancel()

	swapped := false
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if version == 0 {
			_, err := s.find(ctx, tx, key)
			switch {
			case err == nil:
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
			if err := s.insert(ctx, tx, key, raw); err != nil {
				return err
			}
			swapped = true
			return nil
		}

		v := int64(version)
		updated, err := s.update(ctx, tx, key, raw, &v)
		swapped = updated
		return err
	})
	if err != nil {
		s.logger.Error("session store compare and set %s/%s: %v", s.namespace, key, err)
		return false
	}
	return swapped
}

func (s *Store) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) find(ctx context.Context, db bun.IDB, key string) (*ValueModel, error) {
	row := &ValueModel{}
	err := db.NewSelect().
		Model(row).
		Where("namespace = ?", s.namespace).
		Where("slot = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Store) update(ctx context.Context, db bun.IDB, key, raw string, version *int64) (bool, error) {
	q := db.NewUpdate().
		Model((*ValueModel)(nil)).
		Set("value = ?", raw).
		Set("version = version + 1").
		Set("updated_at = ?", s.now().UTC()).
		Where("namespace = ?", s.namespace).
		Where("slot = ?", key)
	if version != nil {
		q = q.Where("version = ?", *version)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) insert(ctx context.Context, db bun.IDB, key, raw string) error {
	_, err := db.NewInsert().
		Model(&ValueModel{
			Namespace: s.namespace,
			Slot:      key,
			Value:     raw,
			Version:   1,
			UpdatedAt: s.now().UTC(),
		}).
		Exec(ctx)
	return err
}

func (s *Store) decode(key, raw string) any {
	if raw == "" || raw == nullValue {
		return nil
	}
	if key == auth.UserKey {
		if u := auth.UserFromValue(json.RawMessage(raw)); u != nil {
			return u
		}
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Error("session store decode %s/%s: %v", s.namespace, key, err)
		return nil
	}
	return out
}

func encode(value any) (string, error) {
	if value == nil {
		return nullValue, nil
	}
	if u, ok := value.(*auth.User); ok && u == nil {
		return nullValue, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
