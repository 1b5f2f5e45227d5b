package storage

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/sklearn/ensemble"
)

const keyPrefix = "model/"

// maxConflictRetries bounds retries of a read-modify-write that lost a race.
const maxConflictRetries = 5

// ErrNotFound is returned for an unknown model id.
var ErrNotFound = errors.New("model not found")

// Status is the lifecycle stage of a stored model.
type Status string

const (
	StatusCreated Status = "created"
	StatusReady   Status = "ready" // dataset uploaded
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusTrained Status = "trained"
	StatusFailed  Status = "failed"
)

// Record is everything the service knows about one model.
type Record struct {
	ID         string          `json:"id"`
	Name       string          `json:"model_name"`
	Kind       ensemble.Kind   `json:"kind"`
	Params     ensemble.Params `json:"ensemble_params"`
	Status     Status          `json:"status"`
	Target     string          `json:"target_name,omitempty"`
	TrainPath  string          `json:"train_dataset,omitempty"`
	ValPath    string          `json:"val_dataset,omitempty"`
	Features   []string        `json:"features,omitempty"`
	Loss       ensemble.Loss   `json:"loss"`
	Error      string          `json:"error,omitempty"`
	Model      []byte          `json:"model,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FitSeconds float64         `json:"fit_seconds,omitempty"`
}

// IsTrained reports whether the record holds a fitted model.
func (r *Record) IsTrained() bool {
	return r.Status == StatusTrained && len(r.Model) > 0
}

// Store is a Badger-backed record store. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger log.Logger
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, logger: log.GetLoggerWithName("storage")}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger)
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return errors.Wrap(s.db.Close(), "close badger database")
}

func key(id string) []byte { return []byte(keyPrefix + id) }

// Create assigns rec a fresh id and timestamps and stores it.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return put(txn, rec)
	})
}

// Get returns the record with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) (err error) {
		rec, err = get(txn, id)
		return err
	})
	return rec, err
}

// Update applies fn to the stored record and writes it back atomically.
// An error from fn aborts the update and is returned as is.
func (s *Store) Update(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	var rec *Record
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			if rec, err = get(txn, id); err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
			rec.ID = id
			rec.UpdatedAt = time.Now().UTC()
			return put(txn, rec)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("update conflict, retrying", log.EstimatorIDKey, id, log.IterationKey, attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// Delete removes the record with id, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			return notFound(err, id)
		}
		return txn.Delete(key(id))
	})
}

// List returns every record, oldest first, without the model blobs.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return errors.Wrapf(err, "decode %s", item.Key())
			}
			rec.Model = nil
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func get(txn *badger.Txn, id string) (*Record, error) {
	item, err := txn.Get(key(id))
	if err != nil {
		return nil, notFound(err, id)
	}
	rec := new(Record)
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "decode model %s", id)
	}
	return rec, nil
}

func put(txn *badger.Txn, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "encode model %s", rec.ID)
	}
	return txn.Set(key(rec.ID), data)
}

func notFound(err error, id string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.Wrapf(ErrNotFound, "model %s", id)
	}
	return errors.Wrapf(err, "read model %s", id)
}
