// Package store provides persistent storage capabilities using BadgerDB.
//
// Records are kept as JSON values in named tables (key prefixes). Every mutation runs
// inside a single badger transaction, so read-modify-write sequences are serializable:
// a concurrent writer to the same key makes the commit fail with badger.ErrConflict,
// and the store retries the whole callback.
package store

import (
	"encoding/json"
	stdErrors "errors"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
)

const maxConflictRetries = 10

// Store owns the badger database shared by all tables.
type Store struct {
	db *badger.DB
}

// Tx is one badger read-write transaction spanning any number of tables.
type Tx struct {
	txn *badger.Txn
}

// New opens (or creates) the badger database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}

	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "create badger directory")
	}

	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open badger db")
	}

	return &Store{db: db}, nil
}

// NewInMemory opens a badger database that lives in memory only.
func NewInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory badger db")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) Update(fn func(tx *Tx) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&Tx{txn: txn})
		})
		if !stdErrors.Is(err, badger.ErrConflict) {
			return err
		}
		log.Debugf("badger write conflict, retrying (attempt %d)", attempt+1)
	}

	return errors.Wrap(err, "too many write conflicts")
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Table is a typed collection of JSON records sharing a key prefix.
type Table[T any] struct {
	store  *Store
	prefix []byte
}

// NewTable binds a table name to the store.
func NewTable[T any](s *Store, name string) *Table[T] {
	return &Table[T]{store: s, prefix: []byte(name + "/")}
}

func (t *Table[T]) key(id string) []byte {
	k := make([]byte, 0, len(t.prefix)+len(id))
	k = append(k, t.prefix...)
	return append(k, id...)
}

// Insert stores a new record. Returns dto.ErrConflict if id is already taken.
func (t *Table[T]) Insert(id string, rec *T) error {
	return t.store.Update(func(tx *Tx) error {
		return t.InsertIn(tx, id, rec)
	})
}

// InsertIn is Insert within an existing transaction.
func (t *Table[T]) InsertIn(tx *Tx, id string, rec *T) error {
	if id == "" {
		return errors.New("key cannot be empty")
	}

	_, err := tx.txn.Get(t.key(id))
	switch {
	case err == nil:
		return errors.Wrapf(dto.ErrConflict, "%s%s", t.prefix, id)
	case !stdErrors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	return t.putIn(tx, id, rec)
}

// Put stores rec under id, replacing any existing record.
func (t *Table[T]) Put(id string, rec *T) error {
	return t.store.Update(func(tx *Tx) error {
		return t.putIn(tx, id, rec)
	})
}

func (t *Table[T]) putIn(tx *Tx, id string, rec *T) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}

	return tx.txn.Set(t.key(id), value)
}

// Get retrieves a record by id. Returns dto.ErrNotFound if it does not exist.
func (t *Table[T]) Get(id string) (*T, error) {
	var rec *T
	err := t.store.View(func(tx *Tx) error {
		var err error
		rec, err = t.getIn(tx, id)
		return err
	})

	return rec, err
}

func (t *Table[T]) getIn(tx *Tx, id string) (*T, error) {
	item, err := tx.txn.Get(t.key(id))
	if err != nil {
		if stdErrors.Is(err, badger.ErrKeyNotFound) {
			return nil, errors.Wrapf(dto.ErrNotFound, "%s%s", t.prefix, id)
		}
		return nil, err
	}

	rec := new(T)
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode record")
	}

	return rec, nil
}

// Mutate loads the record, applies fn and writes the result back in one transaction.
// Returns dto.ErrNotFound if the record does not exist; an error from fn aborts the write.
func (t *Table[T]) Mutate(id string, fn func(rec *T) error) (*T, error) {
	var out *T
	err := t.store.Update(func(tx *Tx) error {
		rec, err := t.getIn(tx, id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		out = rec
		return t.putIn(tx, id, rec)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Upsert is Mutate that also accepts a missing record: fn receives a zero value and
// exists=false in that case.
func (t *Table[T]) Upsert(id string, fn func(rec *T, exists bool) error) (*T, error) {
	var out *T
	err := t.store.Update(func(tx *Tx) error {
		rec, err := t.getIn(tx, id)
		exists := true
		if err != nil {
			if !stdErrors.Is(err, dto.ErrNotFound) {
				return err
			}
			rec, exists = new(T), false
		}
		if err := fn(rec, exists); err != nil {
			return err
		}
		out = rec
		return t.putIn(tx, id, rec)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Delete removes a record. Returns dto.ErrNotFound if it does not exist.
func (t *Table[T]) Delete(id string) error {
	return t.store.Update(func(tx *Tx) error {
		if _, err := tx.txn.Get(t.key(id)); err != nil {
			if stdErrors.Is(err, badger.ErrKeyNotFound) {
				return errors.Wrapf(dto.ErrNotFound, "%s%s", t.prefix, id)
			}
			return err
		}
		return tx.txn.Delete(t.key(id))
	})
}

// ClearIn deletes every record of the table within an existing transaction.
func (t *Table[T]) ClearIn(tx *Tx) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = t.prefix

	var keys [][]byte
	it := tx.txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := tx.txn.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

// Scan calls fn for every record in key order until fn returns false.
func (t *Table[T]) Scan(fn func(rec *T) bool) error {
	return t.store.View(func(tx *Tx) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = t.prefix

		it := tx.txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rec := new(T)
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, rec)
			}); err != nil {
				return errors.Wrap(err, "decode record")
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

// List returns every record accepted by keep (all records when keep is nil).
func (t *Table[T]) List(keep func(rec *T) bool) ([]*T, error) {
	out := make([]*T, 0)
	err := t.Scan(func(rec *T) bool {
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
		return true
	})

	return out, err
}
