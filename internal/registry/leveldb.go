package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lan_presence/internal/dataType"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const keyPrefixIdentity = "identity/"

// LevelDB stores CBOR encoded records in an embedded database. Writes are
// serialized by mu so read-modify-write cycles never interleave.
type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromIdentity(identity string) []byte {
	return append([]byte(keyPrefixIdentity), identity...)
}

func initLevelDB(path string) (*leveldb.DB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	db, err := leveldb.OpenFile(path, opts)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := initLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open leveldb at %s: %w", path, err)
	}
	return &LevelDB{path: path, db: db}, nil
}

func (l *LevelDB) get(identity string) (dataType.IdentityRecord, error) {
	b, err := l.db.Get(keyFromIdentity(identity), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return dataType.IdentityRecord{}, ErrNotFound
	}
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: get %s: %w", identity, err)
	}
	return unmarshalRecord(b)
}

func (l *LevelDB) put(rec dataType.IdentityRecord) error {
	b, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	if err := l.db.Put(keyFromIdentity(rec.Identity), b, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("registry: put %s: %w", rec.Identity, err)
	}
	return nil
}

func (l *LevelDB) Create(_ context.Context, identity string) (dataType.IdentityRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.db.Has(keyFromIdentity(identity), nil)
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: lookup %s: %w", identity, err)
	}
	if ok {
		return dataType.IdentityRecord{}, ErrAlreadyExists
	}
	rec := newRecord(identity)
	if err := l.put(rec); err != nil {
		return dataType.IdentityRecord{}, err
	}
	return rec, nil
}

func (l *LevelDB) Get(_ context.Context, identity string) (dataType.IdentityRecord, error) {
	return l.get(identity)
}

func (l *LevelDB) Update(_ context.Context, identity string, p dataType.Presence) (dataType.IdentityRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(identity)
	if err != nil {
		return dataType.IdentityRecord{}, err
	}
	rec = rec.WithPresence(p)
	if err := l.put(rec); err != nil {
		return dataType.IdentityRecord{}, err
	}
	return rec, nil
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
