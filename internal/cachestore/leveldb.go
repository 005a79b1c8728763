package cachestore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"net/http"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	g:<name>                   generation marker
//	e:<name>\x00<identity>     gob-encoded Entry
const (
	genPrefix   = "g:"
	entryPrefix = "e:"
	nameSep     = "\x00"
)

type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB is a leveldb-backed storage that lives in memory only.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Close() error { return l.db.Close() }

func (l *LevelDB) Open(name string) (Cache, error) {
	if err := l.db.Put([]byte(genPrefix+name), []byte{1}, nil); err != nil {
		return nil, err
	}
	return &levelCache{db: l.db, name: name}, nil
}

func (l *LevelDB) Has(name string) (bool, error) {
	return l.db.Has([]byte(genPrefix+name), nil)
}

func (l *LevelDB) Names() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(genPrefix)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(genPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Delete drops the marker and every entry of the generation in one batch.
func (l *LevelDB) Delete(name string) (bool, error) {
	existed, err := l.Has(name)
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(genPrefix + name))

	it := l.db.NewIterator(util.BytesPrefix(entryKeyPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return false, err
	}
	return existed, nil
}

func entryKeyPrefix(name string) []byte {
	return []byte(entryPrefix + name + nameSep)
}

type levelCache struct {
	db   *leveldb.DB
	name string
}

func (c *levelCache) Name() string { return c.name }

func (c *levelCache) key(identity string) []byte {
	return append(entryKeyPrefix(c.name), identity...)
}

func (c *levelCache) Match(identity string) (Entry, bool, error) {
	b, err := c.db.Get(c.key(identity), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false, err
	}
	return ent, true, nil
}

func (c *levelCache) Put(identity string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}
	return c.db.Put(c.key(identity), b, nil)
}

func (c *levelCache) Delete(identity string) error {
	return c.db.Delete(c.key(identity), nil)
}

func (c *levelCache) Keys() ([]string, error) {
	prefix := entryKeyPrefix(c.name)
	it := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return out, it.Error()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
