package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	q:<id>                  JSON record
//	t:<19-digit nanos>:<id> timestamp index, value is the id
const (
	recordPrefix = "q:"
	indexPrefix  = "t:"
)

var syncWrite = &opt.WriteOptions{Sync: true}

type LevelDBStore struct {
	db *leveldb.DB
	// serializes read-modify-write against deletes
	mu sync.Mutex
}

func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open queue store %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func NewMemLevelDBStore() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Close() error { return s.db.Close() }

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

func indexKey(rec QueuedRequest) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", indexPrefix, rec.Timestamp.UnixNano(), rec.ID))
}

func (s *LevelDBStore) Put(_ context.Context, rec QueuedRequest) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	batch.Put(recordKey(rec.ID), b)
	batch.Put(indexKey(rec), []byte(rec.ID))
	return s.db.Write(batch, syncWrite)
}

func (s *LevelDBStore) Update(_ context.Context, rec QueuedRequest) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.db.Has(recordKey(rec.ID), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.db.Put(recordKey(rec.ID), b, syncWrite)
}

func (s *LevelDBStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(recordKey(id))
	batch.Delete(indexKey(rec))
	return s.db.Write(batch, syncWrite)
}

func (s *LevelDBStore) get(id string) (QueuedRequest, error) {
	b, err := s.db.Get(recordKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return QueuedRequest{}, ErrNotFound
	}
	if err != nil {
		return QueuedRequest{}, err
	}
	var rec QueuedRequest
	if err := json.Unmarshal(b, &rec); err != nil {
		return QueuedRequest{}, fmt.Errorf("decode queued request %s: %w", id, err)
	}
	return rec, nil
}

func (s *LevelDBStore) All(ctx context.Context) ([]QueuedRequest, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	it := snap.NewIterator(util.BytesPrefix([]byte(indexPrefix)), nil)
	defer it.Release()
	var out []QueuedRequest
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := string(it.Value())
		b, err := snap.Get(recordKey(id), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec QueuedRequest
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("decode queued request %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, it.Error()
}

func (s *LevelDBStore) Count(_ context.Context) (int, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}
