package storage

import (
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DiskStore is a goleveldb-backed KV. Safe for concurrent use; goleveldb
// serializes writes internally.
type DiskStore struct {
	db *leveldb.DB
}

// OpenDisk opens (or creates) a leveldb store at path.
func OpenDisk(path string) (*DiskStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		if lerrors.IsCorrupted(err) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", path, err)
		}
	}
	return &DiskStore{db: db}, nil
}

func (s *DiskStore) GetItem(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *DiskStore) SetItem(key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *DiskStore) RemoveItem(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *DiskStore) MultiRemove(keys []string) error {
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete([]byte(k))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("multi remove: %w", err)
	}
	return nil
}

func (s *DiskStore) GetAllKeys() ([]string, error) {
	return s.iterKeys(nil)
}

func (s *DiskStore) KeysWithPrefix(prefix string) ([]string, error) {
	return s.iterKeys(util.BytesPrefix([]byte(prefix)))
}

func (s *DiskStore) iterKeys(slice *util.Range) ([]string, error) {
	it := s.db.NewIterator(slice, nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DiskStore) Close() error {
	return s.db.Close()
}
