package variantcache

import (
	"errors"
	"time"

	"github.com/tidwall/buntdb"
)

const buntAutoShrinkSize = 1024 * 1024

// BuntStore is the production Store, an embedded ordered KV database
// with native per-key TTL and prefix (`AscendKeys`) iteration.
type BuntStore struct {
	db *buntdb.DB
}

func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    buntAutoShrinkSize,
		AutoShrinkPercentage: 50,
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) Get(key string) ([]byte, bool, error) {
	var value string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *BuntStore) Set(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if ttl > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: ttl}
		}
		_, _, err := tx.Set(key, string(value), opts)
		return err
	})
}

func (s *BuntStore) Delete(key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *BuntStore) AscendKeys(pattern string, fn func(key string, value []byte) bool) error {
	return s.db.View(func(tx *buntdb.Tx) error {
		tx.AscendKeys(pattern, func(key, value string) bool {
			return fn(key, []byte(value))
		})
		return nil
	})
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
