// Package storage holds the server keyspace: a fixed number of numbered
// databases, each mapping string keys to byte values with optional
// expiration times.
package storage

import (
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/dict"
	"github.com/pingcap/errors"
)

var ErrInvalidDB = errors.New("DB index is out of range")

// Toucher is told about every key modification so that optimistic
// transactions watching the key can be invalidated.
type Toucher interface {
	Touch(db int, key string)
	// TouchOnFlush is called before db is emptied, -1 meaning every
	// database. exists reports whether a key is currently stored.
	TouchOnFlush(db int, exists func(db int, key string) bool)
}

// ExpireHandler is called after a key was removed because its time to live
// elapsed.
type ExpireHandler func(db int, key string)

type Config struct {
	Databases int
	Seed      dict.Seed
	// DictOptions are applied to every table of every database.
	DictOptions []dict.Option
}

// Keyspace is not safe for concurrent use; the server serializes access.
type Keyspace struct {
	dbs      []*DB
	toucher  Toucher
	onExpire ExpireHandler
	now      func() time.Time

	expiredKeys uint64
	rehashDB    int
}

func NewKeyspace(cfg Config, toucher Toucher) *Keyspace {
	ks := &Keyspace{
		toucher: toucher,
		now:     time.Now,
	}
	ks.dbs = make([]*DB, cfg.Databases)
	for i := range ks.dbs {
		ks.dbs[i] = &DB{
			id:      i,
			ks:      ks,
			dict:    dict.New(dict.StringType(cfg.Seed), cfg.DictOptions...),
			expires: dict.New(dict.StringType(cfg.Seed), cfg.DictOptions...),
		}
	}
	return ks
}

func (ks *Keyspace) SetExpireHandler(h ExpireHandler) {
	ks.onExpire = h
}

// SetClock replaces the time source used for expiration.
func (ks *Keyspace) SetClock(now func() time.Time) {
	ks.now = now
}

func (ks *Keyspace) nowMs() int64 {
	return ks.now().UnixNano() / int64(time.Millisecond)
}

func (ks *Keyspace) NumDBs() int {
	return len(ks.dbs)
}

func (ks *Keyspace) DB(id int) (*DB, error) {
	if id < 0 || id >= len(ks.dbs) {
		return nil, ErrInvalidDB
	}
	return ks.dbs[id], nil
}

// ExpiredKeys returns how many keys were removed on expiration so far.
func (ks *Keyspace) ExpiredKeys() uint64 {
	return ks.expiredKeys
}

func (ks *Keyspace) exists(db int, key string) bool {
	return ks.dbs[db].dict.Find(key) != nil
}

// FlushDB removes every key of one database and returns how many were
// removed. Watchers of keys that existed are touched first.
func (ks *Keyspace) FlushDB(id int) (uint64, error) {
	db, err := ks.DB(id)
	if err != nil {
		return 0, err
	}
	ks.toucher.TouchOnFlush(id, ks.exists)
	return db.flush(), nil
}

// FlushAll empties every database.
func (ks *Keyspace) FlushAll() uint64 {
	ks.toucher.TouchOnFlush(-1, ks.exists)
	var removed uint64
	for _, db := range ks.dbs {
		removed += db.flush()
	}
	return removed
}

// Rehash spends up to budget migrating buckets of the first table found
// rehashing, starting after the database served last time. It returns the
// number of buckets migrated.
func (ks *Keyspace) Rehash(budget time.Duration) int {
	for i := 0; i < len(ks.dbs); i++ {
		db := ks.dbs[ks.rehashDB]
		ks.rehashDB = (ks.rehashDB + 1) % len(ks.dbs)
		if db.dict.IsRehashing() {
			return db.dict.RehashFor(budget)
		}
		if db.expires.IsRehashing() {
			return db.expires.RehashFor(budget)
		}
	}
	return 0
}

// TryResize shrinks every sparse table. It returns the number of tables
// that started a resize.
func (ks *Keyspace) TryResize() int {
	started := 0
	for _, db := range ks.dbs {
		if db.dict.TryShrink() {
			started++
		}
		if db.expires.TryShrink() {
			started++
		}
	}
	return started
}
