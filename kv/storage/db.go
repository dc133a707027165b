package storage

import (
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/dict"
)

// DB is one numbered database. Values are stored as []byte objects, and
// expiration times as unix milliseconds in the signed integer slot of the
// expires table.
type DB struct {
	id      int
	ks      *Keyspace
	dict    *dict.Dict[string]
	expires *dict.Dict[string]
}

func (db *DB) ID() int {
	return db.id
}

// Size returns the number of keys, including expired keys not yet removed.
func (db *DB) Size() uint64 {
	return db.dict.Len()
}

// Expires returns the number of keys with a time to live.
func (db *DB) Expires() uint64 {
	return db.expires.Len()
}

func (db *DB) touch(key string) {
	db.ks.toucher.Touch(db.id, key)
}

// expireIfNeeded removes key if it has expired and reports whether it did.
func (db *DB) expireIfNeeded(key string) bool {
	e := db.expires.Find(key)
	if e == nil || db.ks.nowMs() <= e.SignedIntegerVal() {
		return false
	}
	db.ks.expiredKeys++
	db.Delete(key)
	if db.ks.onExpire != nil {
		db.ks.onExpire(db.id, key)
	}
	return true
}

// Lookup returns the value of key, removing it first if it has expired.
func (db *DB) Lookup(key string) ([]byte, bool) {
	db.expireIfNeeded(key)
	v, ok := db.dict.FetchValue(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (db *DB) Exists(key string) bool {
	_, ok := db.Lookup(key)
	return ok
}

// Set stores val under key and clears any time to live.
func (db *DB) Set(key string, val []byte) {
	db.dict.Replace(key, val)
	db.expires.Delete(key)
	db.touch(key)
}

// Overwrite replaces the value of an existing key and keeps its time to
// live. It reports false if key does not exist.
func (db *DB) Overwrite(key string, val []byte) bool {
	e := db.dict.Find(key)
	if e == nil {
		return false
	}
	db.dict.SetVal(e, val)
	db.touch(key)
	return true
}

// Add stores val only if key is absent.
func (db *DB) Add(key string, val []byte) bool {
	db.expireIfNeeded(key)
	if db.dict.Add(key, val) != nil {
		return false
	}
	db.touch(key)
	return true
}

// Delete removes key and its time to live.
func (db *DB) Delete(key string) bool {
	db.expires.Delete(key)
	if !db.dict.Delete(key) {
		return false
	}
	db.touch(key)
	return true
}

// SetExpire makes key expire at when. It reports false if key does not
// exist.
func (db *DB) SetExpire(key string, when time.Time) bool {
	if db.dict.Find(key) == nil {
		return false
	}
	e, _ := db.expires.AddOrFind(key)
	e.SetSignedIntegerVal(when.UnixNano() / int64(time.Millisecond))
	db.touch(key)
	return true
}

// ExpireAt returns the expiration of key in unix milliseconds.
func (db *DB) ExpireAt(key string) (int64, bool) {
	e := db.expires.Find(key)
	if e == nil {
		return 0, false
	}
	return e.SignedIntegerVal(), true
}

// Persist removes the time to live of key.
func (db *DB) Persist(key string) bool {
	if !db.expires.Delete(key) {
		return false
	}
	db.touch(key)
	return true
}

// RandomKey returns a random live key.
func (db *DB) RandomKey() (string, bool) {
	for {
		e := db.dict.RandomEntry()
		if e == nil {
			return "", false
		}
		key := e.Key()
		if !db.expireIfNeeded(key) {
			return key, true
		}
	}
}

// Scan continues a cursor based walk over the keys, see dict.Scan. Expired
// keys are reported too; callers filter them with Exists.
func (db *DB) Scan(cursor uint64, fn func(key string)) uint64 {
	return db.dict.Scan(cursor, func(e *dict.Entry[string]) {
		fn(e.Key())
	})
}

// Keys returns every live key for which match returns true. Expired keys
// met on the way are removed.
func (db *DB) Keys(match func(key string) bool) []string {
	var keys []string
	it := db.dict.SafeIterator()
	defer it.Release()
	for e := it.Next(); e != nil; e = it.Next() {
		key := e.Key()
		if match(key) && !db.expireIfNeeded(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Slots returns the slot counts of the key and expiration tables.
func (db *DB) Slots() (uint64, uint64) {
	return db.dict.Slots(), db.expires.Slots()
}

// Stats returns the layout of the key and expiration tables.
func (db *DB) Stats() (dict.Stats, dict.Stats) {
	return db.dict.Stats(), db.expires.Stats()
}

func (db *DB) flush() uint64 {
	removed := db.dict.Len()
	db.dict.Empty(nil)
	db.expires.Empty(nil)
	return removed
}
