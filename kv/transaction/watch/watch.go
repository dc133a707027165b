// Package watch keeps track of which sessions watch which keys for
// optimistic transactions, and flags every watcher of a key when the key
// is modified.
package watch

import (
	"strconv"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinyredis/kv/dict"
	"github.com/pingcap/errors"
)

const btreeDegree = 8

// Key identifies a key inside one numbered database.
type Key struct {
	DB   int
	Name string
}

func (k Key) Less(than btree.Item) bool {
	o := than.(Key)
	if k.DB != o.DB {
		return k.DB < o.DB
	}
	return k.Name < o.Name
}

// Session is the session side of a watch. WatchedKeys returns the list the
// index maintains on the session's behalf, and FlagConflict marks the
// session's pending transaction as doomed.
type Session interface {
	SessionID() uint64
	WatchedKeys() *List
	FlagConflict()
}

// List is the ordered set of keys one session watches.
type List struct {
	keys *btree.BTree
}

func NewList() *List {
	return &List{keys: btree.New(btreeDegree)}
}

func (l *List) Len() int {
	return l.keys.Len()
}

func (l *List) Contains(k Key) bool {
	return l.keys.Has(k)
}

// Keys returns the watched keys ordered by database, then name.
func (l *List) Keys() []Key {
	keys := make([]Key, 0, l.keys.Len())
	l.keys.Ascend(func(i btree.Item) bool {
		keys = append(keys, i.(Key))
		return true
	})
	return keys
}

type sessionItem struct {
	s Session
}

func (i sessionItem) Less(than btree.Item) bool {
	return i.s.SessionID() < than.(sessionItem).s.SessionID()
}

// Index maps every watched key to the sessions watching it. A key is
// present only while at least one session watches it.
type Index struct {
	keys *dict.Dict[Key]
}

// NewIndex creates an index whose table hashes keys with seed.
func NewIndex(seed dict.Seed, opts ...dict.Option) *Index {
	hash := seed.HashFunction()
	typ := &dict.Type[Key]{
		Hash: func(k Key) uint64 {
			return hash(strconv.Itoa(k.DB) + ":" + k.Name)
		},
	}
	return &Index{keys: dict.New(typ, opts...)}
}

// Len returns the number of distinct watched keys.
func (ix *Index) Len() int {
	return int(ix.keys.Len())
}

func (ix *Index) IsWatched(k Key) bool {
	return ix.keys.Find(k) != nil
}

// Watchers returns the sessions watching k in session id order.
func (ix *Index) Watchers(k Key) []Session {
	e := ix.keys.Find(k)
	if e == nil {
		return nil
	}
	var sessions []Session
	e.Val().(*btree.BTree).Ascend(func(i btree.Item) bool {
		sessions = append(sessions, i.(sessionItem).s)
		return true
	})
	return sessions
}

// Watch registers s as a watcher of k. Watching a key twice is a no-op and
// returns false.
func (ix *Index) Watch(s Session, k Key) bool {
	l := s.WatchedKeys()
	if l.Contains(k) {
		return false
	}
	e, inserted := ix.keys.AddOrFind(k)
	if inserted {
		ix.keys.SetVal(e, btree.New(btreeDegree))
	}
	e.Val().(*btree.BTree).ReplaceOrInsert(sessionItem{s: s})
	l.keys.ReplaceOrInsert(k)
	return true
}

// UnwatchAll removes every watch of s. Keys left without watchers are
// dropped from the index.
func (ix *Index) UnwatchAll(s Session) {
	l := s.WatchedKeys()
	if l.Len() == 0 {
		return
	}
	l.keys.Ascend(func(i btree.Item) bool {
		k := i.(Key)
		e := ix.keys.Find(k)
		if e == nil {
			panic(errors.Errorf("watched key %d:%q missing from index", k.DB, k.Name))
		}
		watchers := e.Val().(*btree.BTree)
		watchers.Delete(sessionItem{s: s})
		if watchers.Len() == 0 {
			ix.keys.Delete(k)
		}
		return true
	})
	l.keys = btree.New(btreeDegree)
}

// Touch flags every session watching key in db.
func (ix *Index) Touch(db int, key string) {
	e := ix.keys.Find(Key{DB: db, Name: key})
	if e == nil {
		return
	}
	flagAll(e.Val().(*btree.BTree))
}

// TouchOnFlush flags the watchers of every watched key of db that exists
// when the database is about to be flushed. A db of -1 covers all
// databases. exists must not modify the index.
func (ix *Index) TouchOnFlush(db int, exists func(db int, key string) bool) {
	it := ix.keys.Iterator()
	defer it.Release()
	for e := it.Next(); e != nil; e = it.Next() {
		k := e.Key()
		if db != -1 && k.DB != db {
			continue
		}
		if exists(k.DB, k.Name) {
			flagAll(e.Val().(*btree.BTree))
		}
	}
}

func flagAll(watchers *btree.BTree) {
	watchers.Ascend(func(i btree.Item) bool {
		i.(sessionItem).s.FlagConflict()
		return true
	})
}
