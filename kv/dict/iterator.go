package dict

import (
	"encoding/binary"
	"reflect"

	"github.com/dgryski/go-farm"
)

// Iterator walks every bucket of both generations.
//
// A safe iterator may run while the table is modified through its normal
// API. It suppresses automatic growth and shrink until released, never
// returns the same entry twice and skips entries deleted before they are
// reached. Entries added during the walk may or may not be returned.
//
// An unsafe iterator allows only lookups. It records a fingerprint of the
// table when it starts, and Release panics if the table changed
// structurally in the meantime.
type Iterator[K comparable] struct {
	d    *Dict[K]
	safe bool

	started     bool
	tables      [2][]*Entry[K]
	table       int
	index       int
	next        *Entry[K]
	stamp       uint64
	fingerprint uint64
}

func (d *Dict[K]) Iterator() *Iterator[K] {
	return &Iterator[K]{d: d, index: -1}
}

func (d *Dict[K]) SafeIterator() *Iterator[K] {
	return &Iterator[K]{d: d, index: -1, safe: true}
}

func (it *Iterator[K]) start() {
	it.started = true
	it.tables = [2][]*Entry[K]{it.d.ht[0].buckets, it.d.ht[1].buckets}
	if it.safe {
		it.d.iterators++
		it.d.epoch++
		it.stamp = it.d.epoch
	} else {
		it.fingerprint = it.d.fingerprint()
	}
}

// Next returns the next entry, or nil when the walk is over.
func (it *Iterator[K]) Next() *Entry[K] {
	if !it.started {
		it.start()
	}
	for {
		e := it.next
		if e == nil {
			if e = it.advance(); e == nil {
				return nil
			}
		}
		it.next = e.next
		if it.safe {
			// A lazy rehash step may move an entry already returned into a
			// bucket that is still ahead of us.
			if e.removed || e.stamp == it.stamp {
				continue
			}
			e.stamp = it.stamp
		}
		return e
	}
}

func (it *Iterator[K]) advance() *Entry[K] {
	for {
		it.index++
		for it.index >= len(it.tables[it.table]) {
			if it.table == 1 {
				return nil
			}
			it.table, it.index = 1, 0
		}
		if e := it.tables[it.table][it.index]; e != nil {
			return e
		}
	}
}

// Release ends the walk. It must be called exactly once for every iterator
// whose Next was called.
func (it *Iterator[K]) Release() {
	if !it.started {
		return
	}
	it.started = false
	if it.safe {
		it.d.iterators--
		return
	}
	if it.fingerprint != it.d.fingerprint() {
		panic(ErrFingerprintMismatch)
	}
}

func slotsAddr[K comparable](buckets []*Entry[K]) uint64 {
	return uint64(reflect.ValueOf(buckets).Pointer())
}

func (d *Dict[K]) fingerprint() uint64 {
	fields := [...]uint64{
		d.id,
		slotsAddr(d.ht[0].buckets), d.ht[0].size(), d.ht[0].used,
		slotsAddr(d.ht[1].buckets), d.ht[1].size(), d.ht[1].used,
		uint64(d.rehashIdx),
		d.version,
	}
	buf := make([]byte, 8*len(fields))
	for i, f := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:], f)
	}
	return farm.Fingerprint64(buf)
}
