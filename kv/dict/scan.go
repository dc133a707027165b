package dict

import "math/bits"

// Scan visits the buckets addressed by cursor and returns the cursor for the
// next call; a walk starts and ends at 0. Every entry present for the whole
// walk is visited at least once even when the table grows or shrinks between
// calls. Some entries may be visited more than once.
//
// The cursor is incremented on its reversed bits, so the buckets visited
// before a resize are exactly the ones whose expansion in the new size is
// skipped afterwards. While rehashing, the smaller generation's bucket and
// every bucket of the larger generation it expands to are visited together.
//
// fn must not add or delete entries.
func (d *Dict[K]) Scan(cursor uint64, fn func(e *Entry[K])) uint64 {
	if d.Len() == 0 {
		return 0
	}
	if !d.IsRehashing() {
		t0 := &d.ht[0]
		m0 := t0.mask
		emitBucket(t0.buckets[cursor&m0], fn)
		return nextCursor(cursor, m0)
	}

	t0, t1 := &d.ht[0], &d.ht[1]
	if t0.size() > t1.size() {
		t0, t1 = t1, t0
	}
	m0, m1 := t0.mask, t1.mask
	emitBucket(t0.buckets[cursor&m0], fn)
	for {
		emitBucket(t1.buckets[cursor&m1], fn)
		// Increment the bits not covered by the smaller mask.
		cursor = (((cursor | m0) + 1) &^ m0) | (cursor & m0)
		if cursor&(m0^m1) == 0 {
			break
		}
	}
	return nextCursor(cursor, m0)
}

func nextCursor(cursor, mask uint64) uint64 {
	cursor |= ^mask
	cursor = bits.Reverse64(cursor)
	cursor++
	return bits.Reverse64(cursor)
}

func emitBucket[K comparable](e *Entry[K], fn func(e *Entry[K])) {
	for e != nil {
		next := e.next
		fn(e)
		e = next
	}
}
