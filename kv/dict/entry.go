package dict

import "math"

// ValueKind tags which slot of an entry's value union is live.
type ValueKind uint8

const (
	KindObject ValueKind = iota
	KindInt64
	KindUint64
	KindFloat64
)

// Entry is one key/value pair of a Dict. The value is either an object or
// one of three inline scalars; setting one replaces the others.
type Entry[K comparable] struct {
	key  K
	val  interface{}
	bits uint64
	kind ValueKind

	next *Entry[K]
	// stamp is the epoch of the last safe iterator that returned the entry.
	stamp   uint64
	removed bool
}

func (e *Entry[K]) Key() K {
	return e.key
}

func (e *Entry[K]) Kind() ValueKind {
	return e.kind
}

// Val returns the object value, or nil when a scalar is stored.
func (e *Entry[K]) Val() interface{} {
	if e.kind != KindObject {
		return nil
	}
	return e.val
}

func (e *Entry[K]) SetSignedIntegerVal(v int64) {
	e.val, e.bits, e.kind = nil, uint64(v), KindInt64
}

func (e *Entry[K]) SignedIntegerVal() int64 {
	return int64(e.bits)
}

func (e *Entry[K]) SetUnsignedIntegerVal(v uint64) {
	e.val, e.bits, e.kind = nil, v, KindUint64
}

func (e *Entry[K]) UnsignedIntegerVal() uint64 {
	return e.bits
}

func (e *Entry[K]) SetDoubleVal(v float64) {
	e.val, e.bits, e.kind = nil, math.Float64bits(v), KindFloat64
}

func (e *Entry[K]) DoubleVal() float64 {
	return math.Float64frombits(e.bits)
}
