// Package dict implements an in-memory chained hash table that resizes by
// incremental rehashing. A table keeps two generations of slot arrays; while
// a resize is in progress every insert and delete migrates a bounded number
// of buckets from the old generation to the new one, so no single operation
// pays for the whole migration.
package dict

import (
	"math/rand"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

const (
	// InitialSize is the slot count of a freshly allocated generation and the
	// floor for every shrink.
	InitialSize uint64 = 4

	defaultForceResizeRatio uint64 = 5
	defaultMinFillPercent   uint64 = 10

	// rehashBatch is the number of buckets migrated between two clock checks
	// of RehashFor.
	rehashBatch = 100
	// emptyVisitsPerStep caps how many empty buckets one step may skip.
	emptyVisitsPerStep = 10
)

var (
	ErrKeyExists           = errors.New("dict: key already exists")
	ErrExpandRejected      = errors.New("dict: expand rejected")
	ErrResizeDisabled      = errors.New("dict: resize disabled")
	ErrFingerprintMismatch = errors.New("dict: table mutated during unsafe iteration")
)

var dictIDs = atomic.NewUint64(0)

// Type holds the per-table key and value lifecycle callbacks. Hash is
// required. A nil KeyCompare compares keys with ==.
type Type[K comparable] struct {
	Hash          func(key K) uint64
	KeyDup        func(key K) K
	ValDup        func(val interface{}) interface{}
	KeyCompare    func(k1, k2 K) bool
	KeyDestructor func(key K)
	ValDestructor func(val interface{})
}

// ResizeSwitch is the administrative resize-enable flag. One switch is
// usually shared by every table of a server and turned off while a bulk
// background job would suffer from copy-on-write page churn. A disabled
// switch still lets a table grow once its load factor passes the force ratio.
type ResizeSwitch struct {
	enabled *atomic.Bool
}

func NewResizeSwitch() *ResizeSwitch {
	return &ResizeSwitch{enabled: atomic.NewBool(true)}
}

func (s *ResizeSwitch) Enable()  { s.enabled.Store(true) }
func (s *ResizeSwitch) Disable() { s.enabled.Store(false) }

// Enabled reports whether automatic resizing is allowed. A nil switch is
// always enabled.
func (s *ResizeSwitch) Enabled() bool {
	return s == nil || s.enabled.Load()
}

type options struct {
	resize      *ResizeSwitch
	initialSize uint64
	forceRatio  uint64
	minFill     uint64
	source      rand.Source
}

// Option configures a Dict at construction time.
type Option func(*options)

func WithResizeSwitch(s *ResizeSwitch) Option {
	return func(o *options) { o.resize = s }
}

// WithInitialSize sets the size of the first generation. It is rounded up to
// a power of two and never below InitialSize.
func WithInitialSize(size uint64) Option {
	return func(o *options) { o.initialSize = nextPower(size) }
}

// WithForceResizeRatio sets the load factor above which a table grows even
// when its resize switch is off.
func WithForceResizeRatio(ratio uint64) Option {
	return func(o *options) { o.forceRatio = ratio }
}

// WithMinFillPercent sets the fill percentage under which a delete shrinks
// the table.
func WithMinFillPercent(percent uint64) Option {
	return func(o *options) { o.minFill = percent }
}

func WithRandSource(src rand.Source) Option {
	return func(o *options) { o.source = src }
}

type table[K comparable] struct {
	buckets []*Entry[K]
	mask    uint64
	used    uint64
}

func newTable[K comparable](size uint64) table[K] {
	return table[K]{buckets: make([]*Entry[K], size), mask: size - 1}
}

func (t *table[K]) size() uint64 {
	return uint64(len(t.buckets))
}

// Dict is a hash table with incremental rehashing. It is not safe for
// concurrent use.
type Dict[K comparable] struct {
	typ *Type[K]
	ht  [2]table[K]
	// rehashIdx is the next bucket of ht[0] to migrate, -1 when idle.
	rehashIdx int64
	// iterators counts the safe iterators currently open.
	iterators int

	id      uint64
	version uint64
	epoch   uint64
	// chains[l] counts the buckets of both generations holding a chain of
	// length l. longest is the largest l with a non-zero count. RandomEntry
	// uses it to even out chain length differences.
	chains  []uint64
	longest int

	resize      *ResizeSwitch
	initialSize uint64
	forceRatio  uint64
	minFill     uint64
	rnd         *rand.Rand
}

// New creates an empty table. Slot arrays are allocated on first insert.
func New[K comparable](typ *Type[K], opts ...Option) *Dict[K] {
	o := options{
		initialSize: InitialSize,
		forceRatio:  defaultForceResizeRatio,
		minFill:     defaultMinFillPercent,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == nil {
		o.source = rand.NewSource(time.Now().UnixNano())
	}
	return &Dict[K]{
		typ:         typ,
		rehashIdx:   -1,
		id:          dictIDs.Inc(),
		resize:      o.resize,
		initialSize: o.initialSize,
		forceRatio:  o.forceRatio,
		minFill:     o.minFill,
		rnd:         rand.New(o.source),
	}
}

// Len returns the number of entries across both generations.
func (d *Dict[K]) Len() uint64 {
	return d.ht[0].used + d.ht[1].used
}

// Slots returns the number of buckets across both generations.
func (d *Dict[K]) Slots() uint64 {
	return d.ht[0].size() + d.ht[1].size()
}

func (d *Dict[K]) IsRehashing() bool {
	return d.rehashIdx != -1
}

func nextPower(size uint64) uint64 {
	const maxSize = uint64(1) << 63
	if size >= maxSize {
		return maxSize
	}
	i := InitialSize
	for i < size {
		i <<= 1
	}
	return i
}

// Expand makes the table hold at least size buckets. On an empty table the
// new generation becomes active immediately, otherwise an incremental
// rehash into it starts. Expand is rejected while rehashing, while a safe
// iterator is open, when size cannot hold the current entries, or when the
// resulting size equals the current one.
func (d *Dict[K]) Expand(size uint64) error {
	if d.IsRehashing() || d.ht[0].used > size {
		return ErrExpandRejected
	}
	if d.iterators > 0 && d.ht[0].buckets != nil {
		return ErrExpandRejected
	}
	realSize := nextPower(size)
	if realSize == d.ht[0].size() {
		return ErrExpandRejected
	}
	n := newTable[K](realSize)
	d.version++
	if d.ht[0].buckets == nil {
		d.ht[0] = n
		return nil
	}
	d.ht[1] = n
	d.rehashIdx = 0
	return nil
}

// Resize shrinks or grows the table to the smallest size that holds all its
// entries with a load factor not above 1, never going below the configured
// initial size.
func (d *Dict[K]) Resize() error {
	if !d.resize.Enabled() {
		return ErrResizeDisabled
	}
	minimal := d.ht[0].used
	if minimal < d.initialSize {
		minimal = d.initialSize
	}
	return d.Expand(minimal)
}

// Rehash migrates up to n non-empty buckets to the incoming generation and
// reports whether migration is still incomplete. At most 10*n empty buckets
// are visited.
func (d *Dict[K]) Rehash(n int) bool {
	if !d.IsRehashing() {
		return false
	}
	d.version++
	emptyVisits := n * emptyVisitsPerStep
	for ; n > 0 && d.ht[0].used != 0; n-- {
		for d.ht[0].buckets[d.rehashIdx] == nil {
			d.rehashIdx++
			emptyVisits--
			if emptyVisits == 0 {
				return true
			}
		}
		e := d.ht[0].buckets[d.rehashIdx]
		left := chainLen(e)
		for e != nil {
			next := e.next
			idx := d.typ.Hash(e.key) & d.ht[1].mask
			d.chainGrew(chainLen(d.ht[1].buckets[idx]))
			d.chainShrank(left)
			left--
			e.next = d.ht[1].buckets[idx]
			d.ht[1].buckets[idx] = e
			d.ht[0].used--
			d.ht[1].used++
			e = next
		}
		d.ht[0].buckets[d.rehashIdx] = nil
		d.rehashIdx++
	}
	if d.ht[0].used == 0 {
		d.ht[0] = d.ht[1]
		d.ht[1] = table[K]{}
		d.rehashIdx = -1
		return false
	}
	return true
}

// RehashFor runs rehash batches until migration completes or budget has
// elapsed, and returns the number of buckets it asked to migrate.
func (d *Dict[K]) RehashFor(budget time.Duration) int {
	start := time.Now()
	rehashes := 0
	for d.Rehash(rehashBatch) {
		rehashes += rehashBatch
		if time.Since(start) > budget {
			break
		}
	}
	return rehashes
}

func (d *Dict[K]) rehashStep() {
	d.Rehash(1)
}

func (d *Dict[K]) expandIfNeeded() {
	if d.IsRehashing() || d.iterators > 0 {
		return
	}
	size, used := d.ht[0].size(), d.ht[0].used
	if used >= size && (d.resize.Enabled() || used/size > d.forceRatio) {
		_ = d.Expand(used * 2)
	}
}

// TryShrink starts a shrink when the fill ratio is below the minimum and
// resizing is allowed. It reports whether a resize was started.
func (d *Dict[K]) TryShrink() bool {
	if d.IsRehashing() || d.iterators > 0 || !d.resize.Enabled() {
		return false
	}
	size := d.ht[0].size()
	if size > d.initialSize && d.ht[0].used*100/size < d.minFill {
		return d.Resize() == nil
	}
	return false
}

func chainLen[K comparable](e *Entry[K]) int {
	n := 0
	for ; e != nil; e = e.next {
		n++
	}
	return n
}

// chainGrew records a chain going from length n to n+1.
func (d *Dict[K]) chainGrew(n int) {
	for len(d.chains) <= n+1 {
		d.chains = append(d.chains, 0)
	}
	if n > 0 {
		d.chains[n]--
	}
	d.chains[n+1]++
	if n+1 > d.longest {
		d.longest = n + 1
	}
}

// chainShrank records a chain going from length n to n-1.
func (d *Dict[K]) chainShrank(n int) {
	d.chains[n]--
	if n > 1 {
		d.chains[n-1]++
	}
	if n == d.longest && d.chains[n] == 0 {
		d.longest--
	}
}

func (d *Dict[K]) equal(k1, k2 K) bool {
	if d.typ.KeyCompare != nil {
		return d.typ.KeyCompare(k1, k2)
	}
	return k1 == k2
}

func (d *Dict[K]) freeEntry(e *Entry[K]) {
	if d.typ.KeyDestructor != nil {
		d.typ.KeyDestructor(e.key)
	}
	if d.typ.ValDestructor != nil && e.kind == KindObject && e.val != nil {
		d.typ.ValDestructor(e.val)
	}
}

// Find returns the entry for key or nil. Lookups never advance a rehash.
func (d *Dict[K]) Find(key K) *Entry[K] {
	if d.Len() == 0 {
		return nil
	}
	h := d.typ.Hash(key)
	for t := 0; t <= 1; t++ {
		idx := h & d.ht[t].mask
		// Buckets below the cursor have been migrated already.
		if t == 0 && d.IsRehashing() && int64(idx) < d.rehashIdx {
			continue
		}
		for e := d.ht[t].buckets[idx]; e != nil; e = e.next {
			if d.equal(e.key, key) {
				return e
			}
		}
		if !d.IsRehashing() {
			break
		}
	}
	return nil
}

// FetchValue returns the object value stored under key.
func (d *Dict[K]) FetchValue(key K) (interface{}, bool) {
	e := d.Find(key)
	if e == nil {
		return nil, false
	}
	return e.val, true
}

// AddOrFind returns the entry for key, inserting an entry without a value
// when the key is absent. The boolean reports whether an insert happened.
func (d *Dict[K]) AddOrFind(key K) (*Entry[K], bool) {
	if d.IsRehashing() {
		d.rehashStep()
	}
	if d.ht[0].buckets == nil {
		_ = d.Expand(d.initialSize)
	}
	h := d.typ.Hash(key)
	chain := 0
	for t := 0; t <= 1; t++ {
		idx := h & d.ht[t].mask
		if t == 0 && d.IsRehashing() && int64(idx) < d.rehashIdx {
			continue
		}
		chain = 0
		for e := d.ht[t].buckets[idx]; e != nil; e = e.next {
			if d.equal(e.key, key) {
				return e, false
			}
			chain++
		}
		if !d.IsRehashing() {
			break
		}
	}

	t := &d.ht[0]
	if d.IsRehashing() {
		t = &d.ht[1]
	}
	if d.typ.KeyDup != nil {
		key = d.typ.KeyDup(key)
	}
	idx := h & t.mask
	e := &Entry[K]{key: key, next: t.buckets[idx]}
	t.buckets[idx] = e
	t.used++
	d.version++
	d.chainGrew(chain)
	d.expandIfNeeded()
	return e, true
}

// Add inserts key with val, failing with ErrKeyExists if key is present.
func (d *Dict[K]) Add(key K, val interface{}) error {
	e, inserted := d.AddOrFind(key)
	if !inserted {
		return ErrKeyExists
	}
	d.SetVal(e, val)
	return nil
}

// Replace sets key to val, inserting it if needed. It reports whether the
// key was newly added. The old value is released after the new one is set
// so that replacing a value with itself is safe under reference counting.
func (d *Dict[K]) Replace(key K, val interface{}) bool {
	e, inserted := d.AddOrFind(key)
	if inserted {
		d.SetVal(e, val)
		return true
	}
	old, oldKind := e.val, e.kind
	d.SetVal(e, val)
	if d.typ.ValDestructor != nil && oldKind == KindObject && old != nil {
		d.typ.ValDestructor(old)
	}
	return false
}

// SetVal stores an object value in e, duplicating it through ValDup. The
// previous value is not released.
func (d *Dict[K]) SetVal(e *Entry[K], val interface{}) {
	if d.typ.ValDup != nil {
		val = d.typ.ValDup(val)
	}
	e.val = val
	e.bits = 0
	e.kind = KindObject
}

// Delete removes key and runs the destructors. It reports whether the key
// was present.
func (d *Dict[K]) Delete(key K) bool {
	e := d.unlink(key)
	if e == nil {
		return false
	}
	d.freeEntry(e)
	return true
}

// Unlink removes key without running destructors and returns the detached
// entry, which the caller may inspect and later pass to FreeUnlinked.
func (d *Dict[K]) Unlink(key K) *Entry[K] {
	return d.unlink(key)
}

func (d *Dict[K]) FreeUnlinked(e *Entry[K]) {
	if e != nil {
		d.freeEntry(e)
	}
}

func (d *Dict[K]) unlink(key K) *Entry[K] {
	if d.Len() == 0 {
		return nil
	}
	if d.IsRehashing() {
		d.rehashStep()
	}
	h := d.typ.Hash(key)
	for t := 0; t <= 1; t++ {
		idx := h & d.ht[t].mask
		if t == 0 && d.IsRehashing() && int64(idx) < d.rehashIdx {
			continue
		}
		var prev *Entry[K]
		for e := d.ht[t].buckets[idx]; e != nil; prev, e = e, e.next {
			if !d.equal(e.key, key) {
				continue
			}
			if prev == nil {
				d.ht[t].buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			d.ht[t].used--
			d.chainShrank(chainLen(d.ht[t].buckets[idx]) + 1)
			// next stays intact so an open safe iterator can walk past it.
			e.removed = true
			d.version++
			d.TryShrink()
			return e
		}
		if !d.IsRehashing() {
			break
		}
	}
	return nil
}

// Empty removes every entry, running destructors. callback, if not nil, is
// invoked every 65536 buckets so long flushes can service other work.
func (d *Dict[K]) Empty(callback func()) {
	d.clear(&d.ht[0], callback)
	d.clear(&d.ht[1], callback)
	d.rehashIdx = -1
	d.chains = d.chains[:0]
	d.longest = 0
	d.version++
}

// Release empties the table. The Dict must not be used afterwards.
func (d *Dict[K]) Release() {
	d.Empty(nil)
}

func (d *Dict[K]) clear(t *table[K], callback func()) {
	for i := 0; i < len(t.buckets) && t.used > 0; i++ {
		if callback != nil && i&65535 == 0 {
			callback()
		}
		for e := t.buckets[i]; e != nil; e = e.next {
			e.removed = true
			d.freeEntry(e)
			t.used--
		}
	}
	*t = table[K]{}
}
