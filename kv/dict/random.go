package dict

// RandomEntry returns an entry chosen uniformly among the live entries, or
// nil when the table is empty.
//
// A random non-empty bucket is picked first and one entry of its chain is
// drawn by reservoir sampling. Buckets with short chains would then be
// favoured, so the draw is accepted with probability len/longest where
// longest is the current longest chain; otherwise it starts over.
func (d *Dict[K]) RandomEntry() *Entry[K] {
	if d.Len() == 0 {
		return nil
	}
	for {
		head := d.randomBucket()
		var picked *Entry[K]
		n := 0
		for e := head; e != nil; e = e.next {
			n++
			if d.rnd.Intn(n) == 0 {
				picked = e
			}
		}
		if d.rnd.Intn(d.longest) < n {
			return picked
		}
	}
}

func (d *Dict[K]) randomBucket() *Entry[K] {
	for {
		var head *Entry[K]
		if d.IsRehashing() {
			// Buckets of ht[0] below the cursor are known to be empty.
			s0 := d.ht[0].size()
			span := d.Slots() - uint64(d.rehashIdx)
			h := uint64(d.rehashIdx) + uint64(d.rnd.Int63n(int64(span)))
			if h >= s0 {
				head = d.ht[1].buckets[h-s0]
			} else {
				head = d.ht[0].buckets[h]
			}
		} else {
			head = d.ht[0].buckets[d.rnd.Int63n(int64(d.ht[0].size()))]
		}
		if head != nil {
			return head
		}
	}
}
