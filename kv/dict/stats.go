package dict

import (
	"fmt"
	"strings"
)

const statsVectLen = 50

// TableStats describes the chain layout of one generation.
type TableStats struct {
	Table     int
	Size      uint64
	Used      uint64
	Slots     uint64
	MaxChain  uint64
	TotalLen  uint64
	ChainLens [statsVectLen]uint64
}

// Stats holds one TableStats per allocated generation.
type Stats struct {
	Tables []TableStats
}

// Stats walks every bucket, so it costs O(slots).
func (d *Dict[K]) Stats() Stats {
	var s Stats
	for i := 0; i <= 1; i++ {
		if i == 1 && !d.IsRehashing() {
			break
		}
		t := &d.ht[i]
		ts := TableStats{Table: i, Size: t.size(), Used: t.used}
		for _, head := range t.buckets {
			if head == nil {
				ts.ChainLens[0]++
				continue
			}
			ts.Slots++
			var chain uint64
			for e := head; e != nil; e = e.next {
				chain++
			}
			if chain < statsVectLen {
				ts.ChainLens[chain]++
			} else {
				ts.ChainLens[statsVectLen-1]++
			}
			if chain > ts.MaxChain {
				ts.MaxChain = chain
			}
			ts.TotalLen += chain
		}
		s.Tables = append(s.Tables, ts)
	}
	return s
}

func (s Stats) String() string {
	var b strings.Builder
	for _, t := range s.Tables {
		if t.Used == 0 {
			fmt.Fprintf(&b, "No stats available for empty dictionaries\n")
			continue
		}
		fmt.Fprintf(&b, "Hash table %d stats (%s):\n", t.Table, tableName(t.Table))
		fmt.Fprintf(&b, " table size: %d\n", t.Size)
		fmt.Fprintf(&b, " number of elements: %d\n", t.Used)
		fmt.Fprintf(&b, " different slots: %d\n", t.Slots)
		fmt.Fprintf(&b, " max chain length: %d\n", t.MaxChain)
		fmt.Fprintf(&b, " avg chain length (counted): %.02f\n", float64(t.TotalLen)/float64(t.Slots))
		fmt.Fprintf(&b, " avg chain length (computed): %.02f\n", float64(t.Used)/float64(t.Slots))
		fmt.Fprintf(&b, " Chain length distribution:\n")
		for i, n := range t.ChainLens {
			if n == 0 {
				continue
			}
			fmt.Fprintf(&b, "   %s%d: %d (%.02f%%)\n", chainPrefix(i), i, n, float64(n)*100/float64(t.Size))
		}
	}
	return b.String()
}

func tableName(i int) string {
	if i == 0 {
		return "main hash table"
	}
	return "rehashing target"
}

func chainPrefix(i int) string {
	if i == statsVectLen-1 {
		return ">= "
	}
	return ""
}
