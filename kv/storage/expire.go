package storage

import "time"

const (
	expireLookupsPerCycle = 20
	// expireCheckEvery is how many samples run between two clock checks.
	expireCheckEvery = 16
)

// ActiveExpireCycle removes expired keys by sampling the expires tables.
// Each database is sampled in rounds of 20 keys until fewer than a quarter
// of a round has expired or budget has elapsed. It returns the number of
// keys removed.
func (ks *Keyspace) ActiveExpireCycle(budget time.Duration) int {
	start := time.Now()
	removed := 0
	iteration := 0
	for _, db := range ks.dbs {
		for {
			num := db.expires.Len()
			if num == 0 {
				break
			}
			if num > expireLookupsPerCycle {
				num = expireLookupsPerCycle
			}
			expired := 0
			now := ks.nowMs()
			for ; num > 0; num-- {
				e := db.expires.RandomEntry()
				if e == nil {
					break
				}
				if now > e.SignedIntegerVal() && db.expireIfNeeded(e.Key()) {
					expired++
				}
			}
			removed += expired
			iteration++
			if iteration%expireCheckEvery == 0 && time.Since(start) > budget {
				return removed
			}
			if expired <= expireLookupsPerCycle/4 {
				break
			}
		}
	}
	return removed
}
