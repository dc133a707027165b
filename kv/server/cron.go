package server

import (
	"strconv"
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/util/bio"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// expireCyclePercent is the share of one cron period the active expire
// cycle may use.
const expireCyclePercent = 25

func (s *Server) cronLoop() {
	defer s.wg.Done()
	interval := s.cfg.CronInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cron(interval)
		}
	}
}

// cron runs one round of background maintenance: active expiration, table
// shrinking while resizes are allowed, and incremental rehashing when
// active rehashing is on.
func (s *Server) cron(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	expired := s.keyspace.ActiveExpireCycle(interval * expireCyclePercent / 100)
	expiredCounter.Add(float64(expired))

	resized := 0
	if s.resize.Enabled() {
		resized = s.keyspace.TryResize()
	}
	rehashed := 0
	if s.cfg.ActiveRehashing {
		rehashed = s.keyspace.Rehash(s.cfg.RehashBudget.Duration)
		rehashCounter.Add(float64(rehashed))
	}
	s.flushSink()
	s.updateGauges()

	if cost := time.Since(start); cost > interval {
		log.Warn("background maintenance is slow",
			zap.Duration("cost", cost),
			zap.Duration("interval", interval),
			zap.Int("expired", expired),
			zap.Int("resized", resized),
			zap.Int("rehashed", rehashed))
	}
}

func (s *Server) updateGauges() {
	for i := 0; i < s.keyspace.NumDBs(); i++ {
		db := s.mustDB(i)
		id := strconv.Itoa(i)
		keyspaceGauge.WithLabelValues(id, "keys").Set(float64(db.Size()))
		keyspaceGauge.WithLabelValues(id, "expires").Set(float64(db.Expires()))
		keys, expires := db.Slots()
		slotsGauge.WithLabelValues(id, "keys").Set(float64(keys))
		slotsGauge.WithLabelValues(id, "expires").Set(float64(expires))
	}
	bioPendingGauge.WithLabelValues(bio.Fsync.String()).Set(float64(s.bio.Pending(bio.Fsync)))
	bioPendingGauge.WithLabelValues(bio.CloseFile.String()).Set(float64(s.bio.Pending(bio.CloseFile)))
}
