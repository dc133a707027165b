// Package bio runs slow file operations, closing and fsyncing, on
// background workers so that the command path never blocks on the disk.
// Each job type has its own worker, and jobs of one type run in submission
// order.
package bio

import (
	"io"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type JobType int

const (
	// CloseFile closes an io.Closer.
	CloseFile JobType = iota
	// Fsync flushes a Syncer to stable storage.
	Fsync

	numJobTypes
)

func (t JobType) String() string {
	switch t {
	case CloseFile:
		return "close-file"
	case Fsync:
		return "fsync"
	}
	return "unknown"
}

// Syncer is implemented by *os.File.
type Syncer interface {
	Sync() error
}

var ErrClosed = errors.New("bio: closed")

type job struct {
	typ     JobType
	target  interface{}
	created time.Time
}

// Bio owns one worker per job type and tracks the jobs still pending.
type Bio struct {
	wg      sync.WaitGroup
	workers [numJobTypes]*worker.Worker

	mu      sync.Mutex
	cond    *sync.Cond
	pending [numJobTypes][]time.Time
	done    [numJobTypes]uint64
	errs    [numJobTypes]uint64
}

func New() *Bio {
	b := &Bio{}
	b.cond = sync.NewCond(&b.mu)
	for t := JobType(0); t < numJobTypes; t++ {
		w := worker.NewWorker("bio-"+t.String(), &b.wg)
		w.Start(&handler{b: b})
		b.workers[t] = w
	}
	return b
}

// Submit queues an operation on target, which must be an io.Closer for
// CloseFile and a Syncer for Fsync.
func (b *Bio) Submit(typ JobType, target interface{}) error {
	switch typ {
	case CloseFile:
		if _, ok := target.(io.Closer); !ok {
			return errors.Errorf("bio: %T is not a closer", target)
		}
	case Fsync:
		if _, ok := target.(Syncer); !ok {
			return errors.Errorf("bio: %T is not a syncer", target)
		}
	default:
		return errors.Errorf("bio: unknown job type %d", typ)
	}
	j := job{typ: typ, target: target, created: time.Now()}
	b.mu.Lock()
	b.pending[typ] = append(b.pending[typ], j.created)
	b.mu.Unlock()
	if !b.workers[typ].Submit(j) {
		b.mu.Lock()
		b.pending[typ] = b.pending[typ][:len(b.pending[typ])-1]
		b.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// Pending returns the number of queued or running jobs of typ.
func (b *Bio) Pending(typ JobType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[typ])
}

// Processed returns how many jobs of typ have finished and how many of
// them failed.
func (b *Bio) Processed(typ JobType) (done, failed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done[typ], b.errs[typ]
}

// WaitPendingLE blocks until at most n jobs of typ are pending and returns
// the pending count.
func (b *Bio) WaitPendingLE(typ JobType, n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pending[typ]) > n {
		b.cond.Wait()
	}
	return len(b.pending[typ])
}

// OldestPending returns the submission time of the oldest pending job of
// typ.
func (b *Bio) OldestPending(typ JobType) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending[typ]) == 0 {
		return time.Time{}, false
	}
	return b.pending[typ][0], true
}

// Close stops the workers after the jobs already queued have run.
func (b *Bio) Close() {
	for _, w := range b.workers {
		w.Stop()
	}
	b.wg.Wait()
}

func (b *Bio) finish(typ JobType, failed bool) {
	b.mu.Lock()
	b.pending[typ] = b.pending[typ][1:]
	b.done[typ]++
	if failed {
		b.errs[typ]++
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

type handler struct {
	b *Bio
}

func (h *handler) Handle(t worker.Task) {
	j := t.(job)
	var err error
	switch j.typ {
	case CloseFile:
		err = j.target.(io.Closer).Close()
	case Fsync:
		err = j.target.(Syncer).Sync()
	}
	if err != nil {
		log.Warn("background job failed",
			zap.Stringer("type", j.typ),
			zap.Duration("queued", time.Since(j.created)),
			zap.Error(err))
	}
	h.b.finish(j.typ, err != nil)
}
