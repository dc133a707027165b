package server

import (
	"sync"

	"github.com/pingcap/errors"
)

var ErrSinkClosed = errors.New("propagation sink is closed")

// Sink receives the ordered stream of commands that changed the dataset.
// A committed transaction that wrote anything arrives bracketed by MULTI
// and EXEC.
type Sink interface {
	Propagate(db int, argv [][]byte) error
	// Flush is called after every top level command and on every cron
	// tick.
	Flush() error
	Close() error
}

// Propagated is one command seen by a Recorder.
type Propagated struct {
	DB   int
	Argv []string
}

// Recorder keeps propagated commands in memory.
type Recorder struct {
	mu  sync.Mutex
	ops []Propagated
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Propagate(db int, argv [][]byte) error {
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = string(a)
	}
	r.mu.Lock()
	r.ops = append(r.ops, Propagated{DB: db, Argv: args})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Flush() error { return nil }

func (r *Recorder) Close() error { return nil }

// Ops returns a copy of everything recorded so far.
func (r *Recorder) Ops() []Propagated {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Propagated(nil), r.ops...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

// MultiSink fans every call out to several sinks and reports the first
// error.
type MultiSink []Sink

func (m MultiSink) Propagate(db int, argv [][]byte) error {
	var first error
	for _, s := range m {
		if err := s.Propagate(db, argv); err != nil && first == nil {
			first = errors.Trace(err)
		}
	}
	return first
}

func (m MultiSink) Flush() error {
	var first error
	for _, s := range m {
		if err := s.Flush(); err != nil && first == nil {
			first = errors.Trace(err)
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = errors.Trace(err)
		}
	}
	return first
}
