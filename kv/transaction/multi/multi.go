// Package multi implements MULTI/EXEC transactions with optimistic
// check-and-set through WATCH.
//
// A session enters a transaction with Multi, queues commands, and runs them
// as one uninterrupted batch with Exec. Exec refuses to run anything when a
// queued command failed validation, or when a watched key was modified
// since it was watched.
package multi

import (
	"github.com/pingcap-incubator/tinyredis/kv/transaction/watch"
	"github.com/pingcap/errors"
)

// Flag is a bit of a session's transaction state.
type Flag uint8

const (
	// FlagMulti is set between MULTI and EXEC/DISCARD.
	FlagMulti Flag = 1 << iota
	// FlagDirtyCAS is set when a watched key was touched.
	FlagDirtyCAS
	// FlagDirtyExec is set when a command failed to queue.
	FlagDirtyExec
)

var (
	ErrNestedMulti         = errors.New("MULTI calls can not be nested")
	ErrWatchInsideMulti    = errors.New("WATCH inside MULTI is not allowed")
	ErrExecWithoutMulti    = errors.New("EXEC without MULTI")
	ErrDiscardWithoutMulti = errors.New("DISCARD without MULTI")
	// ErrExecAbort is returned by Exec when a command failed to queue.
	ErrExecAbort = errors.New("Transaction discarded because of previous errors.")
)

// Command is the part of a command descriptor the coordinator needs.
type Command interface {
	Name() string
	ReadOnly() bool
}

// Executor runs queued commands on behalf of Exec.
type Executor interface {
	// PropagateMulti emits the batch-start marker to replicas and the log.
	PropagateMulti()
	// Call executes cmd exactly as if the session had sent it directly.
	Call(cmd Command, argv [][]byte) interface{}
}

type queued struct {
	cmd  Command
	argv [][]byte
}

// State is the per-session transaction state.
type State struct {
	id      uint64
	flags   Flag
	queue   []queued
	watched *watch.List
}

func NewState(id uint64) *State {
	return &State{id: id, watched: watch.NewList()}
}

func (s *State) SessionID() uint64 {
	return s.id
}

func (s *State) WatchedKeys() *watch.List {
	return s.watched
}

func (s *State) FlagConflict() {
	s.flags |= FlagDirtyCAS
}

func (s *State) Flags() Flag {
	return s.flags
}

func (s *State) InMulti() bool {
	return s.flags&FlagMulti != 0
}

// QueueLen returns the number of commands waiting for EXEC.
func (s *State) QueueLen() int {
	return len(s.queue)
}

func (s *State) reset() {
	s.queue = nil
	s.flags &^= FlagMulti | FlagDirtyCAS | FlagDirtyExec
}

// ExecResult is the outcome of a successful Exec call.
type ExecResult struct {
	// Replies holds one reply per queued command.
	Replies []interface{}
	// Conflict reports that a watched key changed and nothing ran.
	Conflict bool
	// Propagated reports that a MULTI marker was emitted, so the caller
	// must propagate the closing EXEC.
	Propagated bool
}

// Coordinator drives the transaction state of all sessions against one
// watch index.
type Coordinator struct {
	index *watch.Index
}

func NewCoordinator(index *watch.Index) *Coordinator {
	return &Coordinator{index: index}
}

func (c *Coordinator) Index() *watch.Index {
	return c.index
}

func (c *Coordinator) Multi(s *State) error {
	if s.InMulti() {
		return ErrNestedMulti
	}
	s.flags |= FlagMulti
	return nil
}

// Queue appends a validated command. argv is copied, so the caller may
// reuse its buffers.
func (c *Coordinator) Queue(s *State, cmd Command, argv [][]byte) {
	cp := make([][]byte, len(argv))
	for i, arg := range argv {
		cp[i] = append([]byte(nil), arg...)
	}
	s.queue = append(s.queue, queued{cmd: cmd, argv: cp})
}

// FlagTransaction records a queue-time failure so the next EXEC aborts.
func (c *Coordinator) FlagTransaction(s *State) {
	if s.InMulti() {
		s.flags |= FlagDirtyExec
	}
}

func (c *Coordinator) Watch(s *State, db int, keys ...string) error {
	if s.InMulti() {
		return ErrWatchInsideMulti
	}
	for _, key := range keys {
		c.index.Watch(s, watch.Key{DB: db, Name: key})
	}
	return nil
}

// Unwatch drops every watch of s and forgets any conflict seen so far.
func (c *Coordinator) Unwatch(s *State) {
	c.index.UnwatchAll(s)
	s.flags &^= FlagDirtyCAS
}

// Discard abandons the transaction and its watches.
func (c *Coordinator) Discard(s *State) error {
	if !s.InMulti() {
		return ErrDiscardWithoutMulti
	}
	c.discard(s)
	return nil
}

func (c *Coordinator) discard(s *State) {
	s.reset()
	c.index.UnwatchAll(s)
}

// Exec runs the queued commands through ex. Watches are released before
// the first command runs, so the batch cannot conflict with itself.
func (c *Coordinator) Exec(s *State, ex Executor) (ExecResult, error) {
	if !s.InMulti() {
		return ExecResult{}, ErrExecWithoutMulti
	}
	if s.flags&FlagDirtyExec != 0 {
		c.discard(s)
		return ExecResult{}, ErrExecAbort
	}
	if s.flags&FlagDirtyCAS != 0 {
		c.discard(s)
		return ExecResult{Conflict: true}, nil
	}

	c.index.UnwatchAll(s)
	queue := s.queue
	res := ExecResult{Replies: make([]interface{}, 0, len(queue))}
	for _, q := range queue {
		if !res.Propagated && !q.cmd.ReadOnly() {
			ex.PropagateMulti()
			res.Propagated = true
		}
		res.Replies = append(res.Replies, ex.Call(q.cmd, q.argv))
	}
	c.discard(s)
	return res, nil
}

// SessionEnd releases everything a terminating session holds.
func (c *Coordinator) SessionEnd(s *State) {
	s.reset()
	c.index.UnwatchAll(s)
}
