package server

import (
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/storage"
	"github.com/pingcap-incubator/tinyredis/kv/transaction/multi"
)

// Session is the server side state of one client.
type Session struct {
	*multi.State

	db      *storage.DB
	created time.Time
	// lastActive is updated on every command.
	lastActive time.Time
}

func newSession(id uint64, db *storage.DB) *Session {
	now := time.Now()
	return &Session{
		State:      multi.NewState(id),
		db:         db,
		created:    now,
		lastActive: now,
	}
}

func (s *Session) ID() uint64 {
	return s.SessionID()
}

// DB returns the index of the selected database.
func (s *Session) DB() int {
	return s.db.ID()
}

// SessionInfo is a snapshot of a session for the status API.
type SessionInfo struct {
	ID      uint64    `json:"id"`
	DB      int       `json:"db"`
	InMulti bool      `json:"in-multi"`
	Queued  int       `json:"queued"`
	Watched int       `json:"watched"`
	Created time.Time `json:"created"`
	Idle    string    `json:"idle"`
}

func (s *Session) info(now time.Time) SessionInfo {
	return SessionInfo{
		ID:      s.ID(),
		DB:      s.DB(),
		InMulti: s.InMulti(),
		Queued:  s.QueueLen(),
		Watched: s.WatchedKeys().Len(),
		Created: s.created,
		Idle:    now.Sub(s.lastActive).Round(time.Second).String(),
	}
}
