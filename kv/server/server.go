// Package server executes commands against the keyspace on behalf of client
// sessions. Every command runs under one ordering lock, so a command, or a
// whole EXEC batch, is never interleaved with another session's commands.
package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinyredis/kv/config"
	"github.com/pingcap-incubator/tinyredis/kv/dict"
	"github.com/pingcap-incubator/tinyredis/kv/storage"
	"github.com/pingcap-incubator/tinyredis/kv/transaction/multi"
	"github.com/pingcap-incubator/tinyredis/kv/transaction/watch"
	"github.com/pingcap-incubator/tinyredis/kv/util/bio"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrServerClosed    = errors.New("server is closed")
	ErrNoConfigFile    = errors.New("server was started without a config file")
)

// Server is a tinyredis server.
type Server struct {
	cfg       *config.Config
	runID     string
	startTime time.Time

	// mu serializes command execution and background maintenance.
	mu       sync.Mutex
	keyspace *storage.Keyspace
	watches  *watch.Index
	txn      *multi.Coordinator
	resize   *dict.ResizeSwitch
	commands *dict.Dict[string]
	sessions map[uint64]*Session
	sink     Sink
	aof      *AppendOnlySink
	// dirty counts dataset changes; a command that moved it is propagated.
	dirty uint64

	bio *bio.Bio
	now func() time.Time

	nextSessionID     *atomic.Uint64
	commandsProcessed *atomic.Uint64
	sessionsReceived  *atomic.Uint64

	closed *atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServer builds a server from cfg. When append-only logging is enabled
// the existing log is replayed before the server accepts sessions. Extra
// sinks receive every propagated command.
func NewServer(cfg *config.Config, sinks ...Sink) (*Server, error) {
	seed, err := cfg.Seed()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:               cfg,
		runID:             strings.Replace(uuid.New().String(), "-", "", -1),
		startTime:         time.Now(),
		resize:            dict.NewResizeSwitch(),
		sessions:          make(map[uint64]*Session),
		bio:               bio.New(),
		now:               time.Now,
		nextSessionID:     atomic.NewUint64(0),
		commandsProcessed: atomic.NewUint64(0),
		sessionsReceived:  atomic.NewUint64(0),
		closed:            atomic.NewBool(false),
		stopCh:            make(chan struct{}),
	}
	opts := append(cfg.DictOptions(), dict.WithResizeSwitch(s.resize))
	s.watches = watch.NewIndex(seed, opts...)
	s.txn = multi.NewCoordinator(s.watches)
	s.keyspace = storage.NewKeyspace(storage.Config{
		Databases:   cfg.Databases,
		Seed:        seed,
		DictOptions: opts,
	}, s.watches)
	s.keyspace.SetExpireHandler(s.propagateExpire)
	s.commands = newCommandDict(seed)

	if cfg.AppendOnly.Enabled {
		if err := s.loadAppendOnly(cfg.AppendOnly.Filename); err != nil {
			s.bio.Close()
			return nil, err
		}
		aof, err := OpenAppendOnly(cfg.AppendOnly.Filename, cfg.AppendOnly.Fsync, int(cfg.AppendOnly.BufferSize), s.bio)
		if err != nil {
			s.bio.Close()
			return nil, err
		}
		s.aof = aof
		sinks = append([]Sink{aof}, sinks...)
	}
	switch len(sinks) {
	case 0:
	case 1:
		s.sink = sinks[0]
	default:
		s.sink = MultiSink(sinks)
	}
	return s, nil
}

func (s *Server) loadAppendOnly(path string) error {
	replay := newSession(0, s.mustDB(0))
	start := time.Now()
	n, err := LoadAppendOnly(path, func(argv [][]byte) {
		if r := s.process(replay, argv); IsError(r) {
			log.Warn("replayed command failed",
				zap.String("command", string(argv[0])),
				zap.String("error", string(r.(ErrorReply))))
		}
	})
	if err != nil {
		return err
	}
	if replay.InMulti() {
		log.Warn("append only file ends inside a transaction, discarding it",
			zap.Int("queued", replay.QueueLen()))
	}
	s.txn.SessionEnd(replay.State)
	if n > 0 {
		log.Info("append only file loaded",
			zap.String("path", path),
			zap.Int("commands", n),
			zap.Duration("cost", time.Since(start)))
	}
	return nil
}

func (s *Server) mustDB(id int) *storage.DB {
	db, err := s.keyspace.DB(id)
	if err != nil {
		panic(err)
	}
	return db
}

// Start launches background maintenance.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.cronLoop()
	log.Info("tinyredis server started",
		zap.String("run-id", s.runID),
		zap.Int("databases", s.cfg.Databases),
		zap.Int("hz", s.cfg.Hz))
}

// Stop ends every session, stops maintenance and closes the append only
// file. It is safe to call more than once.
func (s *Server) Stop() {
	if !s.closed.CAS(false, true) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	for id, sess := range s.sessions {
		s.txn.SessionEnd(sess.State)
		delete(s.sessions, id)
	}
	sessionGauge.Set(0)
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.Error("close propagation sink failed", zap.Error(err))
		}
	}
	s.mu.Unlock()

	s.bio.Close()
	log.Info("tinyredis server stopped", zap.String("run-id", s.runID))
}

// setClock replaces the time source of expiration.
func (s *Server) setClock(now func() time.Time) {
	s.now = now
	s.keyspace.SetClock(now)
}

func (s *Server) nowMs() int64 {
	return s.now().UnixNano() / int64(time.Millisecond)
}

func (s *Server) Config() *config.Config {
	return s.cfg
}

// ConfigSnapshot returns a copy of the config that is safe to read while
// the server runs.
func (s *Server) ConfigSnapshot() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// SetLogLevel changes the level of the global logger.
func (s *Server) SetLogLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return errors.Annotatef(err, "invalid log level %q", level)
	}
	s.mu.Lock()
	s.cfg.Log.Level = level
	s.mu.Unlock()
	log.SetLevel(l)
	log.Info("log level changed", zap.String("level", level))
	return nil
}

// PersistConfig writes the running config back to the file it was loaded
// from.
func (s *Server) PersistConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.cfg.ConfigFile()
	if path == "" {
		return ErrNoConfigFile
	}
	if err := s.cfg.Persist(path); err != nil {
		return err
	}
	log.Info("config rewritten", zap.String("path", path))
	return nil
}

func (s *Server) RunID() string {
	return s.runID
}

// SetResizeEnabled allows or forbids automatic table resizes. Tables still
// grow once their load factor passes the force resize ratio.
func (s *Server) SetResizeEnabled(enabled bool) {
	if enabled {
		s.resize.Enable()
	} else {
		s.resize.Disable()
	}
	log.Info("table resizing switched", zap.Bool("enabled", enabled))
}

// OpenSession creates a session bound to database 0.
func (s *Server) OpenSession() (uint64, error) {
	if s.closed.Load() {
		return 0, ErrServerClosed
	}
	id := s.nextSessionID.Inc()
	s.mu.Lock()
	s.sessions[id] = newSession(id, s.mustDB(0))
	sessionGauge.Set(float64(len(s.sessions)))
	s.mu.Unlock()
	s.sessionsReceived.Inc()
	log.Debug("session opened", zap.Uint64("session", id))
	return id, nil
}

// CloseSession abandons the session's transaction and releases its
// watches.
func (s *Server) CloseSession(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.txn.SessionEnd(sess.State)
	delete(s.sessions, id)
	sessionGauge.Set(float64(len(s.sessions)))
	log.Debug("session closed", zap.Uint64("session", id))
	return nil
}

// Sessions returns a snapshot of every open session ordered by id.
func (s *Server) Sessions() []SessionInfo {
	now := time.Now()
	s.mu.Lock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.info(now))
	}
	s.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Call executes one command for a session and returns its reply.
func (s *Server) Call(id uint64, argv [][]byte) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastActive = time.Now()
	r := s.process(sess, argv)
	s.flushSink()
	return r, nil
}

// process validates argv and either queues it inside a transaction or
// runs it.
func (s *Server) process(sess *Session, argv [][]byte) Reply {
	if len(argv) == 0 {
		return errEmptyCmd
	}
	name := string(argv[0])
	cmd := s.lookupCommand(name)
	if cmd == nil {
		s.txn.FlagTransaction(sess.State)
		return errorf("unknown command '%s'", name)
	}
	if !cmd.checkArity(len(argv)) {
		s.txn.FlagTransaction(sess.State)
		return errorf("wrong number of arguments for '%s' command", cmd.name)
	}
	if sess.InMulti() && cmd.flags&FlagNoQueue == 0 {
		s.txn.Queue(sess.State, cmd, argv)
		return Queued
	}
	return s.call(sess, cmd, argv)
}

// call runs cmd and propagates it when it changed the dataset.
func (s *Server) call(sess *Session, cmd *Command, argv [][]byte) Reply {
	dirty := s.dirty
	start := time.Now()
	ctx := &cmdContext{srv: s, sess: sess, argv: argv}
	r := cmd.proc(ctx)
	cost := time.Since(start)

	s.commandsProcessed.Inc()
	commandCounter.WithLabelValues(cmd.name).Inc()
	commandDuration.WithLabelValues(cmd.name).Observe(cost.Seconds())

	if s.dirty != dirty {
		propagated := argv
		if ctx.rewritten != nil {
			propagated = ctx.rewritten
		}
		s.propagate(sess.DB(), propagated)
	}
	return r
}

func (s *Server) propagate(db int, argv [][]byte) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Propagate(db, argv); err != nil {
		log.Error("propagate command failed",
			zap.Int("db", db),
			zap.String("command", string(argv[0])),
			zap.Error(err))
	}
}

func (s *Server) propagateExpire(db int, key string) {
	s.propagate(db, [][]byte{[]byte("DEL"), []byte(key)})
}

func (s *Server) flushSink() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Flush(); err != nil {
		log.Error("flush propagation sink failed", zap.Error(err))
	}
}

// execContext runs the queued commands of one EXEC.
type execContext struct {
	srv  *Server
	sess *Session
}

func (e *execContext) PropagateMulti() {
	e.srv.propagate(e.sess.DB(), [][]byte{[]byte("MULTI")})
}

func (e *execContext) Call(cmd multi.Command, argv [][]byte) interface{} {
	return e.srv.call(e.sess, cmd.(*Command), argv)
}

// Status is a summary of the server for the status API.
type Status struct {
	RunID             string `json:"run-id"`
	StartTime         int64  `json:"start-timestamp"`
	Databases         int    `json:"databases"`
	Keys              uint64 `json:"keys"`
	Sessions          int    `json:"sessions"`
	WatchedKeys       int    `json:"watched-keys"`
	CommandsProcessed uint64 `json:"commands-processed"`
	ExpiredKeys       uint64 `json:"expired-keys"`
	Dirty             uint64 `json:"dirty"`
	ResizeEnabled     bool   `json:"resize-enabled"`
	AppendOnlySize    uint64 `json:"aof-size,omitempty"`
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		RunID:             s.runID,
		StartTime:         s.startTime.Unix(),
		Databases:         s.keyspace.NumDBs(),
		Sessions:          len(s.sessions),
		WatchedKeys:       s.watches.Len(),
		CommandsProcessed: s.commandsProcessed.Load(),
		ExpiredKeys:       s.keyspace.ExpiredKeys(),
		Dirty:             s.dirty,
		ResizeEnabled:     s.resize.Enabled(),
	}
	for i := 0; i < st.Databases; i++ {
		st.Keys += s.mustDB(i).Size()
	}
	if s.aof != nil {
		st.AppendOnlySize = s.aof.Size()
	}
	return st
}
