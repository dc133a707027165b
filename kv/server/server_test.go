package server

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestServer(t *testing.T, cfg *config.Config, sinks ...Sink) (*Server, *testClock) {
	if cfg == nil {
		cfg = config.NewTestConfig()
	}
	s, err := NewServer(cfg, sinks...)
	require.NoError(t, err)
	clk := &testClock{now: time.Unix(1700000000, 0)}
	s.setClock(clk.Now)
	return s, clk
}

type testClient struct {
	t  *testing.T
	s  *Server
	id uint64
}

func newTestClient(t *testing.T, s *Server) *testClient {
	id, err := s.OpenSession()
	require.NoError(t, err)
	return &testClient{t: t, s: s, id: id}
}

func (c *testClient) do(args ...string) Reply {
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	r, err := c.s.Call(c.id, argv)
	require.NoError(c.t, err)
	return r
}

func bulk(s string) Reply {
	return BulkReply(s)
}

func TestStringCommands(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	assert.Equal(t, StatusReply("PONG"), c.do("ping"))
	assert.Equal(t, bulk("hi"), c.do("ECHO", "hi"))
	assert.Equal(t, NullBulk, c.do("get", "a"))
	assert.Equal(t, OK, c.do("set", "a", "1"))
	assert.Equal(t, bulk("1"), c.do("GET", "a"))
	assert.Equal(t, IntReply(3), c.do("append", "a", "23"))
	assert.Equal(t, IntReply(3), c.do("strlen", "a"))
	assert.Equal(t, IntReply(124), c.do("incr", "a"))
	assert.Equal(t, IntReply(100), c.do("decrby", "a", "24"))
	assert.Equal(t, IntReply(-1), c.do("decr", "counter"))
	assert.Equal(t, bulk("100"), c.do("getset", "a", "x"))
	assert.Equal(t, errNotInteger, c.do("incr", "a"))
	assert.Equal(t, ArrayReply{bulk("x"), NullBulk, bulk("-1")}, c.do("mget", "a", "b", "counter"))

	assert.Equal(t, IntReply(0), c.do("setnx", "a", "y"))
	assert.Equal(t, IntReply(1), c.do("setnx", "b", "y"))
	assert.Equal(t, NullBulk, c.do("set", "b", "z", "nx"))
	assert.Equal(t, NullBulk, c.do("set", "c", "z", "xx"))
	assert.Equal(t, OK, c.do("set", "b", "z", "XX"))
	assert.Equal(t, bulk("z"), c.do("get", "b"))
	assert.Equal(t, errSyntax, c.do("set", "b", "z", "nx", "xx"))
	assert.Equal(t, errSyntax, c.do("set", "b", "z", "ex"))

	c.do("set", "max", strconv.FormatInt(1<<63-1, 10))
	assert.Equal(t, errOverflow, c.do("incr", "max"))

	assert.Equal(t, IntReply(2), c.do("exists", "a", "b", "nope"))
	assert.Equal(t, IntReply(2), c.do("del", "a", "b", "nope"))
	assert.Equal(t, IntReply(2), c.do("dbsize"))
}

func TestCommandValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	assert.Equal(t, ErrorReply("ERR unknown command 'nosuch'"), c.do("nosuch"))
	assert.Equal(t, ErrorReply("ERR wrong number of arguments for 'get' command"), c.do("GET"))
	assert.Equal(t, ErrorReply("ERR DB index is out of range"), c.do("select", "99"))
	assert.Equal(t, errInvalidDBID, c.do("select", "x"))

	_, err := s.Call(12345, [][]byte{[]byte("ping")})
	assert.Equal(t, ErrSessionNotFound, err)
}

func TestSelectIsolatesDatabases(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	c.do("set", "k", "0")
	assert.Equal(t, OK, c.do("select", "3"))
	assert.Equal(t, NullBulk, c.do("get", "k"))
	c.do("set", "k", "3")
	c.do("flushdb")
	c.do("select", "0")
	assert.Equal(t, bulk("0"), c.do("get", "k"))
}

func TestExpiration(t *testing.T) {
	rec := NewRecorder()
	s, clk := newTestServer(t, nil, rec)
	defer s.Stop()
	c := newTestClient(t, s)

	c.do("set", "k", "v", "px", "1500")
	assert.Equal(t, IntReply(1500), c.do("pttl", "k"))
	assert.Equal(t, IntReply(2), c.do("ttl", "k"))
	assert.Equal(t, IntReply(-2), c.do("ttl", "missing"))

	clk.advance(1501 * time.Millisecond)
	assert.Equal(t, NullBulk, c.do("get", "k"))
	assert.Equal(t, uint64(1), s.keyspace.ExpiredKeys())

	ops := rec.Ops()
	require.Len(t, ops, 2)
	whenMs := clk.now.Add(-1*time.Millisecond).UnixNano() / int64(time.Millisecond)
	assert.Equal(t, []string{"SET", "k", "v", "PXAT", strconv.FormatInt(whenMs, 10)}, ops[0].Argv)
	assert.Equal(t, []string{"DEL", "k"}, ops[1].Argv)

	c.do("set", "k", "v")
	assert.Equal(t, IntReply(-1), c.do("ttl", "k"))
	assert.Equal(t, IntReply(1), c.do("expire", "k", "10"))
	assert.Equal(t, IntReply(10), c.do("ttl", "k"))
	assert.Equal(t, IntReply(1), c.do("persist", "k"))
	assert.Equal(t, IntReply(0), c.do("persist", "k"))
	assert.Equal(t, IntReply(-1), c.do("ttl", "k"))

	rec.Reset()
	assert.Equal(t, IntReply(1), c.do("pexpire", "k", "-1"))
	assert.Equal(t, IntReply(0), c.do("exists", "k"))
	assert.Equal(t, []Propagated{{DB: 0, Argv: []string{"DEL", "k"}}}, rec.Ops())
	assert.Equal(t, IntReply(0), c.do("expire", "k", "10"))

	c.do("set", "k", "v")
	c.do("expire", "k", "5")
	// Overwriting clears the time to live.
	c.do("set", "k", "w")
	assert.Equal(t, IntReply(-1), c.do("ttl", "k"))
}

func TestWatchConflictAbortsExec(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	a := newTestClient(t, s)
	b := newTestClient(t, s)

	a.do("set", "k", "1")
	assert.Equal(t, OK, a.do("watch", "k"))
	assert.Equal(t, OK, b.do("set", "k", "2"))

	assert.Equal(t, OK, a.do("multi"))
	assert.Equal(t, Queued, a.do("get", "k"))
	assert.Equal(t, Queued, a.do("set", "other", "x"))
	assert.Equal(t, NullArray, a.do("exec"))

	assert.Equal(t, bulk("2"), b.do("get", "k"))
	assert.Equal(t, NullBulk, b.do("get", "other"))
	assert.Equal(t, 0, s.watches.Len())
}

func TestWatchCommit(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	a := newTestClient(t, s)
	b := newTestClient(t, s)

	a.do("watch", "k")
	// A write to another key does not conflict.
	b.do("set", "unrelated", "x")
	a.do("multi")
	assert.Equal(t, Queued, a.do("set", "k2", "v2"))
	assert.Equal(t, Queued, a.do("get", "k2"))
	assert.Equal(t, ArrayReply{OK, bulk("v2")}, a.do("exec"))

	assert.Equal(t, bulk("v2"), b.do("get", "k2"))
	sess := s.sessions[a.id]
	assert.Equal(t, 0, sess.WatchedKeys().Len())
	assert.Equal(t, 0, s.watches.Len())
	assert.False(t, sess.InMulti())
}

func TestQueueErrorAbortsExec(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	c.do("multi")
	assert.Equal(t, Queued, c.do("set", "a", "1"))
	assert.True(t, IsError(c.do("set", "b")))
	assert.True(t, IsError(c.do("nosuch")))
	assert.Equal(t,
		ErrorReply("EXECABORT Transaction discarded because of previous errors."),
		c.do("exec"))
	assert.Equal(t, NullBulk, c.do("get", "a"))
	assert.Equal(t, NullBulk, c.do("get", "b"))
}

func TestTransactionUsageErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	assert.Equal(t, ErrorReply("ERR EXEC without MULTI"), c.do("exec"))
	assert.Equal(t, ErrorReply("ERR DISCARD without MULTI"), c.do("discard"))
	c.do("multi")
	assert.Equal(t, ErrorReply("ERR MULTI calls can not be nested"), c.do("multi"))
	assert.Equal(t, ErrorReply("ERR WATCH inside MULTI is not allowed"), c.do("watch", "k"))
	c.do("set", "k", "v")
	assert.Equal(t, OK, c.do("discard"))
	assert.Equal(t, NullBulk, c.do("get", "k"))
	// Usage errors inside MULTI do not abort the transaction.
	c.do("multi")
	c.do("multi")
	c.do("set", "k", "v")
	assert.Equal(t, ArrayReply{OK}, c.do("exec"))
}

func TestUnwatchClearsConflict(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	a := newTestClient(t, s)
	b := newTestClient(t, s)

	a.do("watch", "k")
	b.do("set", "k", "1")
	assert.Equal(t, OK, a.do("unwatch"))
	a.do("multi")
	a.do("incr", "k")
	assert.Equal(t, ArrayReply{IntReply(2)}, a.do("exec"))
}

func TestFlushTouchesWatchedKeys(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	a := newTestClient(t, s)
	b := newTestClient(t, s)

	a.do("set", "k", "1")
	a.do("watch", "k", "missing")
	b.do("select", "1")
	b.do("flushdb")
	a.do("multi")
	a.do("get", "k")
	assert.Equal(t, ArrayReply{bulk("1")}, a.do("exec"))

	a.do("watch", "k")
	b.do("flushall")
	a.do("multi")
	a.do("get", "k")
	assert.Equal(t, NullArray, a.do("exec"))
}

func TestCloseSessionReleasesWatches(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	a := newTestClient(t, s)
	b := newTestClient(t, s)

	a.do("watch", "k1", "k2")
	b.do("watch", "k2")
	assert.Equal(t, 2, s.watches.Len())
	require.NoError(t, s.CloseSession(a.id))
	assert.Equal(t, 1, s.watches.Len())
	assert.Equal(t, ErrSessionNotFound, s.CloseSession(a.id))
	assert.Len(t, s.Sessions(), 1)
}

func TestPropagation(t *testing.T) {
	rec := NewRecorder()
	s, _ := newTestServer(t, nil, rec)
	defer s.Stop()
	c := newTestClient(t, s)

	c.do("set", "a", "1")
	c.do("get", "a")
	c.do("del", "missing")
	c.do("multi")
	c.do("get", "a")
	c.do("set", "b", "2")
	c.do("incr", "a")
	c.do("exec")
	c.do("select", "5")
	c.do("set", "c", "3")

	expected := []Propagated{
		{DB: 0, Argv: []string{"set", "a", "1"}},
		{DB: 0, Argv: []string{"MULTI"}},
		{DB: 0, Argv: []string{"set", "b", "2"}},
		{DB: 0, Argv: []string{"incr", "a"}},
		{DB: 0, Argv: []string{"exec"}},
		{DB: 5, Argv: []string{"set", "c", "3"}},
	}
	assert.Equal(t, expected, rec.Ops())

	// A batch of reads is not bracketed at all.
	rec.Reset()
	c.do("multi")
	c.do("get", "c")
	c.do("exec")
	assert.Empty(t, rec.Ops())

	// A failing write still closes the bracket it opened.
	c.do("multi")
	c.do("incr", "c")
	c.do("set", "c", "x")
	c.do("exec")
	rec.Reset()
	c.do("multi")
	c.do("incr", "c")
	r := c.do("exec")
	require.Len(t, r, 1)
	assert.True(t, IsError(r.(ArrayReply)[0]))
	assert.Equal(t, []Propagated{
		{DB: 5, Argv: []string{"MULTI"}},
		{DB: 5, Argv: []string{"exec"}},
	}, rec.Ops())
}

func TestKeysAndScan(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	for i := 0; i < 100; i++ {
		c.do("set", "key:"+strconv.Itoa(i), "v")
	}
	c.do("set", "other/1", "v")

	keys := c.do("keys", "key:1?").(ArrayReply)
	assert.Len(t, keys, 10)
	assert.Len(t, c.do("keys", "*"), 101)
	assert.Len(t, c.do("keys", "other/*"), 1)

	seen := make(map[string]bool)
	cursor := "0"
	for {
		r := c.do("scan", cursor, "match", "key:*", "count", "7").(ArrayReply)
		require.Len(t, r, 2)
		for _, k := range r[1].(ArrayReply) {
			seen[string(k.(BulkReply))] = true
		}
		cursor = string(r[0].(BulkReply))
		if cursor == "0" {
			break
		}
	}
	assert.Len(t, seen, 100)

	assert.Equal(t, errInvalidCur, c.do("scan", "x"))
	assert.Equal(t, errSyntax, c.do("scan", "0", "count", "0"))
	assert.Equal(t, errSyntax, c.do("scan", "0", "match"))

	r := c.do("randomkey")
	assert.False(t, IsError(r))
	assert.NotEqual(t, NullBulk, r)
}

func TestDebugAndInfo(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	c.do("set", "a", "1")
	c.do("set", "b", "2")
	c.do("expire", "b", "100")

	stats := string(c.do("debug", "htstats", "0").(BulkReply))
	assert.Contains(t, stats, "[Dictionary HT]")
	assert.Contains(t, stats, "number of elements: 2")
	assert.Contains(t, stats, "[Expires HT]")

	assert.Equal(t, OK, c.do("debug", "resize", "0"))
	assert.False(t, s.resize.Enabled())
	assert.Equal(t, OK, c.do("DEBUG", "RESIZE", "1"))
	assert.True(t, s.resize.Enabled())
	assert.True(t, IsError(c.do("debug", "nosuch")))

	info := string(c.do("info").(BulkReply))
	assert.Contains(t, info, "# Server\r\n")
	assert.Contains(t, info, "run_id:"+s.RunID())
	assert.Contains(t, info, "connected_clients:1\r\n")
	assert.Contains(t, info, "db0:keys=2,expires=1\r\n")

	keyspace := string(c.do("info", "keyspace").(BulkReply))
	assert.NotContains(t, keyspace, "# Server")
	assert.Contains(t, keyspace, "# Keyspace")
}

func TestCronShrinksAndRehashes(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	for i := 0; i < 200; i++ {
		c.do("set", strconv.Itoa(i), "v")
	}
	db := s.mustDB(0)
	grown, _ := db.Slots()
	assert.True(t, grown >= 200)

	for i := 0; i < 200; i++ {
		c.do("del", strconv.Itoa(i))
	}
	for i := 0; i < 10; i++ {
		s.cron(100 * time.Millisecond)
	}
	slots, _ := db.Slots()
	assert.Equal(t, uint64(4), slots)
}

func TestCronActiveExpire(t *testing.T) {
	s, clk := newTestServer(t, nil)
	defer s.Stop()
	c := newTestClient(t, s)

	for i := 0; i < 50; i++ {
		c.do("set", strconv.Itoa(i), "v", "px", "10")
	}
	clk.advance(time.Second)
	for i := 0; i < 1000 && s.mustDB(0).Size() > 0; i++ {
		s.cron(100 * time.Millisecond)
	}
	assert.Equal(t, uint64(0), s.mustDB(0).Size())
	assert.Equal(t, uint64(50), s.keyspace.ExpiredKeys())
}

func TestAppendOnlyRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyredis-aof")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := config.NewTestConfig()
	cfg.AppendOnly.Enabled = true
	cfg.AppendOnly.Fsync = config.FsyncAlways
	cfg.AppendOnly.Filename = filepath.Join(dir, "data", "appendonly.aof")

	s, _ := newTestServer(t, cfg)
	c := newTestClient(t, s)
	c.do("set", "a", "1")
	c.do("multi")
	c.do("incr", "a")
	c.do("set", "c", "3")
	c.do("exec")
	c.do("del", "nothing")
	c.do("select", "2")
	c.do("set", "b", "with space\r\n")
	assert.True(t, s.aof.Size() > 0)
	s.Stop()

	var logged [][]string
	n, err := LoadAppendOnly(cfg.AppendOnly.Filename, func(argv [][]byte) {
		args := make([]string, len(argv))
		for i, a := range argv {
			args[i] = string(a)
		}
		logged = append(logged, args)
	})
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, [][]string{
		{"SELECT", "0"},
		{"set", "a", "1"},
		{"MULTI"},
		{"incr", "a"},
		{"set", "c", "3"},
		{"exec"},
		{"SELECT", "2"},
		{"set", "b", "with space\r\n"},
	}, logged)

	s2, _ := newTestServer(t, cfg)
	defer s2.Stop()
	c2 := newTestClient(t, s2)
	assert.Equal(t, bulk("2"), c2.do("get", "a"))
	assert.Equal(t, bulk("3"), c2.do("get", "c"))
	c2.do("select", "2")
	assert.Equal(t, bulk("with space\r\n"), c2.do("get", "b"))
}

func TestLoadTruncatedAppendOnly(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyredis-aof")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "appendonly.aof")
	complete := encodeCommand(nil, [][]byte{[]byte("set"), []byte("k"), []byte("v")})
	data := append(append([]byte(nil), complete...), "*2\r\n$3\r\nget"...)
	require.NoError(t, ioutil.WriteFile(path, data, 0644))

	n, err := LoadAppendOnly(path, func([][]byte) {})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(complete)), fi.Size())

	require.NoError(t, ioutil.WriteFile(path, []byte("garbage\r\n"), 0644))
	_, err = LoadAppendOnly(path, func([][]byte) {})
	assert.Error(t, err)
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		match      bool
	}{
		{"*", "", true},
		{"*", "a/b", true},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h*llo", "heeeello", true},
		{"h[ae]llo", "hallo", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-b]llo", "hbllo", true},
		{"h[a-b]llo", "hcllo", false},
		{`h\*llo`, "h*llo", true},
		{`h\*llo`, "hello", false},
		{"key:*:end", "key:1:2:end", true},
		{"abc", "abcd", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.match, globMatch(c.pattern, c.s, false), "%s %s", c.pattern, c.s)
	}
	assert.True(t, globMatch("HELLO", "hello", true))
}
