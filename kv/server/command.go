package server

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap-incubator/tinyredis/kv/dict"
	"github.com/pingcap-incubator/tinyredis/kv/storage"
)

// CommandFlag describes how a command interacts with transactions and
// propagation.
type CommandFlag uint8

const (
	// FlagWrite marks commands that may modify the dataset.
	FlagWrite CommandFlag = 1 << iota
	// FlagNoQueue marks commands that run immediately inside MULTI.
	FlagNoQueue
	// FlagAdmin marks introspection commands.
	FlagAdmin
)

type commandProc func(c *cmdContext) Reply

// Command is one entry of the command table.
type Command struct {
	name string
	// arity is the exact argument count including the command name, or
	// -N for at least N.
	arity int
	flags CommandFlag
	proc  commandProc
}

func (c *Command) Name() string {
	return c.name
}

// ReadOnly reports whether the command never modifies the dataset.
func (c *Command) ReadOnly() bool {
	return c.flags&FlagWrite == 0
}

func (c *Command) Arity() int {
	return c.arity
}

func (c *Command) Flags() CommandFlag {
	return c.flags
}

func (c *Command) checkArity(argc int) bool {
	if c.arity >= 0 {
		return argc == c.arity
	}
	return argc >= -c.arity
}

var commandTable = []*Command{
	{"ping", -1, 0, pingCommand},
	{"echo", 2, 0, echoCommand},

	{"get", 2, 0, getCommand},
	{"set", -3, FlagWrite, setCommand},
	{"setnx", 3, FlagWrite, setnxCommand},
	{"getset", 3, FlagWrite, getsetCommand},
	{"mget", -2, 0, mgetCommand},
	{"append", 3, FlagWrite, appendCommand},
	{"strlen", 2, 0, strlenCommand},
	{"incr", 2, FlagWrite, incrCommand},
	{"decr", 2, FlagWrite, decrCommand},
	{"incrby", 3, FlagWrite, incrbyCommand},
	{"decrby", 3, FlagWrite, decrbyCommand},

	{"del", -2, FlagWrite, delCommand},
	{"exists", -2, 0, existsCommand},
	{"expire", 3, FlagWrite, expireCommand},
	{"pexpire", 3, FlagWrite, pexpireCommand},
	{"expireat", 3, FlagWrite, expireatCommand},
	{"pexpireat", 3, FlagWrite, pexpireatCommand},
	{"ttl", 2, 0, ttlCommand},
	{"pttl", 2, 0, pttlCommand},
	{"persist", 2, FlagWrite, persistCommand},
	{"randomkey", 1, 0, randomkeyCommand},
	{"keys", 2, 0, keysCommand},
	{"scan", -2, 0, scanCommand},
	{"dbsize", 1, 0, dbsizeCommand},
	{"select", 2, 0, selectCommand},
	{"flushdb", 1, FlagWrite, flushdbCommand},
	{"flushall", 1, FlagWrite, flushallCommand},

	{"multi", 1, FlagNoQueue, multiCommand},
	{"exec", 1, FlagNoQueue, execCommand},
	{"discard", 1, FlagNoQueue, discardCommand},
	{"watch", -2, FlagNoQueue, watchCommand},
	{"unwatch", 1, 0, unwatchCommand},

	{"debug", -2, FlagAdmin, debugCommand},
	{"info", -1, FlagAdmin, infoCommand},
}

// newCommandDict indexes the command table by case-insensitive name.
func newCommandDict(seed dict.Seed) *dict.Dict[string] {
	d := dict.New(dict.CaseStringType(seed))
	for _, cmd := range commandTable {
		if err := d.Add(cmd.name, cmd); err != nil {
			panic(err)
		}
	}
	return d
}

func (s *Server) lookupCommand(name string) *Command {
	v, ok := s.commands.FetchValue(name)
	if !ok {
		return nil
	}
	return v.(*Command)
}

// Commands returns the command table sorted by name.
func (s *Server) Commands() []*Command {
	cmds := make([]*Command, 0, s.commands.Len())
	it := s.commands.Iterator()
	for e := it.Next(); e != nil; e = it.Next() {
		cmds = append(cmds, e.Val().(*Command))
	}
	it.Release()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	return cmds
}

// cmdContext is handed to a command implementation.
type cmdContext struct {
	srv  *Server
	sess *Session
	argv [][]byte
	// rewritten replaces argv when the command is propagated.
	rewritten [][]byte
}

func (c *cmdContext) db() *storage.DB {
	return c.sess.db
}

func (c *cmdContext) arg(i int) string {
	return string(c.argv[i])
}

// dirty records n changes to the dataset.
func (c *cmdContext) dirty(n uint64) {
	c.srv.dirty += n
}

func (c *cmdContext) rewrite(args ...string) {
	c.rewritten = make([][]byte, len(args))
	for i, a := range args {
		c.rewritten[i] = []byte(a)
	}
}

func (c *cmdContext) intArg(i int) (int64, Reply) {
	v, err := strconv.ParseInt(c.arg(i), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return v, nil
}

func (c *cmdContext) optionIs(i int, name string) bool {
	return strings.EqualFold(c.arg(i), name)
}
