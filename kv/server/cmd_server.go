package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinyredis/kv/util/bio"
)

func pingCommand(c *cmdContext) Reply {
	switch len(c.argv) {
	case 1:
		return StatusReply("PONG")
	case 2:
		return BulkReply(c.argv[1])
	}
	return errorf("wrong number of arguments for 'ping' command")
}

func echoCommand(c *cmdContext) Reply {
	return BulkReply(c.argv[1])
}

// debugCommand implements DEBUG HTSTATS <db> and DEBUG RESIZE <0|1>.
func debugCommand(c *cmdContext) Reply {
	switch strings.ToLower(c.arg(1)) {
	case "htstats":
		if len(c.argv) != 3 {
			return errSyntax
		}
		id, err := strconv.Atoi(c.arg(2))
		if err != nil {
			return errInvalidDBID
		}
		db, err := c.srv.keyspace.DB(id)
		if err != nil {
			return errorReply(err)
		}
		keys, expires := db.Stats()
		var b strings.Builder
		b.WriteString("[Dictionary HT]\n")
		b.WriteString(keys.String())
		b.WriteString("[Expires HT]\n")
		b.WriteString(expires.String())
		return bulkString(b.String())
	case "resize":
		if len(c.argv) != 3 {
			return errSyntax
		}
		switch c.arg(2) {
		case "0":
			c.srv.SetResizeEnabled(false)
		case "1":
			c.srv.SetResizeEnabled(true)
		default:
			return errSyntax
		}
		return OK
	}
	return errorf("unknown DEBUG subcommand '%s'", c.arg(1))
}

func infoCommand(c *cmdContext) Reply {
	section := "default"
	if len(c.argv) == 2 {
		section = strings.ToLower(c.arg(1))
	} else if len(c.argv) > 2 {
		return errSyntax
	}
	return bulkString(c.srv.info(section))
}

// info renders the INFO text. Sections are separated by blank lines and
// lines end with CRLF.
func (s *Server) info(section string) string {
	all := section == "all" || section == "default"
	var b strings.Builder
	add := func(name, title string, fill func()) {
		if !all && section != name {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "# %s\r\n", title)
		fill()
	}
	line := func(k string, v interface{}) {
		fmt.Fprintf(&b, "%s:%v\r\n", k, v)
	}

	add("server", "Server", func() {
		line("run_id", s.runID)
		line("uptime_in_seconds", int64(time.Since(s.startTime)/time.Second))
		line("hz", s.cfg.Hz)
		line("databases", s.keyspace.NumDBs())
	})
	add("clients", "Clients", func() {
		line("connected_clients", len(s.sessions))
		line("watched_keys", s.watches.Len())
	})
	add("persistence", "Persistence", func() {
		line("aof_enabled", boolInt(s.aof != nil))
		if s.aof != nil {
			size := s.aof.Size()
			line("aof_current_size", size)
			line("aof_current_size_human", units.BytesSize(float64(size)))
			line("aof_fsync_policy", s.aof.policy)
		}
		line("aof_pending_bio_fsync", s.bio.Pending(bio.Fsync))
		line("bio_pending_close", s.bio.Pending(bio.CloseFile))
		if oldest, ok := s.bio.OldestPending(bio.Fsync); ok {
			line("aof_oldest_pending_fsync_ms", int64(time.Since(oldest)/time.Millisecond))
		}
	})
	add("stats", "Stats", func() {
		line("total_connections_received", s.sessionsReceived.Load())
		line("total_commands_processed", s.commandsProcessed.Load())
		line("expired_keys", s.keyspace.ExpiredKeys())
		line("dirty", s.dirty)
		line("resize_enabled", boolInt(s.resize.Enabled()))
	})
	add("keyspace", "Keyspace", func() {
		for i := 0; i < s.keyspace.NumDBs(); i++ {
			db := s.mustDB(i)
			if db.Size() == 0 {
				continue
			}
			fmt.Fprintf(&b, "db%d:keys=%d,expires=%d\r\n", i, db.Size(), db.Expires())
		}
	})
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
