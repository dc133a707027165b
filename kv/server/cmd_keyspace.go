package server

import (
	"strconv"
	"time"
)

const defaultScanCount = 10

func delCommand(c *cmdContext) Reply {
	db := c.db()
	var deleted int64
	for i := 1; i < len(c.argv); i++ {
		key := c.arg(i)
		// Drop an expired key first so it is not counted.
		if db.Exists(key) && db.Delete(key) {
			deleted++
		}
	}
	c.dirty(uint64(deleted))
	return IntReply(deleted)
}

func existsCommand(c *cmdContext) Reply {
	db := c.db()
	var n int64
	for i := 1; i < len(c.argv); i++ {
		if db.Exists(c.arg(i)) {
			n++
		}
	}
	return IntReply(n)
}

func expireCommand(c *cmdContext) Reply {
	return expireGeneric(c, c.srv.nowMs(), time.Second)
}

func pexpireCommand(c *cmdContext) Reply {
	return expireGeneric(c, c.srv.nowMs(), time.Millisecond)
}

func expireatCommand(c *cmdContext) Reply {
	return expireGeneric(c, 0, time.Second)
}

func pexpireatCommand(c *cmdContext) Reply {
	return expireGeneric(c, 0, time.Millisecond)
}

// expireGeneric sets the expiration of a key to baseMs plus the argument in
// unit. A time already in the past deletes the key. Every variant is
// propagated as PEXPIREAT, or as DEL for a deletion.
func expireGeneric(c *cmdContext, baseMs int64, unit time.Duration) Reply {
	key := c.arg(1)
	n, errR := c.intArg(2)
	if errR != nil {
		return errR
	}
	whenMs := baseMs + n*int64(unit/time.Millisecond)

	db := c.db()
	if !db.Exists(key) {
		return IntReply(0)
	}
	if whenMs <= c.srv.nowMs() {
		db.Delete(key)
		c.dirty(1)
		c.rewrite("DEL", key)
		return IntReply(1)
	}
	db.SetExpire(key, msToTime(whenMs))
	c.dirty(1)
	c.rewrite("PEXPIREAT", key, strconv.FormatInt(whenMs, 10))
	return IntReply(1)
}

func ttlCommand(c *cmdContext) Reply {
	return ttlGeneric(c, false)
}

func pttlCommand(c *cmdContext) Reply {
	return ttlGeneric(c, true)
}

// ttlGeneric replies -2 for a missing key and -1 for a key without a time
// to live.
func ttlGeneric(c *cmdContext, ms bool) Reply {
	db := c.db()
	key := c.arg(1)
	if !db.Exists(key) {
		return IntReply(-2)
	}
	at, ok := db.ExpireAt(key)
	if !ok {
		return IntReply(-1)
	}
	left := at - c.srv.nowMs()
	if left < 0 {
		left = 0
	}
	if ms {
		return IntReply(left)
	}
	return IntReply((left + 500) / 1000)
}

func persistCommand(c *cmdContext) Reply {
	db := c.db()
	key := c.arg(1)
	if !db.Exists(key) || !db.Persist(key) {
		return IntReply(0)
	}
	c.dirty(1)
	return IntReply(1)
}

func randomkeyCommand(c *cmdContext) Reply {
	key, ok := c.db().RandomKey()
	if !ok {
		return NullBulk
	}
	return bulkString(key)
}

func keysCommand(c *cmdContext) Reply {
	pattern := c.arg(1)
	all := pattern == "*"
	keys := c.db().Keys(func(key string) bool {
		return all || globMatch(pattern, key, false)
	})
	replies := make(ArrayReply, len(keys))
	for i, key := range keys {
		replies[i] = bulkString(key)
	}
	return replies
}

// scanCommand implements SCAN cursor [MATCH pattern] [COUNT count]. It
// drives the table scan until count keys were collected, the cursor wrapped
// or ten times count buckets were visited.
func scanCommand(c *cmdContext) Reply {
	cursor, err := strconv.ParseUint(c.arg(1), 10, 64)
	if err != nil {
		return errInvalidCur
	}
	count := int64(defaultScanCount)
	pattern := ""
	for i := 2; i < len(c.argv); i += 2 {
		if i+1 >= len(c.argv) {
			return errSyntax
		}
		switch {
		case c.optionIs(i, "count"):
			n, errR := c.intArg(i + 1)
			if errR != nil {
				return errR
			}
			if n < 1 {
				return errSyntax
			}
			count = n
		case c.optionIs(i, "match"):
			pattern = c.arg(i + 1)
		default:
			return errSyntax
		}
	}

	db := c.db()
	var keys []string
	maxIterations := count * 10
	for {
		cursor = db.Scan(cursor, func(key string) {
			keys = append(keys, key)
		})
		maxIterations--
		if cursor == 0 || maxIterations == 0 || int64(len(keys)) >= count {
			break
		}
	}

	replies := make(ArrayReply, 0, len(keys))
	for _, key := range keys {
		if pattern != "" && pattern != "*" && !globMatch(pattern, key, false) {
			continue
		}
		if !db.Exists(key) {
			continue
		}
		replies = append(replies, bulkString(key))
	}
	return ArrayReply{bulkString(strconv.FormatUint(cursor, 10)), replies}
}

func dbsizeCommand(c *cmdContext) Reply {
	return IntReply(c.db().Size())
}

func selectCommand(c *cmdContext) Reply {
	id, err := strconv.Atoi(c.arg(1))
	if err != nil {
		return errInvalidDBID
	}
	db, err := c.srv.keyspace.DB(id)
	if err != nil {
		return errorReply(err)
	}
	c.sess.db = db
	return OK
}

func flushdbCommand(c *cmdContext) Reply {
	removed, err := c.srv.keyspace.FlushDB(c.sess.DB())
	if err != nil {
		return errorReply(err)
	}
	c.dirty(removed + 1)
	return OK
}

func flushallCommand(c *cmdContext) Reply {
	removed := c.srv.keyspace.FlushAll()
	c.dirty(removed + 1)
	return OK
}
