package server

import (
	"math"
	"strconv"
	"time"
)

func getCommand(c *cmdContext) Reply {
	v, ok := c.db().Lookup(c.arg(1))
	if !ok {
		return NullBulk
	}
	return BulkReply(v)
}

// setCommand implements SET key value [EX s|PX ms|EXAT ts|PXAT ts] [NX|XX].
// A relative expiration is propagated as an absolute PXAT so that replaying
// the log does not extend it.
func setCommand(c *cmdContext) Reply {
	key := c.arg(1)
	var (
		nx, xx    bool
		hasExpire bool
		whenMs    int64
	)
	for i := 3; i < len(c.argv); i++ {
		switch {
		case c.optionIs(i, "nx") && !xx:
			nx = true
		case c.optionIs(i, "xx") && !nx:
			xx = true
		case !hasExpire && i+1 < len(c.argv) &&
			(c.optionIs(i, "ex") || c.optionIs(i, "px") || c.optionIs(i, "exat") || c.optionIs(i, "pxat")):
			n, errR := c.intArg(i + 1)
			if errR != nil {
				return errR
			}
			if n <= 0 {
				return errorf("invalid expire time in 'set' command")
			}
			switch {
			case c.optionIs(i, "ex"):
				whenMs = c.srv.nowMs() + n*1000
			case c.optionIs(i, "px"):
				whenMs = c.srv.nowMs() + n
			case c.optionIs(i, "exat"):
				whenMs = n * 1000
			default:
				whenMs = n
			}
			hasExpire = true
			i++
		default:
			return errSyntax
		}
	}

	db := c.db()
	exists := db.Exists(key)
	if (nx && exists) || (xx && !exists) {
		return NullBulk
	}
	db.Set(key, copyBytes(c.argv[2]))
	c.dirty(1)
	if hasExpire {
		db.SetExpire(key, msToTime(whenMs))
		c.rewrite("SET", key, c.arg(2), "PXAT", strconv.FormatInt(whenMs, 10))
	}
	return OK
}

func setnxCommand(c *cmdContext) Reply {
	if !c.db().Add(c.arg(1), copyBytes(c.argv[2])) {
		return IntReply(0)
	}
	c.dirty(1)
	return IntReply(1)
}

func getsetCommand(c *cmdContext) Reply {
	db := c.db()
	key := c.arg(1)
	old, ok := db.Lookup(key)
	db.Set(key, copyBytes(c.argv[2]))
	c.dirty(1)
	if !ok {
		return NullBulk
	}
	return BulkReply(old)
}

func mgetCommand(c *cmdContext) Reply {
	db := c.db()
	replies := make(ArrayReply, 0, len(c.argv)-1)
	for i := 1; i < len(c.argv); i++ {
		if v, ok := db.Lookup(c.arg(i)); ok {
			replies = append(replies, BulkReply(v))
		} else {
			replies = append(replies, NullBulk)
		}
	}
	return replies
}

// appendCommand keeps the time to live of an existing key.
func appendCommand(c *cmdContext) Reply {
	db := c.db()
	key := c.arg(1)
	old, ok := db.Lookup(key)
	if !ok {
		db.Set(key, copyBytes(c.argv[2]))
		c.dirty(1)
		return IntReply(len(c.argv[2]))
	}
	val := make([]byte, 0, len(old)+len(c.argv[2]))
	val = append(append(val, old...), c.argv[2]...)
	db.Overwrite(key, val)
	c.dirty(1)
	return IntReply(len(val))
}

func strlenCommand(c *cmdContext) Reply {
	v, _ := c.db().Lookup(c.arg(1))
	return IntReply(len(v))
}

func incrCommand(c *cmdContext) Reply {
	return incrDecr(c, 1)
}

func decrCommand(c *cmdContext) Reply {
	return incrDecr(c, -1)
}

func incrbyCommand(c *cmdContext) Reply {
	n, errR := c.intArg(2)
	if errR != nil {
		return errR
	}
	return incrDecr(c, n)
}

func decrbyCommand(c *cmdContext) Reply {
	n, errR := c.intArg(2)
	if errR != nil {
		return errR
	}
	if n == math.MinInt64 {
		return errorf("decrement would overflow")
	}
	return incrDecr(c, -n)
}

func incrDecr(c *cmdContext, delta int64) Reply {
	db := c.db()
	key := c.arg(1)
	var cur int64
	old, ok := db.Lookup(key)
	if ok {
		v, err := strconv.ParseInt(string(old), 10, 64)
		if err != nil {
			return errNotInteger
		}
		cur = v
	}
	if (delta < 0 && cur < math.MinInt64-delta) || (delta > 0 && cur > math.MaxInt64-delta) {
		return errOverflow
	}
	cur += delta
	val := []byte(strconv.FormatInt(cur, 10))
	if ok {
		db.Overwrite(key, val)
	} else {
		db.Set(key, val)
	}
	c.dirty(1)
	return IntReply(cur)
}

func copyBytes(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func msToTime(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}
