package server

import (
	"github.com/pingcap-incubator/tinyredis/kv/transaction/multi"
	"github.com/pingcap/errors"
)

func multiCommand(c *cmdContext) Reply {
	if err := c.srv.txn.Multi(c.sess.State); err != nil {
		return errorReply(err)
	}
	return OK
}

// execCommand runs the queued batch. When the batch was bracketed with
// MULTI on the propagation stream the dirty counter is bumped, so the EXEC
// itself is propagated and closes the bracket.
func execCommand(c *cmdContext) Reply {
	res, err := c.srv.txn.Exec(c.sess.State, &execContext{srv: c.srv, sess: c.sess})
	if err != nil {
		if errors.Cause(err) == multi.ErrExecAbort {
			execCounter.WithLabelValues("abort").Inc()
		}
		return errorReply(err)
	}
	if res.Conflict {
		execCounter.WithLabelValues("conflict").Inc()
		return NullArray
	}
	execCounter.WithLabelValues("commit").Inc()
	if res.Propagated {
		c.dirty(1)
	}
	replies := make(ArrayReply, len(res.Replies))
	for i, r := range res.Replies {
		replies[i] = r.(Reply)
	}
	return replies
}

func discardCommand(c *cmdContext) Reply {
	if err := c.srv.txn.Discard(c.sess.State); err != nil {
		return errorReply(err)
	}
	return OK
}

func watchCommand(c *cmdContext) Reply {
	keys := make([]string, 0, len(c.argv)-1)
	for i := 1; i < len(c.argv); i++ {
		keys = append(keys, c.arg(i))
	}
	if err := c.srv.txn.Watch(c.sess.State, c.sess.DB(), keys...); err != nil {
		return errorReply(err)
	}
	return OK
}

func unwatchCommand(c *cmdContext) Reply {
	c.srv.txn.Unwatch(c.sess.State)
	return OK
}
