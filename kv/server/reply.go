package server

import (
	"fmt"

	"github.com/pingcap-incubator/tinyredis/kv/transaction/multi"
	"github.com/pingcap/errors"
)

// Reply is the result of one command. It is one of StatusReply,
// ErrorReply, IntReply, BulkReply, ArrayReply, NullBulk or NullArray.
type Reply interface {
	reply()
}

type StatusReply string

// ErrorReply carries the full error line, including its upper case prefix
// such as "ERR" or "EXECABORT".
type ErrorReply string

type IntReply int64

type BulkReply []byte

type ArrayReply []Reply

type nullBulk struct{}

type nullArray struct{}

func (StatusReply) reply() {}
func (ErrorReply) reply()  {}
func (IntReply) reply()    {}
func (BulkReply) reply()   {}
func (ArrayReply) reply()  {}
func (nullBulk) reply()    {}
func (nullArray) reply()   {}

var (
	OK     Reply = StatusReply("OK")
	Queued Reply = StatusReply("QUEUED")
	// NullBulk is the reply for a missing value.
	NullBulk Reply = nullBulk{}
	// NullArray is the reply of an EXEC that was aborted by a conflict.
	NullArray Reply = nullArray{}
)

func (e ErrorReply) Error() string {
	return string(e)
}

var (
	errSyntax      = ErrorReply("ERR syntax error")
	errNotInteger  = ErrorReply("ERR value is not an integer or out of range")
	errOverflow    = ErrorReply("ERR increment or decrement would overflow")
	errInvalidCur  = ErrorReply("ERR invalid cursor")
	errEmptyCmd    = ErrorReply("ERR empty command")
	errInvalidDBID = ErrorReply("ERR invalid DB index")
)

func errorf(format string, args ...interface{}) ErrorReply {
	return ErrorReply("ERR " + fmt.Sprintf(format, args...))
}

// errorReply turns an error returned by a lower layer into an error reply.
func errorReply(err error) ErrorReply {
	cause := errors.Cause(err)
	if e, ok := cause.(ErrorReply); ok {
		return e
	}
	if cause == multi.ErrExecAbort {
		return ErrorReply("EXECABORT " + cause.Error())
	}
	return ErrorReply("ERR " + cause.Error())
}

func bulkString(s string) BulkReply {
	return BulkReply(s)
}

// IsError reports whether r is an error reply.
func IsError(r Reply) bool {
	_, ok := r.(ErrorReply)
	return ok
}
