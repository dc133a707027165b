package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap-incubator/tinyredis/kv/server"
)

// Reply types.
const (
	TypeStatus   = "status"
	TypeError    = "error"
	TypeInteger  = "integer"
	TypeBulk     = "bulk"
	TypeArray    = "array"
	TypeNil      = "nil"
	TypeNilArray = "nil-array"
)

// Reply is the JSON form of a command reply.
type Reply struct {
	Type  string   `json:"type"`
	Str   string   `json:"str,omitempty"`
	Int   int64    `json:"int,omitempty"`
	Array []*Reply `json:"array,omitempty"`
}

// NewReply converts a server reply.
func NewReply(r server.Reply) *Reply {
	switch v := r.(type) {
	case server.StatusReply:
		return &Reply{Type: TypeStatus, Str: string(v)}
	case server.ErrorReply:
		return &Reply{Type: TypeError, Str: string(v)}
	case server.IntReply:
		return &Reply{Type: TypeInteger, Int: int64(v)}
	case server.BulkReply:
		return &Reply{Type: TypeBulk, Str: string(v)}
	case server.ArrayReply:
		arr := make([]*Reply, 0, len(v))
		for _, e := range v {
			arr = append(arr, NewReply(e))
		}
		return &Reply{Type: TypeArray, Array: arr}
	}
	if r == server.NullArray {
		return &Reply{Type: TypeNilArray}
	}
	return &Reply{Type: TypeNil}
}

// Format renders the reply the way redis-cli prints it.
func (r *Reply) Format() string {
	var b strings.Builder
	r.format(&b, 0)
	return b.String()
}

func (r *Reply) format(b *strings.Builder, indent int) {
	switch r.Type {
	case TypeStatus:
		b.WriteString(r.Str)
	case TypeError:
		b.WriteString("(error) ")
		b.WriteString(r.Str)
	case TypeInteger:
		fmt.Fprintf(b, "(integer) %d", r.Int)
	case TypeBulk:
		b.WriteString(strconv.Quote(r.Str))
	case TypeArray:
		if len(r.Array) == 0 {
			b.WriteString("(empty array)")
			return
		}
		width := len(strconv.Itoa(len(r.Array)))
		for i, e := range r.Array {
			if i > 0 {
				b.WriteByte('\n')
				b.WriteString(strings.Repeat(" ", indent))
			}
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			b.WriteString(prefix)
			e.format(b, indent+len(prefix))
		}
	default:
		b.WriteString("(nil)")
	}
}
