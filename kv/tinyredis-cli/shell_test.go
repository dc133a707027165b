package main

import (
	"testing"

	"github.com/pingcap-incubator/tinyredis/kv/server/api"
	"github.com/stretchr/testify/assert"
)

func TestShellPrompt(t *testing.T) {
	serverAddr = "127.0.0.1:6380"
	s := &shell{}
	ok := &api.Reply{Type: api.TypeStatus, Str: "OK"}
	assert.Equal(t, "127.0.0.1:6380> ", s.prompt())

	s.track([]string{"SELECT", "3"}, ok)
	assert.Equal(t, "127.0.0.1:6380[3]> ", s.prompt())

	s.track([]string{"select", "9"}, &api.Reply{Type: api.TypeError, Str: "ERR invalid DB index"})
	assert.Equal(t, 3, s.db)

	s.track([]string{"multi"}, ok)
	assert.Equal(t, "127.0.0.1:6380[3](TX)> ", s.prompt())
	s.track([]string{"exec"}, &api.Reply{Type: api.TypeArray})
	assert.False(t, s.multi)
}
