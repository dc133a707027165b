package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap-incubator/tinyredis/kv/server/api"
)

type shell struct {
	id    uint64
	db    int
	multi bool
}

func (s *shell) prompt() string {
	p := serverAddr
	if s.db != 0 {
		p += "[" + strconv.Itoa(s.db) + "]"
	}
	if s.multi {
		p += "(TX)"
	}
	return p + "> "
}

// track follows SELECT and the transaction state so the prompt shows them.
func (s *shell) track(args []string, reply *api.Reply) {
	if reply.Type == api.TypeError {
		return
	}
	switch strings.ToLower(args[0]) {
	case "select":
		if db, err := strconv.Atoi(args[1]); err == nil {
			s.db = db
		}
	case "multi":
		s.multi = true
	case "exec", "discard":
		s.multi = false
	}
}

func shellLoop(id uint64) {
	s := &shell{id: id}
	l, err := readline.NewEx(&readline.Config{
		Prompt:            s.prompt(),
		HistoryFile:       "/tmp/tinyredis-cli-history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			} else if err == io.EOF {
				break
			}
			continue
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Printf("parse command err: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch strings.ToLower(args[0]) {
		case "quit", "exit":
			return
		}

		reply, err := client.Do(s.id, args...)
		if err != nil {
			fmt.Printf("%v\n", err)
			continue
		}
		s.track(args, reply)
		fmt.Println(reply.Format())
		l.SetPrompt(s.prompt())
	}
}
