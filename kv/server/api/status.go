package api

import (
	"net/http"

	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/unrolled/render"
)

type statusHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newStatusHandler(svr *server.Server, rd *render.Render) *statusHandler {
	return &statusHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *statusHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.Status())
}

// CommandInfo describes one command of the command table.
type CommandInfo struct {
	Name     string `json:"name"`
	Arity    int    `json:"arity"`
	ReadOnly bool   `json:"readonly"`
	NoQueue  bool   `json:"no-queue,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
}

func (h *statusHandler) Commands(w http.ResponseWriter, r *http.Request) {
	cmds := h.svr.Commands()
	infos := make([]CommandInfo, 0, len(cmds))
	for _, c := range cmds {
		infos = append(infos, CommandInfo{
			Name:     c.Name(),
			Arity:    c.Arity(),
			ReadOnly: c.ReadOnly(),
			NoQueue:  c.Flags()&server.FlagNoQueue != 0,
			Admin:    c.Flags()&server.FlagAdmin != 0,
		})
	}
	h.rd.JSON(w, http.StatusOK, infos)
}
