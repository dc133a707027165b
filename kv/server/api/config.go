package api

import (
	"net/http"

	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/pingcap/errors"
	"github.com/unrolled/render"
)

type confHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newConfHandler(svr *server.Server, rd *render.Render) *confHandler {
	return &confHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *confHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.svr.ConfigSnapshot()
	h.rd.JSON(w, http.StatusOK, &cfg)
}

// Rewrite persists the running config to the file the server loaded.
func (h *confHandler) Rewrite(w http.ResponseWriter, r *http.Request) {
	if err := h.svr.PersistConfig(); err != nil {
		if errors.Cause(err) == server.ErrNoConfigFile {
			h.rd.JSON(w, http.StatusBadRequest, err.Error())
			return
		}
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
