package api

import (
	"net/http"

	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/unrolled/render"
)

type adminHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newAdminHandler(svr *server.Server, rd *render.Render) *adminHandler {
	return &adminHandler{
		svr: svr,
		rd:  rd,
	}
}

// SetLogLevel takes a JSON string such as "debug".
func (h *adminHandler) SetLogLevel(w http.ResponseWriter, r *http.Request) {
	var level string
	if err := readJSON(r.Body, &level); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svr.SetLogLevel(level); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

// SetResize takes a JSON boolean that allows or forbids table resizes.
func (h *adminHandler) SetResize(w http.ResponseWriter, r *http.Request) {
	var enabled bool
	if err := readJSON(r.Body, &enabled); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	h.svr.SetResizeEnabled(enabled)
	h.rd.JSON(w, http.StatusOK, nil)
}
