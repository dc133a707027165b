package api

import (
	"net/http"

	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/pingcap/errors"
	"github.com/unrolled/render"
)

type sessionHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newSessionHandler(svr *server.Server, rd *render.Render) *sessionHandler {
	return &sessionHandler{
		svr: svr,
		rd:  rd,
	}
}

// SessionResponse is returned when a session is opened.
type SessionResponse struct {
	ID uint64 `json:"id"`
}

func (h *sessionHandler) List(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.Sessions())
}

func (h *sessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	id, err := h.svr.OpenSession()
	if err != nil {
		h.rd.JSON(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusCreated, &SessionResponse{ID: id})
}

func (h *sessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDVar(r)
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svr.CloseSession(id); err != nil {
		h.rd.JSON(w, statusOf(err), err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

// Command runs one command. The body is a JSON array of arguments, the
// command name first.
func (h *sessionHandler) Command(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDVar(r)
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	var args []string
	if err := readJSON(r.Body, &args); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	reply, err := h.svr.Call(id, argv)
	if err != nil {
		h.rd.JSON(w, statusOf(err), err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, NewReply(reply))
}

func statusOf(err error) int {
	switch errors.Cause(err) {
	case server.ErrSessionNotFound:
		return http.StatusNotFound
	case server.ErrServerClosed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
