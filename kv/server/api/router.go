package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
)

const (
	// APIPrefix is the path prefix of every API route.
	APIPrefix = "/api/v1"
	pingAPI   = "/ping"
)

// NewHandler returns the HTTP handler of the server's API.
func NewHandler(svr *server.Server) http.Handler {
	engine := negroni.New()
	engine.Use(negroni.NewRecovery())
	engine.UseHandler(createRouter(svr))
	return engine
}

func createRouter(svr *server.Server) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	root := mux.NewRouter()
	router := root.PathPrefix(APIPrefix).Subrouter()

	sessionHandler := newSessionHandler(svr, rd)
	router.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	router.HandleFunc("/sessions", sessionHandler.Open).Methods("POST")
	router.HandleFunc("/sessions/{id}", sessionHandler.Close).Methods("DELETE")
	router.HandleFunc("/sessions/{id}/command", sessionHandler.Command).Methods("POST")

	statusHandler := newStatusHandler(svr, rd)
	router.HandleFunc("/status", statusHandler.Get).Methods("GET")
	router.HandleFunc("/commands", statusHandler.Commands).Methods("GET")

	confHandler := newConfHandler(svr, rd)
	router.HandleFunc("/config", confHandler.Get).Methods("GET")
	router.HandleFunc("/config/rewrite", confHandler.Rewrite).Methods("POST")

	adminHandler := newAdminHandler(svr, rd)
	router.HandleFunc("/admin/log", adminHandler.SetLogLevel).Methods("POST")
	router.HandleFunc("/admin/resize", adminHandler.SetResize).Methods("POST")

	root.Handle("/metrics", promhttp.Handler()).Methods("GET")
	root.HandleFunc(pingAPI, func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")
	return root
}
