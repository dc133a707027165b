package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/config"
	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/pingcap-incubator/tinyredis/kv/server/api"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := config.NewConfig()
	err := cfg.Parse(os.Args[1:])

	switch errors.Cause(err) {
	case nil:
	case pflag.ErrHelp:
		exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	// New zap logger
	err = cfg.SetupLogger()
	if err == nil {
		log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	} else {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	// Flushing any buffered log entries
	defer log.Sync()

	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}

	svr, err := server.NewServer(cfg)
	if err != nil {
		log.Fatal("create server failed", zap.Error(err))
	}
	svr.Start()

	httpServer := &http.Server{
		Addr:    cfg.StatusAddr,
		Handler: api.NewHandler(svr),
	}
	go func() {
		log.Info("http api listening", zap.String("addr", cfg.StatusAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http api stopped", zap.Error(err))
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sc
	log.Info("Got signal to exit", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http api shutdown", zap.Error(err))
	}
	cancel()
	svr.Stop()
	switch sig {
	case syscall.SIGTERM:
		exit(0)
	default:
		exit(1)
	}
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
