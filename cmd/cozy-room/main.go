package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zachlandes/cozy-quest-hd/internal/config"
	"github.com/zachlandes/cozy-quest-hd/internal/logging"
	"github.com/zachlandes/cozy-quest-hd/room"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("component", "room")

	hub := room.NewHub(cfg.RoomCode, log)
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	handler := room.NewHandler(hub, cfg.PublicURL, log)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: handler.Mux()}

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		<-interrupt
		server.Close()
	}()

	log.WithField("addr", cfg.ListenAddr).WithField("room", hub.RoomCode()).
		Info("room server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("room server stopped")
	}
}
