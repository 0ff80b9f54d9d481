package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/httplog"

	"tinchat/internal/crypto"
	"tinchat/internal/hub"
	"tinchat/internal/message"
)

func main() {
	cfg := hub.LoadConfig()

	var box *crypto.StreamBox
	if cfg.Encrypt {
		var err error
		box, err = crypto.NewStreamBox(cfg.Secret)
		if err != nil {
			log.Printf("stream cipher unavailable, running unencrypted: %v", err)
			box = nil
		}
	}

	var journal *hub.Journal
	var replayed []message.Message
	if cfg.JournalPath != "" {
		replayed = hub.ReplayJournal(cfg.JournalPath)
		var err error
		journal, err = hub.OpenJournal(cfg.JournalPath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
	}

	h := hub.New(journal, replayed)
	srv := hub.NewServer(h, box, cfg.Heartbeat, cfg.AllowPrefixes)
	if err := srv.Start(cfg.ListenAddr); err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddr, err)
	}

	if cfg.StatusAddr != "" {
		go serveStatus(cfg.StatusAddr, h)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down")
	srv.Stop()
	if err := h.Close(); err != nil {
		log.Printf("journal close: %v", err)
	}
}

func serveStatus(addr string, h *hub.Hub) {
	logger := httplog.NewLogger("hub-status", httplog.Options{JSON: false, Concise: true})
	log.Printf("status API on %s", addr)
	if err := http.ListenAndServe(addr, httplog.RequestLogger(logger)(h.StatusRouter())); err != nil {
		log.Printf("status server stopped: %v", err)
	}
}
