package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tinchat/internal/client"
	"tinchat/internal/crypto"
	"tinchat/internal/message"
)

func main() {
	cfg := client.LoadConfig()

	var box *crypto.StreamBox
	if cfg.Encrypt {
		var err error
		box, err = crypto.NewStreamBox(cfg.Secret)
		if err != nil {
			log.Printf("stream cipher unavailable, running unencrypted: %v", err)
			box = nil
		}
	}

	var payload *crypto.PayloadBox
	if cfg.PayloadEncrypt {
		var err error
		payload, err = crypto.NewPayloadBox()
		if err != nil {
			log.Printf("payload cipher unavailable, sending bodies in clear: %v", err)
			payload = nil
		}
	}

	var store *client.Store
	if cfg.HistoryDB != "" {
		var err error
		store, err = client.OpenStore(cfg.HistoryDB)
		if err != nil {
			log.Fatalf("open history db: %v", err)
		}
		defer store.Close()
		showRecent(store, payload)
	}

	tr := client.NewTransport(cfg.Addr(), cfg.User, cfg.Heartbeat, box, store, func(m message.Message) {
		display(m, payload)
	})
	if err := tr.Connect(cfg.ArchiveSince()); err != nil {
		log.Fatalf("connect to %s: %v", cfg.Addr(), err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		tr.Shutdown()
		os.Exit(0)
	}()

	fmt.Printf("connected as %s; WHO lists users, STATS shows counters, BYE leaves\n", cfg.User)
	readInput(cfg.User, tr, payload)
	tr.Shutdown()
}

// readInput turns console lines into outbound messages until EOF or BYE.
func readInput(user string, tr *client.Transport, payload *crypto.PayloadBox) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "BYE":
			return
		case "WHO":
			tr.Send(message.New(user, message.TypeWhosOnline, "."))
			continue
		case "STATS":
			fmt.Println(tr.Stats())
			continue
		}
		body := sanitize(line)
		if payload != nil {
			body = payload.EncryptString(body)
		}
		tr.Send(message.New(user, message.TypeUser, body))
		if tr.NotResponding() {
			fmt.Println("(hub not responding; message queued)")
		}
	}
}

// sanitize strips the two bytes with wire meaning from a chat line.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == message.FieldSep || r == rune(message.Terminator) {
			return -1
		}
		return r
	}, s)
}

// display renders one delivered message on the console.
func display(m message.Message, payload *crypto.PayloadBox) {
	switch m.Type {
	case message.TypeUser, message.TypeArchived:
		body := m.Body
		if payload != nil {
			if plain, err := payload.DecryptString(m.Body); err == nil {
				body = plain
			}
		}
		fmt.Printf("%s# %s\n", m.User, body)
	case message.TypeWhosOnline:
		fmt.Printf("online: %s\n", m.Body)
	case message.TypeTyping:
		fmt.Printf("(%s is typing)\n", m.User)
	}
}

// showRecent prints the locally stored tail of the conversation, oldest
// first, before the live stream starts.
func showRecent(store *client.Store, payload *crypto.PayloadBox) {
	recent, err := store.Recent(20)
	if err != nil || len(recent) == 0 {
		return
	}
	fmt.Printf("--- last %d stored messages ---\n", len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		when := time.UnixMilli(m.Timestamp).Format("15:04:05")
		body := m.Body
		if payload != nil {
			if plain, err := payload.DecryptString(m.Body); err == nil {
				body = plain
			}
		}
		fmt.Printf("[%s] %s# %s\n", when, m.User, body)
	}
	fmt.Println("--- end of stored messages ---")
}
