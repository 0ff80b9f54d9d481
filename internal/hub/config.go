package hub

import (
	"flag"
	"strings"
	"time"
)

// Config holds hub runtime settings derived from CLI flags.
type Config struct {
	ListenAddr    string
	StatusAddr    string
	JournalPath   string
	Heartbeat     time.Duration
	Encrypt       bool
	Secret        string
	AllowPrefixes []string
}

// LoadConfig parses CLI flags and returns a populated Config.
func LoadConfig() *Config {
	cfg := &Config{}
	var heartbeatSecs int
	var allow string

	flag.StringVar(&cfg.ListenAddr, "listen", ":64321", "address to accept client connections on")
	flag.StringVar(&cfg.StatusAddr, "status-addr", "", "address for the HTTP status API (empty disables it)")
	flag.StringVar(&cfg.JournalPath, "journal", "", "path to the append-only message journal (empty disables it)")
	flag.IntVar(&heartbeatSecs, "heartbeat", 30, "handshake timeout / default heartbeat interval in seconds")
	flag.BoolVar(&cfg.Encrypt, "encrypt", false, "enable the transport stream cipher")
	flag.StringVar(&cfg.Secret, "secret", "", "shared secret for the stream cipher (default key when empty)")
	flag.StringVar(&allow, "allow", "", "comma-separated IP prefixes allowed to connect (empty allows all)")

	flag.Parse()

	cfg.Heartbeat = time.Duration(heartbeatSecs) * time.Second
	if allow != "" {
		cfg.AllowPrefixes = strings.Split(allow, ",")
	}
	return cfg
}
