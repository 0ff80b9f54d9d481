package client

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds client runtime settings derived from CLI flags.
type Config struct {
	Host           string
	Port           int
	User           string
	Heartbeat      time.Duration
	Encrypt        bool
	Secret         string
	PayloadEncrypt bool
	ArchiveMinutes int
	HistoryDB      string
}

// LoadConfig parses CLI flags and returns a populated Config.
func LoadConfig() *Config {
	cfg := &Config{}
	var heartbeatSecs int

	defaultUser := os.Getenv("USER")
	if defaultUser == "" {
		defaultUser = "anonymous"
	}

	flag.StringVar(&cfg.Host, "host", "localhost", "hub host to connect to")
	flag.IntVar(&cfg.Port, "port", 64321, "hub port to connect to")
	flag.StringVar(&cfg.User, "user", defaultUser, "name to chat under; must be unique on the hub")
	flag.IntVar(&heartbeatSecs, "heartbeat", 30, "heartbeat interval in seconds")
	flag.BoolVar(&cfg.Encrypt, "encrypt", false, "enable the transport stream cipher")
	flag.StringVar(&cfg.Secret, "secret", "", "shared secret for the stream cipher (default key when empty)")
	flag.BoolVar(&cfg.PayloadEncrypt, "payload-encrypt", false, "additionally encrypt message bodies end to end")
	flag.IntVar(&cfg.ArchiveMinutes, "archive-minutes", 720, "how many minutes of archive to request on connect (0 asks for the hub's latest window)")
	flag.StringVar(&cfg.HistoryDB, "history-db", "", "path to the local BoltDB message history (empty disables it)")

	flag.Parse()

	cfg.Heartbeat = time.Duration(heartbeatSecs) * time.Second
	return cfg
}

// Addr renders the hub dial address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ArchiveSince renders the body of the initial archive request: a
// millisecond cutoff derived from ArchiveMinutes, or "latest" when no
// window is configured.
func (c *Config) ArchiveSince() string {
	if c.ArchiveMinutes <= 0 {
		return "latest"
	}
	cutoff := time.Now().Add(-time.Duration(c.ArchiveMinutes) * time.Minute)
	return strconv.FormatInt(cutoff.UnixMilli(), 10)
}
