package hub

import (
	"bufio"
	"bytes"
	"log"
	"os"
	"sync"
	"time"

	"tinchat/internal/message"
)

// journalComment prefixes banner lines that replay must skip.
const journalComment = "==="

const journalTimeFormat = "02.01.2006 15:04:05.000 MST"

// Journal is the append-only on-disk log of the broadcast stream. It is
// single-writer and flushed after every record. Any write failure
// disables it for the rest of the process instead of crashing the hub.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// ReplayJournal reads an existing journal and returns every parseable
// message, in file order. Banner lines and unparseable lines are
// skipped; the latter are logged.
func ReplayJournal(path string) []message.Message {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("journal not readable: %v", err)
		}
		return nil
	}
	defer f.Close()

	var out []message.Message
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || bytes.HasPrefix(line, []byte(journalComment)) {
			continue
		}
		m, err := message.Decode(line)
		if err != nil {
			log.Printf("journal line skipped: %v", err)
			continue
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("journal replay stopped: %v", err)
	}
	return out
}

// OpenJournal opens the file for appending and writes the opening banner.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j := &Journal{file: f, w: bufio.NewWriter(f)}
	j.banner("Opened journal " + time.Now().Format(journalTimeFormat))
	return j, nil
}

// Append writes one record and flushes. A nil or disabled journal is a no-op.
func (j *Journal) Append(m message.Message) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return
	}
	line := message.Encode(m)
	line[len(line)-1] = '\n' // records are line-framed on disk, not NUL-framed
	if _, err := j.w.Write(line); err != nil {
		j.disableLocked(err)
		return
	}
	if err := j.w.Flush(); err != nil {
		j.disableLocked(err)
	}
}

func (j *Journal) banner(text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return
	}
	if _, err := j.w.WriteString(journalComment + " " + text + "\n"); err != nil {
		j.disableLocked(err)
		return
	}
	if err := j.w.Flush(); err != nil {
		j.disableLocked(err)
	}
}

// disableLocked drops the writer so the hub keeps running without
// persistence after a disk failure. Caller holds j.mu.
func (j *Journal) disableLocked(err error) {
	log.Printf("journal write failed, disabling journal: %v", err)
	j.w = nil
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
}

// Close writes the closing banner and releases the file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.banner("Closed journal " + time.Now().Format(journalTimeFormat))
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.w = nil
	j.file = nil
	return err
}
