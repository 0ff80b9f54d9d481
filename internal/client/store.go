package client

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"tinchat/internal/message"
)

const historyBucket = "messages"

// Store persists delivered messages in BoltDB so a restarted client can
// reload recent conversation locally without asking the hub.
type Store struct {
	db *bbolt.DB
}

func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores one message keyed by timestamp and id, so iteration
// order is chronological.
func (s *Store) Append(m message.Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	record := message.Encode(m)
	record = bytes.TrimSuffix(record, []byte{message.Terminator})
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		key := []byte(fmt.Sprintf("%020d-%s", m.Timestamp, m.ID))
		return bucket.Put(key, record)
	})
}

// Recent returns up to limit stored messages, newest first.
func (s *Store) Recent(limit int) ([]message.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []message.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && limit > 0; k, v = cursor.Prev() {
			if m, err := message.Decode(v); err == nil {
				out = append(out, m)
			}
			limit--
		}
		return nil
	})
	return out, err
}
