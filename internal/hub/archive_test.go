package hub

import (
	"fmt"
	"testing"
	"time"

	"tinchat/internal/message"
)

func stamped(ts int64, body string) message.Message {
	return message.Message{
		User:      "alice",
		Type:      message.TypeUser,
		Timestamp: ts,
		ID:        message.NewID(),
		Body:      body,
	}
}

func TestArchiveSinceIsStrictlyNewer(t *testing.T) {
	a := newArchive()
	a.Add(stamped(100, "old"))
	a.Add(stamped(200, "boundary"))
	a.Add(stamped(300, "new"))

	got := a.Since(200)
	if len(got) != 1 || got[0].Body != "new" {
		t.Fatalf("expected only the strictly newer entry, got %v", got)
	}
	if all := a.Since(0); len(all) != 3 {
		t.Fatalf("expected all 3 entries, got %d", len(all))
	}
}

func TestArchiveWithinWindow(t *testing.T) {
	a := newArchive()
	now := time.Now().UnixMilli()
	a.Add(stamped(now-2*time.Hour.Milliseconds(), "stale"))
	a.Add(stamped(now-time.Minute.Milliseconds(), "fresh"))

	got := a.Within(time.Hour)
	if len(got) != 1 || got[0].Body != "fresh" {
		t.Fatalf("expected only the fresh entry, got %v", got)
	}
}

func TestArchiveStaysBounded(t *testing.T) {
	a := newArchive()
	for i := 0; i < 1000; i++ {
		a.Add(stamped(int64(i), fmt.Sprintf("m%d", i)))
	}
	if n := a.Len(); n > archiveCapacity {
		t.Fatalf("archive grew to %d, cap is %d", n, archiveCapacity)
	}
	// the survivors must be the newest entries
	got := a.Since(0)
	if got[len(got)-1].Body != "m999" {
		t.Fatalf("newest entry missing, last is %q", got[len(got)-1].Body)
	}
	if got[0].Timestamp < 500 {
		t.Fatalf("old entries were not evicted, oldest ts %d", got[0].Timestamp)
	}
}

func TestArchiveReturnsCopies(t *testing.T) {
	a := newArchive()
	a.Add(stamped(100, "original"))
	got := a.Since(0)
	got[0].Body = "tampered"
	again := a.Since(0)
	if again[0].Body != "original" {
		t.Fatalf("archive entry was mutated through a returned copy")
	}
}
