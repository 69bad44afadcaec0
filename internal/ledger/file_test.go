package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()

	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	c := filepath.Join(dir, "c.mp4")
	os.WriteFile(a, []byte("identical content"), 0o644)
	os.WriteFile(b, []byte("identical content"), 0o644)
	os.WriteFile(c, []byte("different content"), 0o644)

	fpA, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fpB, _ := Fingerprint(b)
	fpC, _ := Fingerprint(c)

	if fpA != fpB {
		t.Error("identical content produced different fingerprints")
	}
	if fpA == fpC {
		t.Error("different content produced identical fingerprints")
	}
	if len(fpA) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(fpA))
	}
}

func TestFingerprint_OnlyPrefixHashed(t *testing.T) {
	dir := t.TempDir()

	// Two files identical in the first 1MB but different beyond it hash
	// the same: the fingerprint reads only the prefix.
	prefix := make([]byte, fingerprintPrefix)
	for i := range prefix {
		prefix[i] = byte(i)
	}
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	os.WriteFile(a, append(append([]byte{}, prefix...), []byte("tail one")...), 0o644)
	os.WriteFile(b, append(append([]byte{}, prefix...), []byte("other tail")...), 0o644)

	fpA, _ := Fingerprint(a)
	fpB, _ := Fingerprint(b)
	if fpA != fpB {
		t.Error("fingerprint read beyond the 1MB prefix")
	}
}

func TestFileStore_PutAndGate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")

	s, err := OpenFile(path, testLogger())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	ok, err := s.IsProcessed(ctx, "fp1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if ok {
		t.Error("empty ledger claims file processed")
	}

	rec := Record{
		Fingerprint:    "fp1",
		FileName:       "standup.mp4",
		FileSize:       1024,
		Status:         StatusSuccess,
		ResultLocation: "/data/results/standup",
		ProcessedAt:    time.Now().UTC(),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, _ = s.IsProcessed(ctx, "fp1")
	if !ok {
		t.Error("success record does not gate")
	}
}

func TestFileStore_FailedDoesNotGate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")
	s, _ := OpenFile(path, testLogger())

	s.Put(ctx, Record{Fingerprint: "fp2", FileName: "x.mp4", Status: StatusFailed, Error: "whisper: 500"})

	ok, _ := s.IsProcessed(ctx, "fp2")
	if ok {
		t.Error("failed record must not prevent retry")
	}

	// Retry succeeds: record is replaced, single entry remains.
	s.Put(ctx, Record{Fingerprint: "fp2", FileName: "x.mp4", Status: StatusSuccess})
	ok, _ = s.IsProcessed(ctx, "fp2")
	if !ok {
		t.Error("success on retry does not gate")
	}
	st, _ := s.Stats(ctx)
	if st.Total != 1 || st.Success != 1 || st.Failed != 0 {
		t.Errorf("stats = %+v, want exactly one success record", st)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")

	s1, _ := OpenFile(path, testLogger())
	s1.Put(ctx, Record{Fingerprint: "fp3", FileName: "retro.mkv", Status: StatusSuccess})

	s2, err := OpenFile(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ok, _ := s2.IsProcessed(ctx, "fp3")
	if !ok {
		t.Error("record lost across reopen")
	}
}

func TestFileStore_TruncatesError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")
	s, _ := OpenFile(path, testLogger())

	s.Put(ctx, Record{
		Fingerprint: "fp4",
		FileName:    "y.mp4",
		Status:      StatusFailed,
		Error:       strings.Repeat("e", 1000),
	})

	s2, _ := OpenFile(path, testLogger())
	s2.mu.Lock()
	rec := s2.records["fp4"]
	s2.mu.Unlock()
	if len(rec.Error) != maxErrorLen {
		t.Errorf("stored error length = %d, want %d", len(rec.Error), maxErrorLen)
	}
}

func TestFileStore_CorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	if _, err := OpenFile(path, testLogger()); err == nil {
		t.Error("expected error opening corrupt ledger")
	}
}
