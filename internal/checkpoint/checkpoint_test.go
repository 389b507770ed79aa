package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mikrodb/mikrodb/internal/config"
	"github.com/mikrodb/mikrodb/internal/mlog"
	"github.com/mikrodb/mikrodb/internal/wal"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DatabaseDirectory = t.TempDir()
	cfg.MaxWalBufferEntries = 1000
	cfg.MaxWalBufferSize = 1 << 20
	return cfg
}

type stubFlusher struct {
	flushed []string
	failOn  string
}

func (s *stubFlusher) FlushTableToDisk(table string) error {
	if table == s.failOn {
		return os.ErrPermission
	}
	s.flushed = append(s.flushed, table)
	return nil
}

func TestRunTruncatesWALAndFlushesReferencedTables(t *testing.T) {
	cfg := testConfig(t)
	w := wal.New(cfg, mlog.Default(), func() uint64 { return 1000 })
	if err := w.Open(); err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer w.Close()

	w.Append(wal.Entry{TimestampMs: 1, Op: wal.OpWrite, Table: "users", Key: "a"})
	w.Flush()

	flusher := &stubFlusher{}
	c := New(cfg, mlog.Default(), w, flusher, func() uint64 { return 2000 })

	if err := c.Run(true); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(flusher.flushed) != 1 || flusher.flushed[0] != "users" {
		t.Fatalf("flushed tables: got %v, want [users]", flusher.flushed)
	}
	if w.Size() != 0 {
		t.Fatalf("wal size after checkpoint: got %d, want 0", w.Size())
	}
	if c.LastCheckpointTime() != 2000 {
		t.Fatalf("LastCheckpointTime: got %d, want 2000", c.LastCheckpointTime())
	}
}

func TestRunIsNoOpWithinIntervalUnlessForced(t *testing.T) {
	cfg := testConfig(t)
	w := wal.New(cfg, mlog.Default(), func() uint64 { return 1000 })
	if err := w.Open(); err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer w.Close()

	w.Append(wal.Entry{TimestampMs: 1, Op: wal.OpWrite, Table: "t", Key: "a"})
	w.Flush()

	now := uint64(1000)
	flusher := &stubFlusher{}
	c := New(cfg, mlog.Default(), w, flusher, func() uint64 { return now })

	if err := c.Run(true); err != nil {
		t.Fatalf("first forced Run: %v", err)
	}

	w.Append(wal.Entry{TimestampMs: 1, Op: wal.OpWrite, Table: "t", Key: "b"})
	w.Flush()

	now = 1000 + uint64(cfg.WalInterval.Milliseconds()) - 1
	if err := c.Run(false); err != nil {
		t.Fatalf("second unforced Run: %v", err)
	}
	if w.Size() == 0 {
		t.Fatal("Run(false) within the interval should not have truncated the wal")
	}
}

func TestRunContinuesPastSingleTableFailure(t *testing.T) {
	cfg := testConfig(t)
	w := wal.New(cfg, mlog.Default(), func() uint64 { return 1000 })
	if err := w.Open(); err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer w.Close()

	w.Append(wal.Entry{TimestampMs: 1, Op: wal.OpWrite, Table: "bad", Key: "a"})
	w.Append(wal.Entry{TimestampMs: 1, Op: wal.OpWrite, Table: "good", Key: "b"})
	w.Flush()

	flusher := &stubFlusher{failOn: "bad"}
	c := New(cfg, mlog.Default(), w, flusher, func() uint64 { return 2000 })

	if err := c.Run(true); err != nil {
		t.Fatalf("Run: a single table's flush failure should not abort the whole checkpoint: %v", err)
	}
	if w.Size() != 0 {
		t.Fatal("Run: the wal should still be truncated despite one table's flush failing")
	}
}

func TestRecoverOnStartupForcesCheckpointWhenMarkerExists(t *testing.T) {
	cfg := testConfig(t)
	w := wal.New(cfg, mlog.Default(), func() uint64 { return 1000 })
	if err := w.Open(); err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer w.Close()

	w.Append(wal.Entry{TimestampMs: 1, Op: wal.OpWrite, Table: "t", Key: "a"})
	w.Flush()

	markerPath := filepath.Join(cfg.DatabaseDirectory, cfg.WalFileName+".checkpoint")
	if err := os.WriteFile(markerPath, []byte("1000"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	flusher := &stubFlusher{}
	c := New(cfg, mlog.Default(), w, flusher, func() uint64 { return 2000 })

	if err := c.RecoverOnStartup(); err != nil {
		t.Fatalf("RecoverOnStartup: %v", err)
	}
	if w.Size() != 0 {
		t.Fatal("RecoverOnStartup: a stale marker should force a checkpoint, truncating the wal")
	}
	if _, err := os.Stat(markerPath); !os.IsNotExist(err) {
		t.Fatal("RecoverOnStartup: the marker should be removed once the forced checkpoint completes")
	}
}

func TestRecoverOnStartupIsNoOpWithoutMarker(t *testing.T) {
	cfg := testConfig(t)
	w := wal.New(cfg, mlog.Default(), func() uint64 { return 1000 })
	if err := w.Open(); err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer w.Close()

	flusher := &stubFlusher{}
	c := New(cfg, mlog.Default(), w, flusher, func() uint64 { return 2000 })

	if err := c.RecoverOnStartup(); err != nil {
		t.Fatalf("RecoverOnStartup: %v", err)
	}
	if c.LastCheckpointTime() != 0 {
		t.Fatal("RecoverOnStartup: without a marker, no checkpoint should have run")
	}
}
