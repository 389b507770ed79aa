// Package checkpoint implements spec §4.7: periodic and forced
// flush-and-truncate of the WAL, guarded by a crash-recovery marker
// file so an interrupted checkpoint is retried on the next start.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mikrodb/mikrodb/internal/config"
	"github.com/mikrodb/mikrodb/internal/merrors"
	"github.com/mikrodb/mikrodb/internal/mlog"
	"github.com/mikrodb/mikrodb/internal/wal"
)

// TableFlusher is the narrow dependency Checkpointer needs from the
// table manager: persisting one table's current in-memory image.
type TableFlusher interface {
	FlushTableToDisk(table string) error
}

// Checkpointer runs the checkpoint protocol over a WAL and a table
// manager.
type Checkpointer struct {
	cfg    *config.Config
	log    *mlog.Logger
	wal    *wal.WAL
	tables TableFlusher
	now    func() uint64

	inProgress atomic.Bool

	mu                 sync.Mutex
	lastCheckpointTime uint64

	markerPath string
}

// New creates a checkpointer for the WAL at cfg.DatabaseDirectory/cfg.WalFileName.
func New(cfg *config.Config, log *mlog.Logger, w *wal.WAL, tables TableFlusher, now func() uint64) *Checkpointer {
	return &Checkpointer{
		cfg:        cfg,
		log:        log.With("checkpoint"),
		wal:        w,
		tables:     tables,
		now:        now,
		markerPath: filepath.Join(cfg.DatabaseDirectory, cfg.WalFileName+".checkpoint"),
	}
}

// RecoverOnStartup implements spec §4.7 "Startup recovery": if the
// marker file exists, an earlier checkpoint did not complete, so a
// forced checkpoint runs before normal operation resumes.
func (c *Checkpointer) RecoverOnStartup() error {
	if _, err := os.Stat(c.markerPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checkpoint: stat marker: %w", err)
	}
	c.log.Warn("found stale checkpoint marker, forcing recovery checkpoint")
	return c.Run(true)
}

// CheckpointRequested implements wal.CheckpointRequester. It is called
// asynchronously by the WAL when the on-disk log exceeds the
// configured size threshold.
func (c *Checkpointer) CheckpointRequested() {
	if err := c.Run(false); err != nil {
		c.log.Error("requested checkpoint failed: %v", err)
	}
}

// Run executes the checkpoint algorithm of spec §4.7. With force
// false, it is a no-op unless the configured interval has elapsed
// since the last checkpoint.
func (c *Checkpointer) Run(force bool) error {
	if !c.inProgress.CompareAndSwap(false, true) {
		return nil
	}
	defer c.inProgress.Store(false)

	c.mu.Lock()
	last := c.lastCheckpointTime
	c.mu.Unlock()

	if !force && last != 0 {
		nowMs := c.now()
		if nowMs-last < uint64(c.cfg.WalInterval/time.Millisecond) {
			return nil
		}
	}

	if err := c.writeMarker(); err != nil {
		c.log.Warn("could not write checkpoint marker: %v", err)
	}

	if err := c.wal.Flush(); err != nil {
		return fmt.Errorf("%w: flush wal: %w", merrors.ErrCheckpointFailed, err)
	}

	tables, err := c.wal.ReferencedTables()
	if err != nil {
		return fmt.Errorf("%w: list referenced tables: %w", merrors.ErrCheckpointFailed, err)
	}

	for _, table := range tables {
		if err := c.tables.FlushTableToDisk(table); err != nil {
			// A single table's persist failure is logged but does not
			// abort the whole checkpoint.
			c.log.Error("checkpointing table %s: %v", table, err)
		}
	}

	sizeBefore := c.wal.Size()
	if err := c.wal.Truncate(); err != nil {
		return fmt.Errorf("%w: truncate wal: %w", merrors.ErrCheckpointFailed, err)
	}
	c.log.Info("checkpoint complete: truncated %s across %d table(s)", humanize.Bytes(uint64(sizeBefore)), len(tables))

	if err := os.Remove(c.markerPath); err != nil && !os.IsNotExist(err) {
		c.log.Warn("removing checkpoint marker: %v", err)
	}

	c.mu.Lock()
	c.lastCheckpointTime = c.now()
	c.mu.Unlock()

	return nil
}

// LastCheckpointTime returns the epoch-millisecond timestamp of the
// most recently completed checkpoint, or 0 if none has run yet.
func (c *Checkpointer) LastCheckpointTime() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheckpointTime
}

func (c *Checkpointer) writeMarker() error {
	return os.WriteFile(c.markerPath, []byte(fmt.Sprintf("%d", c.now())), 0o644)
}
