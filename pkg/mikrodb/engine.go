// Package mikrodb is the public entry point to the embeddable
// key-value store: construct an Engine over a directory and call its
// Get/Write/Delete/Flush/Close operations. Everything else (the HTTP
// surface, configuration loading, CLI) is an external collaborator
// per spec §1.
package mikrodb

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikrodb/mikrodb/internal/checkpoint"
	"github.com/mikrodb/mikrodb/internal/config"
	"github.com/mikrodb/mikrodb/internal/crypto"
	"github.com/mikrodb/mikrodb/internal/event"
	"github.com/mikrodb/mikrodb/internal/filter"
	"github.com/mikrodb/mikrodb/internal/mlog"
	"github.com/mikrodb/mikrodb/internal/table"
	"github.com/mikrodb/mikrodb/internal/types"
	"github.com/mikrodb/mikrodb/internal/wal"
)

// Value re-exports the dynamic value type so callers never have to
// import an internal package to build one.
type Value = types.Value

// Record is the tuple returned by Get.
type Record = types.Record

// FilterOptions re-exports the filter engine's query options.
type FilterOptions = filter.Options

// WriteOp is one record to write, for WriteBatch.
type WriteOp = table.WriteOp

// Engine is the single owning actor over one database directory (spec
// §5 "Lifecycle of mutable engine state").
type Engine struct {
	cfg        *config.Config
	log        *mlog.Logger
	wal        *wal.WAL
	tables     *table.Manager
	checkpoint *checkpoint.Checkpointer
	events     *event.Hub

	now func() uint64

	walFlushBusy atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option customizes Open.
type Option func(*options)

type options struct {
	logger       *mlog.Logger
	eventTargets []string
	now          func() uint64
}

// WithLogger overrides the default logger.
func WithLogger(log *mlog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithEventTargets configures HTTP POST targets for the event hook.
func WithEventTargets(targets []string) Option {
	return func(o *options) { o.eventTargets = append(o.eventTargets, targets...) }
}

// WithClock overrides the millisecond clock. Tests use this for
// deterministic timestamps instead of sleeping on wall time.
func WithClock(now func() uint64) Option {
	return func(o *options) { o.now = now }
}

// Open creates or opens the database directory named by cfg, replaying
// any outstanding recovery work before returning.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{now: defaultClock}
	for _, apply := range opts {
		apply(o)
	}
	if o.logger == nil {
		o.logger = mlog.Default()
		if cfg.Debug {
			o.logger.SetLevel(mlog.LevelDebug)
		}
	}

	if err := os.MkdirAll(cfg.DatabaseDirectory, 0o755); err != nil {
		return nil, err
	}

	var envelope *crypto.Envelope
	if cfg.EncryptionKey != "" {
		e, err := crypto.New(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		envelope = e
	}

	events := event.New(o.logger, o.eventTargets)

	w := wal.New(cfg, o.logger, o.now)
	if err := w.Open(); err != nil {
		return nil, err
	}

	tables := table.New(cfg, o.logger, o.now, w, envelope, events)
	cp := checkpoint.New(cfg, o.logger, w, tables, o.now)
	w.SetCheckpointRequester(cp)

	e := &Engine{
		cfg:        cfg,
		log:        o.logger,
		wal:        w,
		tables:     tables,
		checkpoint: cp,
		events:     events,
		now:        o.now,
		stopCh:     make(chan struct{}),
	}

	if err := cp.RecoverOnStartup(); err != nil {
		return nil, err
	}

	e.startTimers()
	return e, nil
}

func defaultClock() uint64 {
	return uint64(time.Now().UnixMilli())
}

func (e *Engine) startTimers() {
	e.wg.Add(2)
	go e.runWalFlushTimer()
	go e.runCheckpointTimer()
}

func (e *Engine) runWalFlushTimer() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.WalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.walFlushBusy.CompareAndSwap(false, true) {
				continue
			}
			if err := e.wal.Flush(); err != nil {
				e.log.Error("periodic wal flush failed: %v", err)
			}
			e.walFlushBusy.Store(false)
		}
	}
}

func (e *Engine) runCheckpointTimer() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.WalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.checkpoint.Run(false); err != nil {
				e.log.Error("periodic checkpoint failed: %v", err)
			}
		}
	}
}

// Subscribe registers a local event listener, invoked synchronously
// on whichever goroutine committed the mutation.
func (e *Engine) Subscribe(l event.Listener) {
	e.events.Subscribe(l)
}

// Get returns the current record for key in table.
func (e *Engine) Get(table, key string) (Record, bool, error) {
	return e.tables.Get(table, key)
}

// GetAll returns every live record in table.
func (e *Engine) GetAll(table string) ([]types.KeyedRecord, error) {
	return e.tables.GetAll(table)
}

// Query returns table's records filtered, sorted, and sliced by opts.
func (e *Engine) Query(table string, opts FilterOptions) ([]types.KeyedRecord, error) {
	return e.tables.GetFiltered(table, opts)
}

// GetTableSize returns the number of live keys in table.
func (e *Engine) GetTableSize(table string) (int, error) {
	return e.tables.GetTableSize(table)
}

// Write commits a single record.
func (e *Engine) Write(op WriteOp, flushImmediately bool) (bool, error) {
	return e.tables.Write(op, flushImmediately)
}

// WriteBatch commits every op with bounded parallelism, per spec
// §4.4 "Batch ordering".
func (e *Engine) WriteBatch(ops []WriteOp, concurrencyLimit int, flushImmediately bool) (bool, error) {
	return e.tables.WriteBatch(ops, table.BatchOptions{
		ConcurrencyLimit: concurrencyLimit,
		FlushImmediately: flushImmediately,
	})
}

// Delete removes key from table.
func (e *Engine) Delete(table, key string, expectedVersion *uint32) (bool, error) {
	return e.tables.Delete(table, key, expectedVersion)
}

// DeleteTable removes table's in-memory entry.
func (e *Engine) DeleteTable(table string) error {
	return e.tables.DeleteTable(table)
}

// Flush flushes the WAL buffer and the pending write buffer.
func (e *Engine) Flush() error {
	return e.tables.Flush()
}

// Dump writes a JSON snapshot of table (or every resident table, if
// table is empty) to disk.
func (e *Engine) Dump(table string) error {
	return e.tables.Dump(table)
}

// CleanupExpiredItems removes expired records from every resident
// table.
func (e *Engine) CleanupExpiredItems() error {
	return e.tables.CleanupExpiredItems()
}

// Checkpoint forces a synchronous checkpoint.
func (e *Engine) Checkpoint() error {
	return e.checkpoint.Run(true)
}

// Stats reports introspection counters (spec §12 "Stats/introspection").
type Stats struct {
	ResidentTableCount     int
	CacheLimit             int
	PendingWriteBufferSize int
	LastCheckpointTime     uint64
	ErrorCounts            map[string]uint64
}

// Stats returns a snapshot of the engine's internal counters.
func (e *Engine) Stats() Stats {
	errorCounts := e.wal.ErrorCounts()
	for category, count := range e.tables.ErrorCounts() {
		errorCounts[category] += count
	}
	return Stats{
		ResidentTableCount:     e.tables.ResidentTableCount(),
		CacheLimit:             e.cfg.CacheLimit,
		PendingWriteBufferSize: e.tables.PendingWriteCount(),
		LastCheckpointTime:     e.checkpoint.LastCheckpointTime(),
		ErrorCounts:            errorCounts,
	}
}

// Close stops the background timers, waits for them to exit, then runs
// one final flush (spec §5 "Cancellation and timeouts").
func (e *Engine) Close() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()

	flushErr := e.Flush()
	e.tables.Close()
	walErr := e.wal.Close()

	if flushErr != nil {
		return flushErr
	}
	return walErr
}
