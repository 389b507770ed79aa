// Package table implements the table manager of spec §4.4: the
// in-memory table cache, the write/delete/get operations, batch write
// ordering, flush-to-disk, and eviction. It owns the codec, the WAL,
// the LRU tracker, the filter engine, and the event hook.
package table

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mikrodb/mikrodb/internal/cache"
	"github.com/mikrodb/mikrodb/internal/codec"
	"github.com/mikrodb/mikrodb/internal/config"
	"github.com/mikrodb/mikrodb/internal/crypto"
	"github.com/mikrodb/mikrodb/internal/event"
	"github.com/mikrodb/mikrodb/internal/filter"
	"github.com/mikrodb/mikrodb/internal/merrors"
	"github.com/mikrodb/mikrodb/internal/mlog"
	"github.com/mikrodb/mikrodb/internal/types"
	"github.com/mikrodb/mikrodb/internal/wal"
)

// tableState is one resident table's in-memory record map.
type tableState struct {
	records map[string]types.Record
}

// pendingWrite is one entry in the write buffer awaiting flushWrites.
type pendingWrite struct {
	Table   string
	Key     string
	Record  types.Record
	Deleted bool
}

// Manager owns every resident table and the machinery (WAL, cache,
// codec, filter, events) the spec's table manager component describes.
// It is the single owning object with interior, serialized access
// (spec §9 "Design Notes"): mu guards tables, the per-table record
// maps they hold, and writeBuffer, so every mutating operation behaves
// as if dispatched to one logical actor no matter how many goroutines
// call in concurrently.
type Manager struct {
	cfg *config.Config
	log *mlog.Logger
	now func() uint64

	wal      *wal.WAL
	cache    *cache.Tracker
	envelope *crypto.Envelope
	events   *event.Hub

	retry  *merrors.RetryController
	class  *merrors.Classifier
	errors *merrors.Tracker

	mu          sync.Mutex
	tables      map[string]*tableState
	writeBuffer []pendingWrite
	flusher     *flushExecutor
}

// New constructs a table manager. w must already be opened; envelope
// may be nil to disable encryption.
func New(cfg *config.Config, log *mlog.Logger, now func() uint64, w *wal.WAL, envelope *crypto.Envelope, events *event.Hub) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log.With("table"),
		now:      now,
		wal:      w,
		cache:    cache.New(),
		envelope: envelope,
		events:   events,
		retry:    merrors.TableReplaceRetryController(),
		class:    merrors.NewClassifier(),
		errors:   merrors.NewTracker(),
		tables:   make(map[string]*tableState),
		flusher:  newFlushExecutor(),
	}
}

// ErrorCounts reports the accumulated count of table-file replace
// failures by classification category, for Engine.Stats().
func (m *Manager) ErrorCounts() map[string]uint64 {
	snapshot := m.errors.Snapshot()
	out := make(map[string]uint64, len(snapshot))
	for category, count := range snapshot {
		out[category.String()] = count
	}
	return out
}

// Close releases the bounded-parallelism worker pool.
func (m *Manager) Close() {
	m.flusher.Release()
}

// ensureTableActive loads table from disk (or creates it empty),
// replays any pending WAL entries for it, and runs eviction if the
// cache is now over its limit (spec §4.4 step 1). Callers must already
// hold m.mu.
func (m *Manager) ensureTableActive(name string) (*tableState, error) {
	if ts, ok := m.tables[name]; ok {
		m.cache.TrackTableAccess(name, int64(m.now()))
		return ts, nil
	}

	ts, err := m.loadTableFromDisk(name)
	if err != nil {
		return nil, err
	}

	if err := m.replayWAL(name, ts); err != nil {
		return nil, err
	}

	m.tables[name] = ts
	m.cache.TrackTableAccess(name, int64(m.now()))

	if err := m.runEviction(); err != nil {
		m.log.Warn("eviction pass failed: %v", err)
	}

	return ts, nil
}

func (m *Manager) loadTableFromDisk(name string) (*tableState, error) {
	path := filepath.Join(m.cfg.DatabaseDirectory, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &tableState{records: make(map[string]types.Record)}, nil
		}
		return nil, fmt.Errorf("table: read %s: %w", path, err)
	}

	if m.envelope != nil && crypto.IsEncrypted(data) {
		plain, err := m.envelope.Open(data)
		if err != nil {
			m.log.Error("decrypting table %s failed, falling back to plaintext handling: %v", name, err)
		} else {
			data = plain
		}
	}

	entries, err := codec.Decode(data, m.now())
	if err != nil {
		m.log.Error("table %s is corrupt, reinitializing empty: %v", name, err)
		return &tableState{records: make(map[string]types.Record)}, nil
	}

	records := make(map[string]types.Record, len(entries))
	for _, e := range entries {
		records[e.Key] = e.Record
	}
	return &tableState{records: records}, nil
}

func (m *Manager) replayWAL(name string, ts *tableState) error {
	entries, err := m.wal.LoadWAL(name)
	if err != nil {
		return fmt.Errorf("table: replay wal for %s: %w", name, err)
	}
	for _, e := range entries {
		switch e.Op {
		case wal.OpWrite:
			ts.records[e.Key] = types.Record{
				Value:      e.Value,
				Version:    e.Version,
				Timestamp:  e.TimestampMs,
				Expiration: e.Expiration,
			}
		case wal.OpDelete:
			delete(ts.records, e.Key)
		}
	}
	return nil
}

// runEviction must be called with m.mu held.
func (m *Manager) runEviction() error {
	victims := m.cache.FindTablesForEviction(len(m.tables), m.cfg.CacheLimit)
	for _, victim := range victims {
		ts, ok := m.tables[victim]
		if !ok {
			continue
		}
		for key, rec := range ts.records {
			m.writeBuffer = append(m.writeBuffer, pendingWrite{Table: victim, Key: key, Record: rec})
		}
		if err := m.flushWritesLocked(); err != nil {
			m.log.Warn("evicting table %s: flush failed: %v", victim, err)
		}
		delete(m.tables, victim)
	}
	return nil
}

// Get returns the current record for key, lazily deleting it if
// expired (spec §4.4 "get", invariant 2).
func (m *Manager) Get(table, key string) (types.Record, bool, error) {
	if err := validateTableName(table); err != nil {
		return types.Record{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts, err := m.ensureTableActive(table)
	if err != nil {
		return types.Record{}, false, err
	}

	rec, ok := ts.records[key]
	if !ok {
		return types.Record{}, false, nil
	}
	if rec.Expired(m.now()) {
		delete(ts.records, key)
		m.events.Emit(event.Event{Operation: event.ItemExpired, Table: table, Key: key})
		return types.Record{}, false, nil
	}
	return rec, true, nil
}

// GetAll returns every live (non-expired) record in table.
func (m *Manager) GetAll(table string) ([]types.KeyedRecord, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts, err := m.ensureTableActive(table)
	if err != nil {
		return nil, err
	}

	nowMs := m.now()
	out := make([]types.KeyedRecord, 0, len(ts.records))
	for key, rec := range ts.records {
		if rec.Expired(nowMs) {
			delete(ts.records, key)
			m.events.Emit(event.Event{Operation: event.ItemExpired, Table: table, Key: key})
			continue
		}
		out = append(out, types.KeyedRecord{Key: key, Record: rec})
	}
	return out, nil
}

// GetFiltered returns the filtered, sorted, sliced view of table
// described by opts.
func (m *Manager) GetFiltered(table string, opts filter.Options) ([]types.KeyedRecord, error) {
	all, err := m.GetAll(table)
	if err != nil {
		return nil, err
	}
	return filter.Apply(all, opts), nil
}

// GetTableSize loads table if needed and returns its number of live
// keys.
func (m *Manager) GetTableSize(table string) (int, error) {
	all, err := m.GetAll(table)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// ResidentTableCount returns the number of tables currently loaded in
// memory.
func (m *Manager) ResidentTableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

// PendingWriteCount returns the current depth of the pending write
// buffer.
func (m *Manager) PendingWriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writeBuffer)
}

// residentTableNames snapshots the names of every table currently
// loaded in memory.
func (m *Manager) residentTableNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	return names
}

// DeleteTable removes table's in-memory entry and emits table.deleted.
// The on-disk file is left untouched (spec §3 "Lifecycle", §9 open
// question 4).
func (m *Manager) DeleteTable(table string) error {
	if err := validateTableName(table); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tables, table)
	m.cache.Forget(table)
	m.mu.Unlock()

	m.events.Emit(event.Event{Operation: event.TableDeleted, Table: table})
	return nil
}
