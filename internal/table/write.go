package table

import (
	"golang.org/x/sync/errgroup"

	"github.com/mikrodb/mikrodb/internal/event"
	"github.com/mikrodb/mikrodb/internal/types"
	"github.com/mikrodb/mikrodb/internal/wal"
)

// WriteOp is one record to write, as accepted by Write and WriteBatch.
type WriteOp struct {
	Table           string
	Key             string
	Value           types.Value
	ExpectedVersion *uint32
	Expiration      uint64
}

// BatchOptions controls WriteBatch's concurrency. FlushImmediately has
// no effect of its own: WriteBatch always runs a full Flush once every
// slice has committed.
type BatchOptions struct {
	ConcurrencyLimit int
	FlushImmediately bool
}

// Write commits a single record, following spec §4.4's write
// algorithm. It returns false (no error) on a version mismatch.
func (m *Manager) Write(op WriteOp, flushImmediately bool) (bool, error) {
	ok, err := m.writeOne(op)
	if err != nil || !ok {
		return ok, err
	}

	if err := m.maybeFlush(); err != nil {
		return true, err
	}
	if flushImmediately {
		if err := m.Flush(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// maybeFlush flushes the write buffer once it has grown past
// cfg.MaxWriteOpsBeforeFlush.
func (m *Manager) maybeFlush() error {
	m.mu.Lock()
	over := len(m.writeBuffer) > m.cfg.MaxWriteOpsBeforeFlush
	m.mu.Unlock()
	if !over {
		return nil
	}
	return m.flushWrites()
}

// writeOne commits a single record under m.mu, so that WriteBatch's
// concurrent goroutines each serialize against the same table and
// write-buffer state instead of racing on them (spec §5, §9).
func (m *Manager) writeOne(op WriteOp) (bool, error) {
	if err := validateTableName(op.Table); err != nil {
		return false, err
	}
	if err := validateKey(op.Key); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts, err := m.ensureTableActive(op.Table)
	if err != nil {
		return false, err
	}

	var currentVersion uint32
	if rec, ok := ts.records[op.Key]; ok {
		currentVersion = rec.Version
	}
	if op.ExpectedVersion != nil && *op.ExpectedVersion != currentVersion {
		return false, nil
	}
	newVersion := currentVersion + 1
	nowMs := m.now()

	if err := m.wal.Append(wal.Entry{
		TimestampMs: nowMs,
		Op:          wal.OpWrite,
		Table:       op.Table,
		Version:     newVersion,
		Expiration:  op.Expiration,
		Key:         op.Key,
		Value:       op.Value,
	}); err != nil {
		return false, err
	}

	rec := types.Record{Value: op.Value, Version: newVersion, Timestamp: nowMs, Expiration: op.Expiration}
	ts.records[op.Key] = rec
	m.writeBuffer = append(m.writeBuffer, pendingWrite{Table: op.Table, Key: op.Key, Record: rec})
	return true, nil
}

// WriteBatch commits every op, processed in slices of up to
// opts.ConcurrencyLimit (spec §4.4 "Batch ordering"). The outer loop
// waits for each slice before starting the next; any failure within a
// slice fails the whole batch, but already-committed records within
// the batch remain committed.
func (m *Manager) WriteBatch(ops []WriteOp, opts BatchOptions) (bool, error) {
	limit := opts.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}

	for start := 0; start < len(ops); start += limit {
		end := start + limit
		if end > len(ops) {
			end = len(ops)
		}
		slice := ops[start:end]

		results := make([]bool, len(slice))
		var eg errgroup.Group
		for i, op := range slice {
			i, op := i, op
			eg.Go(func() error {
				// writeOne takes m.mu itself, so these goroutines run in
				// parallel but still serialize on the shared table state.
				ok, err := m.writeOne(op)
				results[i] = ok
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return false, err
		}
		for _, ok := range results {
			if !ok {
				return false, nil
			}
		}
	}

	if err := m.maybeFlush(); err != nil {
		return true, err
	}
	// Per spec §9 open question 2, the post-batch flush branch fires
	// unconditionally: always flush after a batch completes.
	if err := m.Flush(); err != nil {
		return true, err
	}
	return true, nil
}

// Delete removes key from table. Returns false (no error) if the key
// is absent or expectedVersion does not match.
func (m *Manager) Delete(table, key string, expectedVersion *uint32) (bool, error) {
	if err := validateTableName(table); err != nil {
		return false, err
	}

	ok, shouldFlush, err := m.deleteLocked(table, key, expectedVersion)
	if err != nil || !ok {
		return ok, err
	}
	if shouldFlush {
		if err := m.flushWrites(); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (m *Manager) deleteLocked(table, key string, expectedVersion *uint32) (ok bool, shouldFlush bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, err := m.ensureTableActive(table)
	if err != nil {
		return false, false, err
	}

	rec, exists := ts.records[key]
	if !exists || rec.Expired(m.now()) {
		return false, false, nil
	}
	if expectedVersion != nil && *expectedVersion != rec.Version {
		return false, false, nil
	}

	if err := m.wal.Append(wal.Entry{
		TimestampMs: m.now(),
		Op:          wal.OpDelete,
		Table:       table,
		Version:     rec.Version,
		Expiration:  0,
		Key:         key,
		Value:       types.Null(),
	}); err != nil {
		return false, false, err
	}

	delete(ts.records, key)
	m.writeBuffer = append(m.writeBuffer, pendingWrite{Table: table, Key: key, Record: rec, Deleted: true})
	return true, len(m.writeBuffer) >= m.cfg.MaxWriteOpsBeforeFlush, nil
}

// CleanupExpiredItems scans every resident table for expired records,
// logs their removal to the WAL, drops them from memory, and emits
// item.expired for each (spec §4.4 "cleanupExpiredItems").
func (m *Manager) CleanupExpiredItems() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMs := m.now()
	for table, ts := range m.tables {
		for key, rec := range ts.records {
			if !rec.Expired(nowMs) {
				continue
			}
			if err := m.wal.Append(wal.Entry{
				TimestampMs: nowMs,
				Op:          wal.OpDelete,
				Table:       table,
				Version:     rec.Version,
				Key:         key,
				Value:       types.Null(),
			}); err != nil {
				return err
			}
			delete(ts.records, key)
			m.writeBuffer = append(m.writeBuffer, pendingWrite{Table: table, Key: key, Record: rec, Deleted: true})
			m.events.Emit(event.Event{Operation: event.ItemExpired, Table: table, Key: key})
		}
	}
	return nil
}
