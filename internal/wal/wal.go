// Package wal implements the append-only write-ahead log described in
// spec §4.3: a single text file of line-oriented entries, a bounded
// in-memory buffer with several independent flush triggers, and a
// per-table replay cursor so repeated loads only return new lines.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/mikrodb/mikrodb/internal/config"
	"github.com/mikrodb/mikrodb/internal/merrors"
	"github.com/mikrodb/mikrodb/internal/mlog"
	"github.com/mikrodb/mikrodb/internal/types"
)

// Op is the one-letter WAL operation code.
type Op byte

const (
	OpWrite  Op = 'W'
	OpDelete Op = 'D'
)

// Entry is one logical WAL line.
type Entry struct {
	TimestampMs uint64
	Op          Op
	Table       string
	Version     uint32
	Expiration  uint64
	Key         string
	Value       types.Value
}

// CheckpointRequester is the narrow interface the WAL holds a
// non-owning reference to (spec §9 "Callback for checkpoint-from-WAL").
// It is notified, asynchronously, after a flush leaves the on-disk WAL
// larger than the configured threshold.
type CheckpointRequester interface {
	CheckpointRequested()
}

// WAL is the append-only log for one database directory.
type WAL struct {
	mu sync.Mutex

	path string
	file *os.File

	cfg    *config.Config
	log    *mlog.Logger
	now    func() uint64
	retry  *merrors.RetryController
	class  *merrors.Classifier
	errors *merrors.Tracker

	buffer      []Entry
	bufferBytes int64

	onDiskSize int64

	replayCursor map[string]int
	checkpointer CheckpointRequester
}

// New creates a WAL bound to <cfg.DatabaseDirectory>/<cfg.WalFileName>.
// The file is not opened until Open is called.
func New(cfg *config.Config, log *mlog.Logger, now func() uint64) *WAL {
	return &WAL{
		path:         filepath.Join(cfg.DatabaseDirectory, cfg.WalFileName),
		cfg:          cfg,
		log:          log.With("wal"),
		now:          now,
		retry:        merrors.DefaultRetryController(),
		class:        merrors.NewClassifier(),
		errors:       merrors.NewTracker(),
		replayCursor: make(map[string]int),
	}
}

// SetCheckpointRequester wires the callback used when the on-disk WAL
// exceeds MaxWalSizeBeforeCheckpoint after a flush. The size check runs
// only after a flush, so the requester takes effect from the next
// Flush on, whether it is set before or after Open.
func (w *WAL) SetCheckpointRequester(r CheckpointRequester) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpointer = r
}

// Open creates the WAL file if absent and positions for append.
func (w *WAL) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", w.path, err)
	}
	w.file = f

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat %s: %w", w.path, err)
	}
	w.onDiskSize = info.Size()
	return nil
}

// Close flushes any buffered entries and closes the file handle.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Append validates and buffers one entry, flushing the buffer if any of
// the configured triggers has been crossed (spec §4.3 "Buffering
// policy"). It does not itself implement the periodic-timer trigger;
// that is driven externally by whatever owns the WAL's lifetime.
func (w *WAL) Append(e Entry) error {
	if strings.ContainsAny(e.Key, " \n") {
		return merrors.ErrValidation
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, e)
	w.bufferBytes += estimateEntrySize(e)
	shouldFlush := len(w.buffer) >= w.cfg.MaxWalBufferEntries || w.bufferBytes >= w.cfg.MaxWalBufferSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush()
	}
	return nil
}

// Flush writes every buffered entry to disk. On failure the unwritten
// entries are restored ahead of any entries appended in the meantime
// (spec §4.3 "Failure"), and the error is returned.
func (w *WAL) Flush() error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	pending := w.buffer
	w.buffer = nil
	w.bufferBytes = 0
	w.mu.Unlock()

	err := w.retry.Retry(func() error {
		return w.writeLines(pending)
	}, w.class)

	if err != nil {
		category := w.class.Classify(err)
		w.errors.Record(category)

		w.mu.Lock()
		w.buffer = append(pending, w.buffer...)
		w.bufferBytes += totalEntrySize(pending)
		w.mu.Unlock()
		return err
	}

	w.maybeRequestCheckpoint()
	return nil
}

func (w *WAL) writeLines(entries []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return merrors.ErrClosed
	}

	var sb strings.Builder
	for _, e := range entries {
		line, err := formatLine(e)
		if err != nil {
			w.log.Warn("skipping malformed entry for table %s key %s: %v", e.Table, e.Key, err)
			continue
		}
		sb.WriteString(line)
	}

	n, err := w.file.WriteString(sb.String())
	if err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	w.onDiskSize += int64(n)
	return nil
}

func (w *WAL) maybeRequestCheckpoint() {
	w.mu.Lock()
	size := w.onDiskSize
	threshold := w.cfg.MaxWalSizeBeforeCheckpoint
	requester := w.checkpointer
	w.mu.Unlock()

	if requester == nil || threshold <= 0 || size <= threshold {
		return
	}
	w.log.Info("wal size %s exceeds checkpoint threshold %s, requesting checkpoint",
		humanize.Bytes(uint64(size)), humanize.Bytes(uint64(threshold)))

	// Asynchronous: the flush path must not block on checkpoint work.
	go requester.CheckpointRequested()
}

// ErrorCounts returns a snapshot of append/flush error counts by
// classification category, for Engine.Stats().
func (w *WAL) ErrorCounts() map[string]uint64 {
	snapshot := w.errors.Snapshot()
	out := make(map[string]uint64, len(snapshot))
	for category, count := range snapshot {
		out[category.String()] = count
	}
	return out
}

// Size returns the WAL's current on-disk size in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.onDiskSize
}

// Truncate overwrites the WAL with empty content and clears every
// per-table replay cursor (spec §4.7 step 7-8).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return merrors.ErrClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	w.onDiskSize = 0
	w.replayCursor = make(map[string]int)
	return nil
}

// LoadWAL parses the WAL file linearly and returns every entry for
// table recorded since that table's replay cursor, advancing the
// cursor so a second call returns only newly appended entries (spec
// §4.3 "Replay"). Entries whose expiration has already elapsed are
// skipped; malformed lines are logged and skipped without aborting
// the scan.
func (w *WAL) LoadWAL(table string) ([]Entry, error) {
	w.mu.Lock()
	path := w.path
	cursor := w.replayCursor[table]
	nowMs := w.now()
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open for replay: %w", err)
	}
	defer f.Close()

	var out []Entry
	lineNo := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++
		if line == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			w.log.Warn("skipping malformed wal line %d: %v", lineNo, err)
			continue
		}
		if e.Table != table {
			continue
		}
		if lineNo <= cursor {
			continue
		}
		if e.Expiration != 0 && e.Expiration <= nowMs {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wal: scan: %w", err)
	}

	w.mu.Lock()
	w.replayCursor[table] = lineNo
	w.mu.Unlock()

	return out, nil
}

// ReferencedTables parses the WAL and returns the distinct set of
// table names it mentions (spec §4.7 step 5).
func (w *WAL) ReferencedTables() ([]string, error) {
	w.mu.Lock()
	path := w.path
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open for scan: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			continue
		}
		if _, ok := seen[e.Table]; !ok {
			seen[e.Table] = struct{}{}
			order = append(order, e.Table)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wal: scan: %w", err)
	}
	return order, nil
}

func formatLine(e Entry) (string, error) {
	var jsonValue []byte
	var err error
	if e.Op == OpDelete {
		jsonValue = []byte("null")
	} else {
		jsonValue, err = json.Marshal(e.Value.Native())
		if err != nil {
			return "", fmt.Errorf("marshal value: %w", err)
		}
	}

	return fmt.Sprintf("%d %c %s v:%d x:%d %s %s\n",
		e.TimestampMs, e.Op, e.Table, e.Version, e.Expiration, e.Key, jsonValue), nil
}

func parseLine(line string) (Entry, error) {
	parts := strings.SplitN(line, " ", 7)
	if len(parts) != 7 {
		return Entry{}, fmt.Errorf("expected 7 fields, got %d", len(parts))
	}

	ts, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad timestamp: %w", err)
	}
	if len(parts[1]) != 1 {
		return Entry{}, fmt.Errorf("bad op %q", parts[1])
	}
	op := Op(parts[1][0])
	if op != OpWrite && op != OpDelete {
		return Entry{}, fmt.Errorf("unknown op %q", parts[1])
	}

	versionStr, ok := cutPrefix(parts[3], "v:")
	if !ok {
		return Entry{}, fmt.Errorf("bad version field %q", parts[3])
	}
	version, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("bad version: %w", err)
	}

	expirationStr, ok := cutPrefix(parts[4], "x:")
	if !ok {
		return Entry{}, fmt.Errorf("bad expiration field %q", parts[4])
	}
	expiration, err := strconv.ParseUint(expirationStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad expiration: %w", err)
	}

	var native interface{}
	if err := json.Unmarshal([]byte(parts[6]), &native); err != nil {
		return Entry{}, fmt.Errorf("bad json value: %w", err)
	}

	return Entry{
		TimestampMs: ts,
		Op:          op,
		Table:       parts[2],
		Version:     uint32(version),
		Expiration:  expiration,
		Key:         parts[5],
		Value:       types.FromNative(native),
	}, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func estimateEntrySize(e Entry) int64 {
	return int64(len(e.Table) + len(e.Key) + 48)
}

func totalEntrySize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += estimateEntrySize(e)
	}
	return total
}
