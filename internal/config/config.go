// Package config carries the parameters the core engine reads (spec §6).
// Loading these from a file, environment, or CLI flags is the job of an
// external collaborator; this package only defines the shape and defaults.
package config

import "time"

type Config struct {
	// DatabaseDirectory is the directory holding table files, the WAL, and
	// the transient checkpoint marker.
	DatabaseDirectory string

	// WalFileName is the WAL file name, relative to DatabaseDirectory.
	WalFileName string

	// WalInterval is the period of the WAL flush timer and, by default,
	// the checkpoint timer.
	WalInterval time.Duration

	// EncryptionKey, if non-empty, enables envelope encryption of table
	// files (§4.2). Empty means plaintext.
	EncryptionKey string

	// MaxWriteOpsBeforeFlush bounds the pending write buffer before a
	// flushWrites pass is forced.
	MaxWriteOpsBeforeFlush int

	// CacheLimit is the maximum number of tables resident in memory before
	// LRU eviction kicks in.
	CacheLimit int

	// MaxWalBufferEntries and MaxWalBufferSize bound the in-memory WAL
	// buffer before a flush is triggered.
	MaxWalBufferEntries int
	MaxWalBufferSize    int64

	// MaxWalSizeBeforeCheckpoint is the on-disk WAL size that, once
	// exceeded after a flush, fires a checkpoint-requested callback.
	MaxWalSizeBeforeCheckpoint int64

	// Debug enables verbose (debug-level) logging.
	Debug bool
}

func DefaultConfig() *Config {
	return &Config{
		DatabaseDirectory:          "./data",
		WalFileName:                "wal.log",
		WalInterval:                2 * time.Second,
		EncryptionKey:              "",
		MaxWriteOpsBeforeFlush:     100,
		CacheLimit:                 50,
		MaxWalBufferEntries:        100,
		MaxWalBufferSize:           10 * 1024,
		MaxWalSizeBeforeCheckpoint: 5 * 1024 * 1024,
		Debug:                      false,
	}
}
