package table

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mikrodb/mikrodb/internal/merrors"
)

// atomicReplace writes data to a uniquely-named temp file in dir and
// renames it over targetName, satisfying spec §9 "Atomic file
// replacement": a reader sees either the previous or the new complete
// image, never a partial write. On failure the temp file is removed.
//
// The write and the rename each run through retry, the same
// exponential-backoff-with-jitter controller the WAL uses on its
// append path (spec §10.2), since both are susceptible to the same
// transient EAGAIN/EINTR/EBUSY conditions a momentary retry rides out.
func atomicReplace(dir, targetName string, data []byte, retry *merrors.RetryController, class *merrors.Classifier, errors *merrors.Tracker) error {
	tmpName := fmt.Sprintf("%s.tmp.%s", targetName, uuid.NewString())
	tmpPath := filepath.Join(dir, tmpName)

	if err := retry.Retry(func() error {
		return os.WriteFile(tmpPath, data, 0o644)
	}, class); err != nil {
		os.Remove(tmpPath)
		errors.Record(class.Classify(err))
		return fmt.Errorf("table: write temp %s: %w", tmpPath, err)
	}

	targetPath := filepath.Join(dir, targetName)
	if err := retry.Retry(func() error {
		return os.Rename(tmpPath, targetPath)
	}, class); err != nil {
		os.Remove(tmpPath)
		errors.Record(class.Classify(err))
		return fmt.Errorf("table: rename %s -> %s: %w", tmpPath, targetPath, err)
	}
	return nil
}
