package table

import (
	"strings"
	"unicode/utf8"

	"github.com/mikrodb/mikrodb/internal/merrors"
)

// maxTableNameLen and maxKeyLen bound names the way the teacher bounds
// collection/database names.
const (
	maxTableNameLen = 64
	maxKeyLen       = 65535
)

// validateTableName enforces spec §12's supplemented table-name rule,
// adapted from the teacher's collection/database name validator: non
// empty, valid UTF-8, no path separator or null byte, bounded length.
func validateTableName(name string) error {
	if name == "" {
		return merrors.ErrValidation
	}
	if !utf8.ValidString(name) {
		return merrors.ErrValidation
	}
	if len(name) > maxTableNameLen {
		return merrors.ErrValidation
	}
	if strings.ContainsAny(name, "/\\") {
		return merrors.ErrValidation
	}
	if strings.ContainsRune(name, 0) {
		return merrors.ErrValidation
	}
	return nil
}

// validateKey enforces spec §3 (key ≤ 65,535 UTF-8 bytes) and §9 open
// question 5 (no space or newline, since the WAL line format cannot
// represent them).
func validateKey(key string) error {
	if key == "" {
		return merrors.ErrValidation
	}
	if !utf8.ValidString(key) {
		return merrors.ErrValidation
	}
	if len(key) > maxKeyLen {
		return merrors.ErrValidation
	}
	if strings.ContainsAny(key, " \n") {
		return merrors.ErrValidation
	}
	return nil
}
