// Package codec implements the binary table file format (spec §4.1): the
// MDB header, the fixed-width record prefix, and the tagged value
// encoding that both the table codec and (via the same Value type) the
// filter engine operate on.
package codec

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/mikrodb/mikrodb/internal/merrors"
	"github.com/mikrodb/mikrodb/internal/types"
)

var byteOrder = binary.LittleEndian

var magic = [3]byte{'M', 'D', 'B'}

const fileVersion = 1

// record prefix field widths, per spec §4.1.
const (
	keyLenSize    = 2
	valueLenSize  = 4
	versionSize   = 4
	timestampSize = 8
	expirationSize = 8
	recordPrefix  = keyLenSize + valueLenSize + versionSize + timestampSize + expirationSize
)

// Encode serializes a table's resident records into the MDB binary format.
// Records are emitted in the order given by entries; keys that are not
// valid UTF-8 are skipped (spec §4.1 "Ordering").
func Encode(entries []types.KeyedRecord) []byte {
	var body []byte
	count := uint32(0)

	for _, e := range entries {
		if !utf8.ValidString(e.Key) {
			continue
		}
		body = append(body, encodeRecord(e)...)
		count++
	}

	header := make([]byte, 0, 3+1+4)
	header = append(header, magic[:]...)
	header = append(header, byte(fileVersion))
	countBuf := make([]byte, 4)
	byteOrder.PutUint32(countBuf, count)
	header = append(header, countBuf...)

	return append(header, body...)
}

func encodeRecord(e types.KeyedRecord) []byte {
	keyBytes := []byte(e.Key)
	valueBytes := encodeValue(e.Record.Value)

	buf := make([]byte, recordPrefix, recordPrefix+len(keyBytes)+len(valueBytes))
	byteOrder.PutUint16(buf[0:2], uint16(len(keyBytes)))
	byteOrder.PutUint32(buf[2:6], uint32(len(valueBytes)))
	byteOrder.PutUint32(buf[6:10], e.Record.Version)
	byteOrder.PutUint64(buf[10:18], e.Record.Timestamp)
	byteOrder.PutUint64(buf[18:26], e.Record.Expiration)

	buf = append(buf, keyBytes...)
	buf = append(buf, valueBytes...)
	return buf
}

// Decode parses an MDB binary table file. Per spec §4.1: an invalid magic
// header is a fatal parse error; truncation silently terminates decoding,
// returning whatever was successfully read; unknown value tags skip just
// that record; records whose expiration is <= nowMS are dropped.
func Decode(data []byte, nowMS uint64) ([]types.KeyedRecord, error) {
	if len(data) < 4 {
		return nil, merrors.ErrCorrupt
	}
	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] {
		return nil, merrors.ErrCorrupt
	}
	if data[3] != fileVersion {
		return nil, merrors.ErrCorrupt
	}
	if len(data) < 8 {
		return nil, merrors.ErrCorrupt
	}

	count := byteOrder.Uint32(data[4:8])
	offset := 8

	out := make([]types.KeyedRecord, 0, count)

	for i := uint32(0); i < count; i++ {
		if offset+recordPrefix > len(data) {
			break // truncated: return whatever was read so far
		}

		keyLen := int(byteOrder.Uint16(data[offset : offset+2]))
		valueLen := int(byteOrder.Uint32(data[offset+2 : offset+6]))
		version := byteOrder.Uint32(data[offset+6 : offset+10])
		timestamp := byteOrder.Uint64(data[offset+10 : offset+18])
		expiration := byteOrder.Uint64(data[offset+18 : offset+26])
		offset += recordPrefix

		if offset+keyLen > len(data) {
			break
		}
		key := string(data[offset : offset+keyLen])
		offset += keyLen

		if offset+valueLen > len(data) {
			break
		}
		valueBytes := data[offset : offset+valueLen]
		offset += valueLen

		if expiration != 0 && expiration <= nowMS {
			continue
		}

		value, _, err := decodeValue(valueBytes)
		if err != nil {
			// Unknown tag or malformed value: skip just this record. The
			// prefix already told us exactly how many bytes it occupied,
			// so the outer loop stays aligned.
			continue
		}

		out = append(out, types.KeyedRecord{
			Key: key,
			Record: types.Record{
				Value:      value,
				Version:    version,
				Timestamp:  timestamp,
				Expiration: expiration,
			},
		})
	}

	return out, nil
}
