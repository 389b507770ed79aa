package codec

import (
	"testing"

	"github.com/mikrodb/mikrodb/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []types.KeyedRecord{
		{Key: "a", Record: types.Record{Value: types.Null(), Version: 1, Timestamp: 100}},
		{Key: "b", Record: types.Record{Value: types.Bool(true), Version: 2, Timestamp: 200}},
		{Key: "c", Record: types.Record{Value: types.I32(-42), Version: 3, Timestamp: 300}},
		{Key: "d", Record: types.Record{Value: types.F64(3.5), Version: 4, Timestamp: 400}},
		{Key: "e", Record: types.Record{Value: types.String("hello"), Version: 5, Timestamp: 500}},
		{Key: "f", Record: types.Record{Value: types.Array([]types.Value{types.I32(1), types.String("x")}), Version: 6, Timestamp: 600}},
		{Key: "g", Record: types.Record{Value: types.Object([]types.ObjectEntry{{Key: "k", Value: types.I32(7)}}), Version: 7, Timestamp: 700}},
		{Key: "h", Record: types.Record{Value: types.Date(123456), Version: 8, Timestamp: 800}},
	}

	data := Encode(entries)
	got, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Decode: got %d records, want %d", len(got), len(entries))
	}

	byKey := make(map[string]types.Record, len(got))
	for _, kr := range got {
		byKey[kr.Key] = kr.Record
	}
	for _, want := range entries {
		rec, ok := byKey[want.Key]
		if !ok {
			t.Fatalf("missing key %q after round trip", want.Key)
		}
		if rec.Version != want.Record.Version || rec.Timestamp != want.Record.Timestamp {
			t.Fatalf("key %q: got %+v, want %+v", want.Key, rec, want.Record)
		}
		if rec.Value.Kind != want.Record.Value.Kind {
			t.Fatalf("key %q: kind %v, want %v", want.Key, rec.Value.Kind, want.Record.Value.Kind)
		}
	}
}

func TestDecodeInvalidMagicIsFatal(t *testing.T) {
	_, err := Decode([]byte{'X', 'D', 'B', 1, 0, 0, 0, 0}, 0)
	if err == nil {
		t.Fatal("Decode: want error for invalid magic, got nil")
	}
}

func TestDecodeTruncatedStopsSilently(t *testing.T) {
	entries := []types.KeyedRecord{
		{Key: "a", Record: types.Record{Value: types.String("one")}},
		{Key: "b", Record: types.Record{Value: types.String("two")}},
	}
	data := Encode(entries)

	// Cut the buffer off partway through the second record.
	truncated := data[:len(data)-3]

	got, err := Decode(truncated, 0)
	if err != nil {
		t.Fatalf("Decode truncated: unexpected error %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Decode truncated: got %d records, want 1 (first record only)", len(got))
	}
	if got[0].Key != "a" {
		t.Fatalf("Decode truncated: got key %q, want %q", got[0].Key, "a")
	}
}

func TestDecodeUnknownTagSkipsJustThatRecord(t *testing.T) {
	entries := []types.KeyedRecord{
		{Key: "a", Record: types.Record{Value: types.String("ok")}},
	}
	data := Encode(entries)

	// Corrupt the value tag byte of the only record to an unused value.
	// The tag sits right after the 26-byte prefix and 1-byte key.
	valueTagOffset := 8 + recordPrefix + 1
	data[valueTagOffset] = 0xEE

	got, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode: unexpected error %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Decode: got %d records, want 0 (corrupt record skipped)", len(got))
	}
}

func TestDecodeDropsExpiredRecords(t *testing.T) {
	entries := []types.KeyedRecord{
		{Key: "live", Record: types.Record{Value: types.String("a"), Expiration: 0}},
		{Key: "expired", Record: types.Record{Value: types.String("b"), Expiration: 500}},
	}
	data := Encode(entries)

	got, err := Decode(data, 1000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || got[0].Key != "live" {
		t.Fatalf("Decode: got %v, want only the live record", got)
	}
}

func TestEncodeSkipsInvalidUTF8Keys(t *testing.T) {
	entries := []types.KeyedRecord{
		{Key: "valid", Record: types.Record{Value: types.String("x")}},
		{Key: string([]byte{0xff, 0xfe}), Record: types.Record{Value: types.String("y")}},
	}
	data := Encode(entries)
	got, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || got[0].Key != "valid" {
		t.Fatalf("Decode: got %v, want only the valid-UTF8 key", got)
	}
}
