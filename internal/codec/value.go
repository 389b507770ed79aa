package codec

import (
	"errors"
	"math"

	"github.com/mikrodb/mikrodb/internal/types"
)

var errUnknownTag = errors.New("codec: unknown value tag")
var errTruncatedValue = errors.New("codec: truncated value")

// encodeValue serializes a Value using the tagged encoding of spec §4.1.
func encodeValue(v types.Value) []byte {
	switch v.Kind {
	case types.KindNull:
		return []byte{byte(types.KindNull)}

	case types.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(types.KindBool), b}

	case types.KindI32:
		buf := make([]byte, 5)
		buf[0] = byte(types.KindI32)
		byteOrder.PutUint32(buf[1:], uint32(v.I32))
		return buf

	case types.KindF64:
		buf := make([]byte, 9)
		buf[0] = byte(types.KindF64)
		byteOrder.PutUint64(buf[1:], math.Float64bits(v.F64))
		return buf

	case types.KindString:
		return encodeTaggedString(byte(types.KindString), v.Str)

	case types.KindArray:
		buf := []byte{byte(types.KindArray)}
		countBuf := make([]byte, 4)
		byteOrder.PutUint32(countBuf, uint32(len(v.Arr)))
		buf = append(buf, countBuf...)
		for _, e := range v.Arr {
			buf = append(buf, encodeValue(e)...)
		}
		return buf

	case types.KindObject:
		buf := []byte{byte(types.KindObject)}
		countBuf := make([]byte, 4)
		byteOrder.PutUint32(countBuf, uint32(len(v.Obj)))
		buf = append(buf, countBuf...)
		for _, e := range v.Obj {
			keyBuf := make([]byte, 2)
			byteOrder.PutUint16(keyBuf, uint16(len(e.Key)))
			buf = append(buf, keyBuf...)
			buf = append(buf, []byte(e.Key)...)
			buf = append(buf, encodeValue(e.Value)...)
		}
		return buf

	case types.KindDate:
		buf := make([]byte, 9)
		buf[0] = byte(types.KindDate)
		byteOrder.PutUint64(buf[1:], uint64(v.DateMS))
		return buf

	default:
		return []byte{byte(types.KindNull)}
	}
}

func encodeTaggedString(tag byte, s string) []byte {
	sBytes := []byte(s)
	buf := make([]byte, 5, 5+len(sBytes))
	buf[0] = tag
	byteOrder.PutUint32(buf[1:5], uint32(len(sBytes)))
	return append(buf, sBytes...)
}

// decodeValue decodes one tagged value starting at buf[0], returning the
// value and the number of bytes consumed. Truncated input or an unknown
// tag returns an error; the caller (Decode) treats that as "skip this
// record".
func decodeValue(buf []byte) (types.Value, int, error) {
	if len(buf) < 1 {
		return types.Value{}, 0, errTruncatedValue
	}
	tag := types.Kind(buf[0])

	switch tag {
	case types.KindNull:
		return types.Null(), 1, nil

	case types.KindBool:
		if len(buf) < 2 {
			return types.Value{}, 0, errTruncatedValue
		}
		return types.Bool(buf[1] != 0), 2, nil

	case types.KindI32:
		if len(buf) < 5 {
			return types.Value{}, 0, errTruncatedValue
		}
		return types.I32(int32(byteOrder.Uint32(buf[1:5]))), 5, nil

	case types.KindF64:
		if len(buf) < 9 {
			return types.Value{}, 0, errTruncatedValue
		}
		return types.F64(math.Float64frombits(byteOrder.Uint64(buf[1:9]))), 9, nil

	case types.KindString:
		if len(buf) < 5 {
			return types.Value{}, 0, errTruncatedValue
		}
		slen := int(byteOrder.Uint32(buf[1:5]))
		if len(buf) < 5+slen {
			return types.Value{}, 0, errTruncatedValue
		}
		return types.String(string(buf[5 : 5+slen])), 5 + slen, nil

	case types.KindArray:
		if len(buf) < 5 {
			return types.Value{}, 0, errTruncatedValue
		}
		count := int(byteOrder.Uint32(buf[1:5]))
		offset := 5
		elems := make([]types.Value, 0, count)
		for i := 0; i < count; i++ {
			elem, n, err := decodeValue(buf[offset:])
			if err != nil {
				return types.Value{}, 0, err
			}
			elems = append(elems, elem)
			offset += n
		}
		return types.Array(elems), offset, nil

	case types.KindObject:
		if len(buf) < 5 {
			return types.Value{}, 0, errTruncatedValue
		}
		count := int(byteOrder.Uint32(buf[1:5]))
		offset := 5
		entries := make([]types.ObjectEntry, 0, count)
		for i := 0; i < count; i++ {
			if offset+2 > len(buf) {
				return types.Value{}, 0, errTruncatedValue
			}
			klen := int(byteOrder.Uint16(buf[offset : offset+2]))
			offset += 2
			if offset+klen > len(buf) {
				return types.Value{}, 0, errTruncatedValue
			}
			key := string(buf[offset : offset+klen])
			offset += klen

			val, n, err := decodeValue(buf[offset:])
			if err != nil {
				return types.Value{}, 0, err
			}
			offset += n

			entries = append(entries, types.ObjectEntry{Key: key, Value: val})
		}
		return types.Object(entries), offset, nil

	case types.KindDate:
		if len(buf) < 9 {
			return types.Value{}, 0, errTruncatedValue
		}
		return types.Date(int64(byteOrder.Uint64(buf[1:9]))), 9, nil

	default:
		return types.Value{}, 0, errUnknownTag
	}
}
