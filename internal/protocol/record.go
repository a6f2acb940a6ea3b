package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// encodeChanges serializes changes into the plaintext payload Encode
// seals: a count-prefixed sequence of length-prefixed records. The
// fixed-width integer/real encoding mirrors internal/crdt/history.go's
// history-log value encoding; table/column/row names and text/blob
// values are length-prefixed since, unlike a Timestamp, they have no
// fixed width.
func encodeChanges(changes []Change) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(changes)))

	for _, c := range changes {
		buf = appendString(buf, c.Table)
		buf = appendString(buf, c.RowID)
		buf = appendString(buf, c.Column)
		buf = appendValue(buf, c.Value)
		ts := c.Timestamp.Encode()
		buf = append(buf, ts[:]...)
	}
	return buf
}

func decodeChanges(plaintext []byte) ([]Change, error) {
	if len(plaintext) < 4 {
		return nil, fmt.Errorf("protocol: truncated change count")
	}
	count := binary.BigEndian.Uint32(plaintext[:4])
	rest := plaintext[4:]

	changes := make([]Change, 0, count)
	for i := uint32(0); i < count; i++ {
		table, next, err := readString(rest)
		if err != nil {
			return nil, fmt.Errorf("protocol: record %d table: %w", i, err)
		}
		rowID, next, err := readString(next)
		if err != nil {
			return nil, fmt.Errorf("protocol: record %d rowId: %w", i, err)
		}
		column, next, err := readString(next)
		if err != nil {
			return nil, fmt.Errorf("protocol: record %d column: %w", i, err)
		}
		value, next, err := readValue(next)
		if err != nil {
			return nil, fmt.Errorf("protocol: record %d value: %w", i, err)
		}
		if len(next) < 16 {
			return nil, fmt.Errorf("protocol: record %d: truncated timestamp", i)
		}
		var tsBytes [16]byte
		copy(tsBytes[:], next[:16])
		rest = next[16:]

		changes = append(changes, Change{
			Table:     table,
			RowID:     rowID,
			Column:    column,
			Value:     value,
			Timestamp: timestamp.Decode(tsBytes),
		})
	}
	return changes, nil
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func readString(b []byte) (string, []byte, error) {
	raw, rest, err := readBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(raw), rest, nil
}

func appendValue(buf []byte, v schema.Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case schema.KindInteger:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Integer))
		return appendBytes(buf, b[:])
	case schema.KindReal:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Real))
		return appendBytes(buf, b[:])
	case schema.KindText:
		return appendBytes(buf, []byte(v.Text))
	case schema.KindBlob:
		return appendBytes(buf, v.Blob)
	default:
		return appendBytes(buf, nil)
	}
}

func readValue(b []byte) (schema.Value, []byte, error) {
	if len(b) < 1 {
		return schema.Value{}, nil, fmt.Errorf("truncated value kind")
	}
	kind := schema.ValueKind(b[0])
	raw, rest, err := readBytes(b[1:])
	if err != nil {
		return schema.Value{}, nil, err
	}

	switch kind {
	case schema.KindInteger:
		if len(raw) != 8 {
			return schema.Value{}, nil, fmt.Errorf("malformed integer value")
		}
		return schema.Integer(int64(binary.BigEndian.Uint64(raw))), rest, nil
	case schema.KindReal:
		if len(raw) != 8 {
			return schema.Value{}, nil, fmt.Errorf("malformed real value")
		}
		return schema.Real(math.Float64frombits(binary.BigEndian.Uint64(raw))), rest, nil
	case schema.KindText:
		return schema.Text(string(raw)), rest, nil
	case schema.KindBlob:
		return schema.Blob(raw), rest, nil
	case schema.KindNull:
		return schema.Null(), rest, nil
	default:
		return schema.Value{}, nil, fmt.Errorf("unknown value kind %d", kind)
	}
}

func appendBytes(buf, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func readBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated payload")
	}
	return b[:n], b[n:], nil
}
