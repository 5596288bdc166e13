package pagedb

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// recordCountSize is the u32 record count at the start of every page.
const recordCountSize = 4

// EncodeRecords serializes records as
// [u32 count] then per record [null bitmap][payload of non-null attributes].
func EncodeRecords(records []Record, attrs []Attribute) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	var count [recordCountSize]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(records)))
	buf.Write(count[:])
	for _, rec := range records {
		if err := encodeRecord(buf, rec, attrs); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodedSize is len(EncodeRecords(records, attrs)) without building the buffer.
func EncodedSize(records []Record, attrs []Attribute) (int, error) {
	size := recordCountSize
	for _, rec := range records {
		n, err := recordSize(rec, attrs)
		if err != nil {
			return 0, err
		}
		size += n
	}
	return size, nil
}

func recordSize(rec Record, attrs []Attribute) (int, error) {
	if len(rec) != len(attrs) {
		return 0, errors.Errorf("record has %d values, schema has %d attributes", len(rec), len(attrs))
	}
	size := bitmapLen(len(attrs))
	for i, a := range attrs {
		if err := checkValue(a, rec[i]); err != nil {
			return 0, err
		}
		if rec[i].Null {
			continue
		}
		size += valueSize(a, rec[i])
	}
	return size, nil
}

func valueSize(a Attribute, v Value) int {
	switch a.Type {
	case TypeVarchar:
		return 1 + len(v.s)
	default:
		return keySize(a)
	}
}

func encodeRecord(buf *bytes.Buffer, rec Record, attrs []Attribute) error {
	if len(rec) != len(attrs) {
		return errors.Errorf("record has %d values, schema has %d attributes", len(rec), len(attrs))
	}
	bitmap := make([]byte, bitmapLen(len(attrs)))
	for i := range attrs {
		if rec[i].Null {
			setBit(bitmap, i)
		}
	}
	buf.Write(bitmap)
	for i, a := range attrs {
		if rec[i].Null {
			if rec[i].Type != a.Type {
				return errors.Wrapf(ErrTypeMismatch, "attribute %s", a.Name)
			}
			continue
		}
		if err := encodeValue(buf, a, rec[i]); err != nil {
			return err
		}
	}
	return nil
}

// encodeValue writes the payload of a non-null value.
func encodeValue(buf *bytes.Buffer, a Attribute, v Value) error {
	if err := checkValue(a, v); err != nil {
		return err
	}
	var scratch [8]byte
	switch a.Type {
	case TypeInteger:
		binary.BigEndian.PutUint32(scratch[:4], uint32(v.i))
		buf.Write(scratch[:4])
	case TypeDouble:
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(v.d))
		buf.Write(scratch[:])
	case TypeBoolean:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TypeChar:
		buf.WriteString(v.s)
		buf.Write(make([]byte, a.MaxLength-len(v.s)))
	case TypeVarchar:
		buf.WriteByte(byte(len(v.s)))
		buf.WriteString(v.s)
	default:
		return errors.Errorf("unknown type %v", a.Type)
	}
	return nil
}

// DecodeRecords is the inverse of EncodeRecords. Bytes after the last record
// are ignored, so a whole page slot can be passed in.
func DecodeRecords(data []byte, attrs []Attribute) ([]Record, error) {
	r := bytes.NewReader(data)
	var count [recordCountSize]byte
	if _, err := r.Read(count[:]); err != nil || len(data) < recordCountSize {
		return nil, corruptError("decode", "missing record count")
	}
	n := binary.BigEndian.Uint32(count[:])
	// every record takes at least its bitmap, which bounds a garbage count
	if min := bitmapLen(len(attrs)); min > 0 && int64(n)*int64(min) > int64(r.Len()) {
		return nil, corruptError("decode", "record count %d exceeds page data", n)
	}
	records := make([]Record, 0, n)
	for i := uint32(0); i < n; i++ {
		rec, err := decodeRecord(r, attrs)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(r *bytes.Reader, attrs []Attribute) (Record, error) {
	bitmap := make([]byte, bitmapLen(len(attrs)))
	if err := readFull(r, bitmap); err != nil {
		return nil, err
	}
	rec := make(Record, len(attrs))
	for i, a := range attrs {
		if hasBit(bitmap, i) {
			rec[i] = Null(a.Type)
			continue
		}
		v, err := decodeValue(r, a)
		if err != nil {
			return nil, err
		}
		rec[i] = v
	}
	return rec, nil
}

func decodeValue(r *bytes.Reader, a Attribute) (Value, error) {
	var scratch [8]byte
	switch a.Type {
	case TypeInteger:
		if err := readFull(r, scratch[:4]); err != nil {
			return Value{}, err
		}
		return Int(int32(binary.BigEndian.Uint32(scratch[:4]))), nil
	case TypeDouble:
		if err := readFull(r, scratch[:]); err != nil {
			return Value{}, err
		}
		return Double(math.Float64frombits(binary.BigEndian.Uint64(scratch[:]))), nil
	case TypeBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, corruptError("decode", "truncated boolean")
		}
		return Bool(b != 0), nil
	case TypeChar:
		raw := make([]byte, a.MaxLength)
		if err := readFull(r, raw); err != nil {
			return Value{}, err
		}
		return Char(string(bytes.TrimRight(raw, "\x00"))), nil
	case TypeVarchar:
		n, err := r.ReadByte()
		if err != nil {
			return Value{}, corruptError("decode", "truncated varchar length")
		}
		raw := make([]byte, n)
		if err := readFull(r, raw); err != nil {
			return Value{}, err
		}
		return Varchar(string(raw)), nil
	}
	return Value{}, corruptError("decode", "unknown type %v", a.Type)
}

func readFull(r *bytes.Reader, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if n, _ := r.Read(p); n != len(p) {
		return corruptError("decode", "truncated data: want %d bytes, have %d", len(p), n)
	}
	return nil
}
