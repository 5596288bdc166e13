package pagedb

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

type CompressAlgorithm uint16

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
)

func (c CompressAlgorithm) String() string {
	switch c {
	case CompSnappy:
		return "snappy"
	case CompNone:
		return "none"
	case CompLz4:
		return "lz4"
	}
	return "unknown"
}

// ParseCompression maps "snappy", "lz4" or "none" to its algorithm.
func ParseCompression(s string) (CompressAlgorithm, error) {
	for _, c := range []CompressAlgorithm{CompSnappy, CompNone, CompLz4} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, errors.Errorf("unknown compression %q", s)
}

type Compressor func([]byte) ([]byte, error)
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) ([]byte, error) {
		return snappy.Encode(nil, in), nil
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil, errors.Wrap(err, "lz4 write")
		}
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 close")
		}
		return buf.Bytes(), nil
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

var identity = func(in []byte) ([]byte, error) { return in, nil }

func codecFor(c CompressAlgorithm) (Compressor, DeCompressor, error) {
	switch c {
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress, nil
	case CompLz4:
		return Lz4Compress, Lz4DeCompress, nil
	case CompNone:
		return identity, identity, nil
	}
	return nil, nil, errors.Errorf("unknown compression %d", c)
}
