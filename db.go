package pagedb

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// Magic = "PGDB" in bigEndian
	Magic   uint32 = 0x50474442
	Version uint16 = 1

	metaFileName = "pagedb.meta"
	metaSize     = 16

	minPageSize = 16
	maxPageSize = 1 << 24
)

// Options represents the options that can be set when opening a database root.
type Options struct {
	// PageSize is used when the root is created. An existing root keeps the
	// page size recorded in its marker file.
	PageSize int

	// BufferSize is the number of pages held by the page buffer.
	BufferSize int

	// When enabled, every index mutation is followed by a full invariant
	// check of the tree. This has a large performance impact so it should
	// only be used for debugging purposes.
	StrictMode bool

	// Compression is the default algorithm for Snapshot.
	Compression CompressAlgorithm

	// Timeout is the amount of time to wait to obtain the root lock.
	// When zero the lock is tried once.
	Timeout time.Duration

	// Logger defaults to the logrus standard logger.
	Logger *log.Logger
}

var DefaultOptions = &Options{
	PageSize:    DefaultPageSize,
	BufferSize:  DefaultBufferSize,
	Compression: CompSnappy,
}

// metaHeader is the page size marker stored at the root of a database.
type metaHeader struct {
	magic    uint32
	version  uint16
	pageSize uint32
}

func (m metaHeader) marshal() []byte {
	buf := make([]byte, metaSize)
	binary.BigEndian.PutUint32(buf[0:], m.magic)
	binary.BigEndian.PutUint16(buf[4:], m.version)
	binary.BigEndian.PutUint32(buf[8:], m.pageSize)
	binary.BigEndian.PutUint32(buf[12:], crc32.ChecksumIEEE(buf[:12]))
	return buf
}

func (m *metaHeader) unmarshal(buf []byte) error {
	if len(buf) != metaSize {
		return errors.Wrapf(ErrCorruptMeta, "size %d", len(buf))
	}
	if sum := binary.BigEndian.Uint32(buf[12:]); sum != crc32.ChecksumIEEE(buf[:12]) {
		return errors.Wrap(ErrCorruptMeta, "checksum mismatch")
	}
	m.magic = binary.BigEndian.Uint32(buf[0:])
	m.version = binary.BigEndian.Uint16(buf[4:])
	m.pageSize = binary.BigEndian.Uint32(buf[8:])
	return m.validate()
}

func (m metaHeader) validate() error {
	if m.magic != Magic {
		return errors.Wrap(ErrCorruptMeta, "invalid magic")
	}
	if m.version != Version {
		return errors.Wrapf(ErrCorruptMeta, "unsupported version %d", m.version)
	}
	if m.pageSize < minPageSize || m.pageSize > maxPageSize {
		return errors.Wrapf(ErrCorruptMeta, "page size %d out of range", m.pageSize)
	}
	return nil
}

// StorageManager runs record operations against the table files of one root.
// It is not safe for concurrent use; independent managers over disjoint roots
// may run in parallel.
type StorageManager struct {
	// When enabled, index mutations run BTree.Check afterwards.
	StrictMode bool

	root        string
	pageSize    int
	compression CompressAlgorithm
	buffer      *PageBuffer
	lockFile    *os.File
	opened      bool
	log         *log.Entry

	// tables whose index no longer matches the table file
	staleIndex map[int]bool
	indexes    map[int]*BTree
}

// Open opens or creates the database root at path.
func Open(path string, options *Options) (*StorageManager, error) {
	if options == nil {
		options = DefaultOptions
	}
	logger := options.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	sm := &StorageManager{
		StrictMode:  options.StrictMode,
		root:        path,
		compression: options.Compression,
		log:         logger.WithField("root", path),
		staleIndex:  make(map[int]bool),
		indexes:     make(map[int]*BTree),
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, ioError("open", err)
	}
	if err := flock(sm, options.Timeout); err != nil {
		return nil, err
	}

	pageSize, err := sm.loadPageSize(options.PageSize)
	if err != nil {
		_ = funlock(sm)
		return nil, err
	}
	sm.pageSize = pageSize

	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	sm.buffer = NewPageBuffer(path, pageSize, bufferSize, sm.log)
	sm.opened = true
	sm.log.WithFields(log.Fields{"pageSize": pageSize, "bufferSize": bufferSize}).Debug("opened database")
	return sm, nil
}

func (sm *StorageManager) lockPath() string { return filepath.Join(sm.root, lockFileName) }
func (sm *StorageManager) metaPath() string { return filepath.Join(sm.root, metaFileName) }

// loadPageSize reads the marker, writing it with the requested size on first use.
func (sm *StorageManager) loadPageSize(requested int) (int, error) {
	buf, err := os.ReadFile(sm.metaPath())
	if os.IsNotExist(err) {
		if requested <= 0 {
			requested = DefaultPageSize
		}
		m := metaHeader{magic: Magic, version: Version, pageSize: uint32(requested)}
		if err := m.validate(); err != nil {
			return 0, errors.Wrap(err, "requested page size")
		}
		if err := os.WriteFile(sm.metaPath(), m.marshal(), 0644); err != nil {
			return 0, ioError("write meta", err)
		}
		return requested, nil
	}
	if err != nil {
		return 0, ioError("read meta", err)
	}

	var m metaHeader
	if err := m.unmarshal(buf); err != nil {
		return 0, err
	}
	if requested > 0 && requested != int(m.pageSize) {
		sm.log.WithFields(log.Fields{"requested": requested, "stored": m.pageSize}).
			Warn("page size differs from stored marker, using stored value")
	}
	return int(m.pageSize), nil
}

func (sm *StorageManager) PageSize() int   { return sm.pageSize }
func (sm *StorageManager) BufferSize() int { return sm.buffer.Capacity() }
func (sm *StorageManager) Root() string    { return sm.root }

// Buffer exposes the shared page buffer.
func (sm *StorageManager) Buffer() *PageBuffer { return sm.buffer }

// Flush writes every cached page back to disk.
func (sm *StorageManager) Flush() error {
	return sm.buffer.Flush()
}

// Close flushes the buffer and releases the root lock.
func (sm *StorageManager) Close() error {
	if !sm.opened {
		return nil
	}
	sm.opened = false

	err := sm.buffer.Flush()
	if uerr := funlock(sm); uerr != nil {
		sm.log.Printf("funlock error: %s", uerr)
	}
	if err != nil {
		return errors.Wrap(err, "close")
	}
	return nil
}
