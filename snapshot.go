package pagedb

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// SnapshotMagic = "PGSN" in bigEndian
	SnapshotMagic      uint32 = 0x5047534e
	snapshotHeaderSize        = 20
)

var ErrBadSnapshot = errors.New("invalid snapshot")

// snapshotHeader precedes the compressed table file image:
// [u32 magic][u16 version][u16 algorithm][u32 page size][u32 raw length][u32 crc32 of raw].
type snapshotHeader struct {
	algorithm CompressAlgorithm
	pageSize  uint32
	rawLen    uint32
	checksum  uint32
}

func (h snapshotHeader) marshal() []byte {
	buf := make([]byte, snapshotHeaderSize)
	binary.BigEndian.PutUint32(buf[0:], SnapshotMagic)
	binary.BigEndian.PutUint16(buf[4:], Version)
	binary.BigEndian.PutUint16(buf[6:], uint16(h.algorithm))
	binary.BigEndian.PutUint32(buf[8:], h.pageSize)
	binary.BigEndian.PutUint32(buf[12:], h.rawLen)
	binary.BigEndian.PutUint32(buf[16:], h.checksum)
	return buf
}

func (h *snapshotHeader) unmarshal(buf []byte) error {
	if len(buf) < snapshotHeaderSize {
		return errors.Wrap(ErrBadSnapshot, "short header")
	}
	if binary.BigEndian.Uint32(buf[0:]) != SnapshotMagic {
		return errors.Wrap(ErrBadSnapshot, "invalid magic")
	}
	if v := binary.BigEndian.Uint16(buf[4:]); v != Version {
		return errors.Wrapf(ErrBadSnapshot, "unsupported version %d", v)
	}
	h.algorithm = CompressAlgorithm(binary.BigEndian.Uint16(buf[6:]))
	h.pageSize = binary.BigEndian.Uint32(buf[8:])
	h.rawLen = binary.BigEndian.Uint32(buf[12:])
	h.checksum = binary.BigEndian.Uint32(buf[16:])
	return nil
}

// Snapshot writes a compressed copy of a table file to w.
func (sm *StorageManager) Snapshot(tableID int, w io.Writer, algorithm CompressAlgorithm) error {
	compress, _, err := codecFor(algorithm)
	if err != nil {
		return err
	}
	if err := sm.buffer.Flush(); err != nil {
		return err
	}
	f, err := sm.tableFile(tableID)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return ioError("snapshot", err)
	}
	payload, err := compress(raw)
	if err != nil {
		return errors.Wrapf(err, "compress table %d", tableID)
	}
	h := snapshotHeader{
		algorithm: algorithm,
		pageSize:  uint32(sm.pageSize),
		rawLen:    uint32(len(raw)),
		checksum:  crc32.ChecksumIEEE(raw),
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return ioError("snapshot", err)
	}
	if _, err := w.Write(payload); err != nil {
		return ioError("snapshot", err)
	}
	sm.tableLog(tableID).WithFields(log.Fields{
		"compression": algorithm.String(),
		"raw":         len(raw),
		"compressed":  len(payload),
	}).Debug("wrote snapshot")
	return nil
}

// SnapshotDefault is Snapshot with the algorithm chosen in Options.
func (sm *StorageManager) SnapshotDefault(tableID int, w io.Writer) error {
	return sm.Snapshot(tableID, w, sm.compression)
}

// Restore replaces a table file with the image read from r. The image is
// written to the shadow file first and promoted the same way as a split.
func (sm *StorageManager) Restore(tableID int, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return ioError("restore", err)
	}
	var h snapshotHeader
	if err := h.unmarshal(data); err != nil {
		return err
	}
	if int(h.pageSize) != sm.pageSize {
		return errors.Wrapf(ErrBadSnapshot, "page size %d, database uses %d", h.pageSize, sm.pageSize)
	}
	_, decompress, err := codecFor(h.algorithm)
	if err != nil {
		return errors.Wrap(ErrBadSnapshot, err.Error())
	}
	raw, err := decompress(data[snapshotHeaderSize:])
	if err != nil {
		return errors.Wrapf(ErrBadSnapshot, "decompress: %v", err)
	}
	if len(raw) != int(h.rawLen) || crc32.ChecksumIEEE(raw) != h.checksum {
		return errors.Wrap(ErrBadSnapshot, "checksum mismatch")
	}
	if len(raw) < tableHeaderSize {
		return errors.Wrap(ErrBadSnapshot, "missing table header")
	}
	count := int(binary.BigEndian.Uint32(raw))
	if len(raw) != tableHeaderSize+count*sm.pageSize {
		return errors.Wrapf(ErrBadSnapshot, "%d pages do not match %d bytes", count, len(raw))
	}

	if err := sm.buffer.Flush(); err != nil {
		return err
	}
	f := newTableFile(sm.root, tableID, sm.pageSize)
	shadow := f.shadow()
	if err := os.WriteFile(shadow.path, raw, 0644); err != nil {
		return ioError("restore", err)
	}
	if err := f.replace(shadow); err != nil {
		return err
	}
	sm.staleIndex[tableID] = true
	sm.tableLog(tableID).WithField("pages", count).Debug("restored snapshot")
	return nil
}
