package pagedb

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

const (
	tableHeaderSize = 4
	indexHeaderSize = 8

	tableExt = ".tbl"
	indexExt = ".idx"
	swapExt  = ".swap"
)

// dbFile is a file of fixed size page slots behind a small header. The first
// header word is always the page count; index files add the root page number.
type dbFile struct {
	path       string
	pageSize   int
	headerSize int
}

func tablePath(root string, tableID int) string {
	return filepath.Join(root, strconv.Itoa(tableID)+tableExt)
}

func indexPath(root string, tableID int) string {
	return filepath.Join(root, strconv.Itoa(tableID)+indexExt)
}

func newTableFile(root string, tableID, pageSize int) *dbFile {
	return &dbFile{path: tablePath(root, tableID), pageSize: pageSize, headerSize: tableHeaderSize}
}

func newIndexFile(root string, tableID, pageSize int) *dbFile {
	return &dbFile{path: indexPath(root, tableID), pageSize: pageSize, headerSize: indexHeaderSize}
}

// shadow returns a file with the same layout at the swap path.
func (f *dbFile) shadow() *dbFile {
	return &dbFile{path: f.path + swapExt, pageSize: f.pageSize, headerSize: f.headerSize}
}

func (f *dbFile) offset(pageNum int) int64 {
	return int64(f.headerSize) + int64(pageNum)*int64(f.pageSize)
}

func (f *dbFile) exists() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ioError("stat", err)
}

// create writes an empty header, truncating any existing file.
func (f *dbFile) create() error {
	if err := os.WriteFile(f.path, make([]byte, f.headerSize), 0644); err != nil {
		return ioError("create", err)
	}
	return nil
}

// ensure creates the file if it does not exist yet.
func (f *dbFile) ensure() error {
	ok, err := f.exists()
	if err != nil || ok {
		return err
	}
	return f.create()
}

func (f *dbFile) with(flag int, fn func(fd *os.File) error) error {
	fd, err := os.OpenFile(f.path, flag, 0644)
	if err != nil {
		return ioError("open", err)
	}
	if err := fn(fd); err != nil {
		_ = fd.Close()
		return err
	}
	if err := fd.Close(); err != nil {
		return ioError("close", errors.Wrap(err, f.path))
	}
	return nil
}

func (f *dbFile) readHeaderWord(off int64) (uint32, error) {
	var word [4]byte
	err := f.with(os.O_RDONLY, func(fd *os.File) error {
		if _, err := fd.ReadAt(word[:], off); err != nil {
			return ioError("read header", errors.Wrap(err, f.path))
		}
		return nil
	})
	return binary.BigEndian.Uint32(word[:]), err
}

func (f *dbFile) writeHeaderWord(off int64, v uint32) error {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], v)
	return f.with(os.O_WRONLY, func(fd *os.File) error {
		if _, err := fd.WriteAt(word[:], off); err != nil {
			return ioError("write header", errors.Wrap(err, f.path))
		}
		return nil
	})
}

func (f *dbFile) pageCount() (int, error) {
	n, err := f.readHeaderWord(0)
	return int(n), err
}

func (f *dbFile) setPageCount(n int) error {
	return f.writeHeaderWord(0, uint32(n))
}

func (f *dbFile) rootPage() (int, error) {
	n, err := f.readHeaderWord(4)
	return int(n), err
}

func (f *dbFile) setRootPage(n int) error {
	return f.writeHeaderWord(4, uint32(n))
}

// readPage returns the raw slot. A slot past the end of the file reads as zeros.
func (f *dbFile) readPage(pageNum int) ([]byte, error) {
	buf := make([]byte, f.pageSize)
	err := f.with(os.O_RDONLY, func(fd *os.File) error {
		n, err := fd.ReadAt(buf, f.offset(pageNum))
		if err != nil && err != io.EOF {
			return ioError("read page", errors.Wrapf(err, "%s page %d", f.path, pageNum))
		}
		if n == 0 {
			return ioError("read page", errors.Errorf("%s page %d is past end of file", f.path, pageNum))
		}
		return nil
	})
	return buf, err
}

// writePage stores data padded to a full slot.
func (f *dbFile) writePage(pageNum int, data []byte) error {
	if len(data) > f.pageSize {
		return errors.Wrapf(ErrRecordTooLarge, "%s page %d: %d bytes > page size %d", f.path, pageNum, len(data), f.pageSize)
	}
	slot := make([]byte, f.pageSize)
	copy(slot, data)
	return f.with(os.O_WRONLY, func(fd *os.File) error {
		if _, err := fd.WriteAt(slot, f.offset(pageNum)); err != nil {
			return ioError("write page", errors.Wrapf(err, "%s page %d", f.path, pageNum))
		}
		return nil
	})
}

// truncate cuts the file down to n page slots and records n in the header.
func (f *dbFile) truncate(n int) error {
	if err := os.Truncate(f.path, f.offset(n)); err != nil {
		return ioError("truncate", err)
	}
	return f.setPageCount(n)
}

func (f *dbFile) remove() error {
	if err := os.Remove(f.path); err != nil {
		return ioError("remove", err)
	}
	return nil
}

// replace promotes shadow over f: delete the original, rename the shadow into place.
func (f *dbFile) replace(shadow *dbFile) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return ioError("replace", err)
	}
	if err := os.Rename(shadow.path, f.path); err != nil {
		return ioError("replace", err)
	}
	return nil
}
