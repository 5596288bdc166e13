package pagedb

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (sm *StorageManager) tableFile(tableID int) (*dbFile, error) {
	f := newTableFile(sm.root, tableID, sm.pageSize)
	return f, f.ensure()
}

func (sm *StorageManager) tableLog(tableID int) *log.Entry {
	return sm.log.WithField("table", tableID)
}

// PageCount returns the number of pages in the table file.
func (sm *StorageManager) PageCount(tableID int) (int, error) {
	f, err := sm.tableFile(tableID)
	if err != nil {
		return 0, err
	}
	return f.pageCount()
}

// InsertRecord stores rec in primary key order and returns where it landed.
func (sm *StorageManager) InsertRecord(tableID int, attrs []Attribute, rec Record) (RecordPointer, error) {
	pk, err := PrimaryKeyIndex(attrs)
	if err != nil {
		return RecordPointer{}, execError("insert", err)
	}
	if err := validateRecord(attrs, rec); err != nil {
		return RecordPointer{}, execError("insert", err)
	}
	if n, err := EncodedSize([]Record{rec}, attrs); err != nil {
		return RecordPointer{}, execError("insert", err)
	} else if n > sm.pageSize {
		return RecordPointer{}, execError("insert",
			errors.Wrapf(ErrRecordTooLarge, "%d bytes > page size %d", n, sm.pageSize))
	}

	f, err := sm.tableFile(tableID)
	if err != nil {
		return RecordPointer{}, err
	}
	count, err := f.pageCount()
	if err != nil {
		return RecordPointer{}, err
	}

	if count == 0 {
		p := NewPage(tableID, 0, sm.pageSize, attrs)
		ptr := p.AppendRecord(rec)
		data, err := p.Marshal()
		if err != nil {
			return RecordPointer{}, err
		}
		if err := f.writePage(0, data); err != nil {
			return RecordPointer{}, err
		}
		if err := f.setPageCount(1); err != nil {
			return RecordPointer{}, err
		}
		sm.staleIndex[tableID] = true
		return ptr, nil
	}

	for i := 0; i < count; i++ {
		p, err := sm.buffer.ReadTablePage(tableID, i, attrs, false)
		if err != nil {
			return RecordPointer{}, err
		}
		ptr, err := p.InsertRecord(pk, rec)
		if err != nil {
			return RecordPointer{}, err
		}
		if ptr != nil {
			return sm.settle(f, p, pk, rec[pk], *ptr)
		}
	}

	last, err := sm.buffer.ReadTablePage(tableID, count-1, attrs, false)
	if err != nil {
		return RecordPointer{}, err
	}
	ptr := last.AppendRecord(rec)
	return sm.settle(f, last, pk, rec[pk], ptr)
}

// settle splits p if the insert made it overfull and recomputes the pointer.
func (sm *StorageManager) settle(f *dbFile, p *Page, pk int, key Value, ptr RecordPointer) (RecordPointer, error) {
	sm.staleIndex[p.TableID] = true
	over, err := p.IsOverfull()
	if err != nil {
		return RecordPointer{}, err
	}
	if !over {
		return ptr, nil
	}

	parts, err := sm.splitPage(f, p)
	if err != nil {
		return RecordPointer{}, err
	}
	for _, part := range parts {
		if i := part.find(pk, key); i >= 0 {
			return RecordPointer{Page: part.Num, Index: i}, nil
		}
	}
	return RecordPointer{}, errors.Errorf("record %v lost during split", key)
}

// splitPage rewrites the whole table file into its shadow with target
// replaced by its split halves, then swaps the shadow into place.
func (sm *StorageManager) splitPage(f *dbFile, target *Page) ([]*Page, error) {
	count, err := f.pageCount()
	if err != nil {
		return nil, err
	}
	// the target is owned by this call from here on
	sm.buffer.Discard(target.Key())

	parts, err := splitToFit(target)
	if err != nil {
		return nil, err
	}

	shadow := f.shadow()
	if err := shadow.create(); err != nil {
		return nil, err
	}
	next := 0
	write := func(p *Page) error {
		p.Num = next
		next++
		data, err := p.Marshal()
		if err != nil {
			return err
		}
		return shadow.writePage(p.Num, data)
	}
	for i := 0; i < count; i++ {
		if i == target.Num {
			for _, part := range parts {
				if err := write(part); err != nil {
					return nil, err
				}
			}
			continue
		}
		p, err := sm.buffer.ReadTablePage(target.TableID, i, target.attrs, true)
		if err != nil {
			return nil, err
		}
		if err := write(p); err != nil {
			return nil, err
		}
	}
	if err := shadow.setPageCount(next); err != nil {
		return nil, err
	}
	if err := sm.buffer.Flush(); err != nil {
		return nil, err
	}
	if err := f.replace(shadow); err != nil {
		return nil, err
	}

	sm.tableLog(target.TableID).WithFields(log.Fields{
		"page":  parts[0].Num,
		"parts": len(parts),
		"pages": next,
	}).Debug("split page")
	return parts, nil
}

// splitToFit splits p by position until no part is overfull.
func splitToFit(p *Page) ([]*Page, error) {
	over, err := p.IsOverfull()
	if err != nil {
		return nil, err
	}
	if !over || p.Len() < 2 {
		return []*Page{p}, nil
	}
	upper := p.Split()
	lower, err := splitToFit(p)
	if err != nil {
		return nil, err
	}
	higher, err := splitToFit(upper)
	if err != nil {
		return nil, err
	}
	return append(lower, higher...), nil
}

// compact removes an empty page by copying every later page down one slot and
// truncating the file by one page.
func (sm *StorageManager) compact(f *dbFile, empty *Page) error {
	count, err := f.pageCount()
	if err != nil {
		return err
	}
	sm.buffer.Discard(empty.Key())
	for i := empty.Num + 1; i < count; i++ {
		p, err := sm.buffer.ReadTablePage(empty.TableID, i, empty.attrs, true)
		if err != nil {
			return err
		}
		p.Num = i - 1
		data, err := p.Marshal()
		if err != nil {
			return err
		}
		if err := f.writePage(p.Num, data); err != nil {
			return err
		}
	}
	if err := f.truncate(count - 1); err != nil {
		return err
	}
	sm.tableLog(empty.TableID).WithFields(log.Fields{"page": empty.Num, "pages": count - 1}).Debug("removed empty page")
	return nil
}

// SelectRecords returns every record matching pred, in page order. A nil
// pred matches everything.
func (sm *StorageManager) SelectRecords(tableID int, attrs []Attribute, pred Predicate) ([]Record, error) {
	var out []Record
	err := sm.scan(tableID, attrs, func(p *Page) error {
		for _, rec := range p.records {
			if pred != nil {
				ok, err := pred.Match(rec)
				if err != nil {
					return execError("select", err)
				}
				if !ok {
					continue
				}
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// GetAllRecords returns every record of the table.
func (sm *StorageManager) GetAllRecords(tableID int, attrs []Attribute) ([]Record, error) {
	return sm.SelectRecords(tableID, attrs, nil)
}

func (sm *StorageManager) scan(tableID int, attrs []Attribute, fn func(p *Page) error) error {
	f, err := sm.tableFile(tableID)
	if err != nil {
		return err
	}
	count, err := f.pageCount()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		p, err := sm.buffer.ReadTablePage(tableID, i, attrs, false)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecord removes the record with the given primary key. A page left
// empty is removed from the file.
func (sm *StorageManager) DeleteRecord(tableID int, key Value, attrs []Attribute) (bool, error) {
	pk, err := PrimaryKeyIndex(attrs)
	if err != nil {
		return false, execError("delete", err)
	}
	f, err := sm.tableFile(tableID)
	if err != nil {
		return false, err
	}
	count, err := f.pageCount()
	if err != nil {
		return false, err
	}
	for i := 0; i < count; i++ {
		p, err := sm.buffer.ReadTablePage(tableID, i, attrs, false)
		if err != nil {
			return false, err
		}
		if !p.DeleteRecord(pk, key) {
			continue
		}
		sm.staleIndex[tableID] = true
		if p.IsEmpty() {
			if err := sm.compact(f, p); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	return false, nil
}

// DropTable flushes the buffer and deletes the table file and its index.
func (sm *StorageManager) DropTable(tableID int) error {
	if err := sm.buffer.Flush(); err != nil {
		return err
	}
	delete(sm.indexes, tableID)
	delete(sm.staleIndex, tableID)

	idx := newIndexFile(sm.root, tableID, sm.pageSize)
	if ok, err := idx.exists(); err != nil {
		return err
	} else if ok {
		if err := idx.remove(); err != nil {
			return err
		}
	}
	if err := newTableFile(sm.root, tableID, sm.pageSize).remove(); err != nil {
		return err
	}
	sm.tableLog(tableID).Debug("dropped table")
	return nil
}
