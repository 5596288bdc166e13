package pagedb

import (
	"github.com/pkg/errors"
)

type indexEntry struct {
	key Value
	ptr RecordPointer
}

// Index returns the primary key index of a table, rebuilding it first when the
// table changed since it was last built.
func (sm *StorageManager) Index(tableID int, attrs []Attribute) (*BTree, error) {
	if bt, ok := sm.indexes[tableID]; ok && !sm.staleIndex[tableID] {
		return bt, nil
	}
	return sm.RebuildIndex(tableID, attrs)
}

// RebuildIndex recreates the index file of a table from a full scan.
func (sm *StorageManager) RebuildIndex(tableID int, attrs []Attribute) (*BTree, error) {
	pk, err := PrimaryKeyIndex(attrs)
	if err != nil {
		return nil, execError("index", err)
	}
	sm.buffer.DiscardFile(IndexFile, tableID)
	bt, err := CreateBTree(sm.buffer, sm.root, tableID, attrs[pk])
	if err != nil {
		return nil, err
	}
	bt.StrictMode = sm.StrictMode

	// collect first so index writes cannot evict the page being scanned
	var entries []indexEntry
	err = sm.scan(tableID, attrs, func(p *Page) error {
		for i, rec := range p.records {
			entries = append(entries, indexEntry{rec[pk], RecordPointer{Page: p.Num, Index: i}})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := bt.Insert(e.key, e.ptr); err != nil {
			return nil, errors.Wrapf(err, "index table %d", tableID)
		}
	}

	sm.indexes[tableID] = bt
	delete(sm.staleIndex, tableID)
	sm.tableLog(tableID).WithField("keys", len(entries)).Debug("rebuilt index")
	return bt, nil
}

// Lookup finds a record by primary key through the table's index.
func (sm *StorageManager) Lookup(tableID int, attrs []Attribute, key Value) (Record, RecordPointer, bool, error) {
	bt, err := sm.Index(tableID, attrs)
	if err != nil {
		return nil, RecordPointer{}, false, err
	}
	ptr, ok, err := bt.Search(key)
	if err != nil || !ok {
		return nil, RecordPointer{}, false, err
	}
	p, err := sm.buffer.ReadTablePage(tableID, ptr.Page, attrs, false)
	if err != nil {
		return nil, RecordPointer{}, false, err
	}
	if ptr.Index >= p.Len() {
		return nil, RecordPointer{}, false, corruptError("lookup", "pointer %+v past end of page", ptr)
	}
	return p.records[ptr.Index], ptr, true, nil
}
