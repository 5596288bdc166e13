package pagedb

import (
	"container/list"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type BufferStats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}

// PageBuffer is a bounded most-recently-used cache of pages shared by every
// table and index file under one root. The front of the list is the most
// recently touched page; a full buffer evicts from the back, writing the
// evicted page to disk before returning.
//
// PageBuffer is not safe for concurrent use.
type PageBuffer struct {
	root     string
	pageSize int
	capacity int

	pages *list.List // of CachedPage
	index map[PageKey]*list.Element
	stats BufferStats
	log   *log.Entry
}

func NewPageBuffer(root string, pageSize, capacity int, logger *log.Entry) *PageBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &PageBuffer{
		root:     root,
		pageSize: pageSize,
		capacity: capacity,
		pages:    list.New(),
		index:    make(map[PageKey]*list.Element),
		log:      logger,
	}
}

func (b *PageBuffer) Len() int           { return b.pages.Len() }
func (b *PageBuffer) Capacity() int      { return b.capacity }
func (b *PageBuffer) Stats() BufferStats { return b.stats }

func (b *PageBuffer) Contains(key PageKey) bool {
	_, ok := b.index[key]
	return ok
}

// Keys lists the cached pages, most recently used first.
func (b *PageBuffer) Keys() []PageKey {
	keys := make([]PageKey, 0, b.pages.Len())
	for e := b.pages.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(CachedPage).Key())
	}
	return keys
}

func (b *PageBuffer) file(key PageKey) *dbFile {
	if key.Kind == IndexFile {
		return newIndexFile(b.root, key.TableID, b.pageSize)
	}
	return newTableFile(b.root, key.TableID, b.pageSize)
}

// ReadTablePage returns page pageNum of a table. With popOnly the page is
// removed from the buffer and the caller owns it until it is written back.
func (b *PageBuffer) ReadTablePage(tableID, pageNum int, attrs []Attribute, popOnly bool) (*Page, error) {
	key := PageKey{Kind: TableFile, TableID: tableID, PageNum: pageNum}
	cp, err := b.read(key, popOnly, func(data []byte) (CachedPage, error) {
		records, err := DecodeRecords(data, attrs)
		if err != nil {
			return nil, errors.Wrapf(err, "table %d page %d", tableID, pageNum)
		}
		p := NewPage(tableID, pageNum, b.pageSize, attrs)
		p.records = records
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, ok := cp.(*Page)
	if !ok {
		return nil, errors.Errorf("buffer entry %+v is not a table page", key)
	}
	return p, nil
}

// ReadIndexNode is ReadTablePage for B+Tree nodes.
func (b *PageBuffer) ReadIndexNode(tableID, pageNum int, keyAttr Attribute, popOnly bool) (*Node, error) {
	key := PageKey{Kind: IndexFile, TableID: tableID, PageNum: pageNum}
	cp, err := b.read(key, popOnly, func(data []byte) (CachedPage, error) {
		n, err := unmarshalNode(data, keyAttr)
		if err != nil {
			return nil, errors.Wrapf(err, "index %d node %d", tableID, pageNum)
		}
		n.Num, n.TableID, n.size = pageNum, tableID, b.pageSize
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	n, ok := cp.(*Node)
	if !ok {
		return nil, errors.Errorf("buffer entry %+v is not an index node", key)
	}
	return n, nil
}

func (b *PageBuffer) read(key PageKey, popOnly bool, load func([]byte) (CachedPage, error)) (CachedPage, error) {
	if e, ok := b.index[key]; ok {
		b.stats.Hits++
		page := e.Value.(CachedPage)
		if popOnly {
			b.pages.Remove(e)
			delete(b.index, key)
		} else {
			b.pages.MoveToFront(e)
		}
		return page, nil
	}

	b.stats.Misses++
	data, err := b.file(key).readPage(key.PageNum)
	if err != nil {
		return nil, err
	}
	page, err := load(data)
	if err != nil {
		return nil, err
	}
	if popOnly {
		return page, nil
	}
	if err := b.push(page); err != nil {
		return nil, err
	}
	return page, nil
}

// Write puts page at the front of the buffer, replacing any cached copy.
func (b *PageBuffer) Write(page CachedPage) error {
	key := page.Key()
	if e, ok := b.index[key]; ok {
		e.Value = page
		b.pages.MoveToFront(e)
		return nil
	}
	return b.push(page)
}

func (b *PageBuffer) push(page CachedPage) error {
	for b.pages.Len() >= b.capacity {
		if err := b.evict(); err != nil {
			return err
		}
	}
	b.index[page.Key()] = b.pages.PushFront(page)
	return nil
}

func (b *PageBuffer) evict() error {
	back := b.pages.Back()
	if back == nil {
		return nil
	}
	page := back.Value.(CachedPage)
	if err := b.writeBack(page); err != nil {
		return err
	}
	b.pages.Remove(back)
	delete(b.index, page.Key())
	b.stats.Evictions++
	b.log.WithField("page", page.Key()).Debug("evicted page")
	return nil
}

func (b *PageBuffer) writeBack(page CachedPage) error {
	data, err := page.Marshal()
	if err != nil {
		return errors.Wrapf(err, "marshal %+v", page.Key())
	}
	key := page.Key()
	if err := b.file(key).writePage(key.PageNum, data); err != nil {
		return err
	}
	b.stats.WriteBacks++
	return nil
}

// Flush writes back and drops every cached page, least recently used first.
func (b *PageBuffer) Flush() error {
	for b.pages.Len() > 0 {
		if err := b.evict(); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops a cached page without writing it back.
func (b *PageBuffer) Discard(key PageKey) bool {
	e, ok := b.index[key]
	if !ok {
		return false
	}
	b.pages.Remove(e)
	delete(b.index, key)
	return true
}

// DiscardFile drops every cached page of one file without writing it back.
func (b *PageBuffer) DiscardFile(kind FileKind, tableID int) int {
	n := 0
	for e := b.pages.Front(); e != nil; {
		next := e.Next()
		key := e.Value.(CachedPage).Key()
		if key.Kind == kind && key.TableID == tableID {
			b.pages.Remove(e)
			delete(b.index, key)
			n++
		}
		e = next
	}
	return n
}
