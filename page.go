package pagedb

import (
	"github.com/pkg/errors"
)

var (
	// DefaultPageSize is the page size of a newly created database root.
	DefaultPageSize = 4096
	// DefaultBufferSize is the number of pages the buffer holds.
	DefaultBufferSize = 64
)

type FileKind uint8

const (
	TableFile FileKind = iota
	IndexFile
)

// PageKey identifies a cached page.
type PageKey struct {
	Kind    FileKind
	TableID int
	PageNum int
}

// CachedPage is anything the page buffer can hold and write back.
type CachedPage interface {
	Key() PageKey
	// Marshal returns at most pageSize bytes to store in the page's slot.
	Marshal() ([]byte, error)
}

// Page is the decoded view of one table page.
type Page struct {
	Num     int
	TableID int

	size    int
	attrs   []Attribute
	records []Record
}

var _ CachedPage = (*Page)(nil)

func NewPage(tableID, num, pageSize int, attrs []Attribute) *Page {
	return &Page{Num: num, TableID: tableID, size: pageSize, attrs: attrs}
}

func (p *Page) Key() PageKey {
	return PageKey{Kind: TableFile, TableID: p.TableID, PageNum: p.Num}
}

func (p *Page) Marshal() ([]byte, error) {
	return EncodeRecords(p.records, p.attrs)
}

func (p *Page) Records() []Record { return p.records }
func (p *Page) Len() int          { return len(p.records) }
func (p *Page) IsEmpty() bool     { return len(p.records) == 0 }

// IsOverfull reports whether the encoded page exceeds the page size.
func (p *Page) IsOverfull() (bool, error) {
	n, err := EncodedSize(p.records, p.attrs)
	if err != nil {
		return false, err
	}
	return n > p.size, nil
}

// InsertRecord places rec before the first record with a greater primary key.
// It returns nil when rec sorts after every record on the page; the caller
// then decides whether to append here or try the next page.
func (p *Page) InsertRecord(pkIndex int, rec Record) (*RecordPointer, error) {
	key := rec[pkIndex]
	for i, r := range p.records {
		c := Compare(r[pkIndex], key)
		if c == 0 {
			return nil, &Error{Kind: KindDuplicateKey, Op: "insert",
				Err: errors.Errorf("primary key %v already exists", key)}
		}
		if c > 0 {
			p.records = append(p.records, nil)
			copy(p.records[i+1:], p.records[i:])
			p.records[i] = rec
			return &RecordPointer{Page: p.Num, Index: i}, nil
		}
	}
	return nil, nil
}

// AppendRecord adds rec at the end of the page. Only valid on the last page.
func (p *Page) AppendRecord(rec Record) RecordPointer {
	p.records = append(p.records, rec)
	return RecordPointer{Page: p.Num, Index: len(p.records) - 1}
}

// DeleteRecord removes the first record whose primary key equals key.
func (p *Page) DeleteRecord(pkIndex int, key Value) bool {
	for i, r := range p.records {
		if Compare(r[pkIndex], key) == 0 {
			p.records = append(p.records[:i], p.records[i+1:]...)
			return true
		}
	}
	return false
}

// Split cuts the page at its midpoint by position. The lower half stays in p,
// the upper half is returned as page p.Num+1.
func (p *Page) Split() *Page {
	mid := len(p.records) / 2
	upper := NewPage(p.TableID, p.Num+1, p.size, p.attrs)
	upper.records = append(upper.records, p.records[mid:]...)
	p.records = append([]Record(nil), p.records[:mid]...)
	return upper
}

// find returns the index of the record with the given primary key, or -1.
func (p *Page) find(pkIndex int, key Value) int {
	for i, r := range p.records {
		if Compare(r[pkIndex], key) == 0 {
			return i
		}
	}
	return -1
}
