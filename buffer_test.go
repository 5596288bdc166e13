package pagedb

import (
	"testing"

	log "github.com/sirupsen/logrus"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedTable writes n single-record pages, page i holding key i.
func seedTable(t *testing.T, root string, tableID, n int) {
	t.Helper()
	f := newTableFile(root, tableID, 100)
	require.NoError(t, f.create())
	for i := 0; i < n; i++ {
		p := NewPage(tableID, i, 100, testAttrs)
		p.AppendRecord(row(int32(i), "p"))
		data, err := p.Marshal()
		require.NoError(t, err)
		require.NoError(t, f.writePage(i, data))
	}
	require.NoError(t, f.setPageCount(n))
}

func newTestBuffer(t *testing.T, capacity int) (*PageBuffer, string) {
	root := t.TempDir()
	seedTable(t, root, 1, 5)
	return NewPageBuffer(root, 100, capacity, log.NewEntry(quietLogger())), root
}

func tableKey(n int) PageKey {
	return PageKey{Kind: TableFile, TableID: 1, PageNum: n}
}

func TestBufferMostRecentFirst(t *testing.T) {
	assert := assertion.New(t)
	b, _ := newTestBuffer(t, 3)

	for _, n := range []int{0, 1, 2} {
		p, err := b.ReadTablePage(1, n, testAttrs, false)
		require.NoError(t, err)
		assert.Equal([]int32{int32(n)}, ids(p.Records()))
	}
	assert.Equal([]PageKey{tableKey(2), tableKey(1), tableKey(0)}, b.Keys())

	// a hit moves the page to the front
	_, err := b.ReadTablePage(1, 0, testAttrs, false)
	require.NoError(t, err)
	assert.Equal([]PageKey{tableKey(0), tableKey(2), tableKey(1)}, b.Keys())
	assert.Equal(BufferStats{Hits: 1, Misses: 3}, b.Stats())
}

func TestBufferEvictsLeastRecent(t *testing.T) {
	assert := assertion.New(t)
	b, _ := newTestBuffer(t, 2)

	for _, n := range []int{0, 1, 2} {
		_, err := b.ReadTablePage(1, n, testAttrs, false)
		require.NoError(t, err)
	}
	assert.Equal(2, b.Len())
	assert.False(b.Contains(tableKey(0)))
	assert.Equal([]PageKey{tableKey(2), tableKey(1)}, b.Keys())
	assert.Equal(uint64(1), b.Stats().Evictions)
}

func TestBufferWritesBackOnEviction(t *testing.T) {
	assert := assertion.New(t)
	b, root := newTestBuffer(t, 1)

	p, err := b.ReadTablePage(1, 0, testAttrs, false)
	require.NoError(t, err)
	p.AppendRecord(row(10, "new"))

	// reading another page evicts page 0 and persists the change
	_, err = b.ReadTablePage(1, 1, testAttrs, false)
	require.NoError(t, err)
	assert.False(b.Contains(tableKey(0)))

	data, err := newTableFile(root, 1, 100).readPage(0)
	require.NoError(t, err)
	records, err := DecodeRecords(data, testAttrs)
	require.NoError(t, err)
	assert.Equal([]int32{0, 10}, ids(records))
}

func TestBufferPopOnly(t *testing.T) {
	assert := assertion.New(t)
	b, _ := newTestBuffer(t, 3)

	p, err := b.ReadTablePage(1, 0, testAttrs, false)
	require.NoError(t, err)
	p.AppendRecord(row(10, "dirty"))

	popped, err := b.ReadTablePage(1, 0, testAttrs, true)
	require.NoError(t, err)
	assert.Same(p, popped)
	assert.Equal(0, b.Len())

	// a miss with popOnly never enters the buffer
	_, err = b.ReadTablePage(1, 3, testAttrs, true)
	require.NoError(t, err)
	assert.Equal(0, b.Len())
}

func TestBufferWrite(t *testing.T) {
	assert := assertion.New(t)
	b, _ := newTestBuffer(t, 2)

	_, err := b.ReadTablePage(1, 0, testAttrs, false)
	require.NoError(t, err)
	_, err = b.ReadTablePage(1, 1, testAttrs, false)
	require.NoError(t, err)

	fresh := NewPage(1, 0, 100, testAttrs)
	fresh.AppendRecord(row(42, "fresh"))
	assert.NoError(b.Write(fresh))
	assert.Equal(2, b.Len())
	assert.Equal([]PageKey{tableKey(0), tableKey(1)}, b.Keys())

	got, err := b.ReadTablePage(1, 0, testAttrs, false)
	require.NoError(t, err)
	assert.Same(fresh, got)
}

func TestBufferFlushAndDiscard(t *testing.T) {
	assert := assertion.New(t)
	b, root := newTestBuffer(t, 4)

	for _, n := range []int{0, 1, 2} {
		p, err := b.ReadTablePage(1, n, testAttrs, false)
		require.NoError(t, err)
		p.AppendRecord(row(int32(100+n), "x"))
	}
	assert.True(b.Discard(tableKey(1)))
	assert.False(b.Discard(tableKey(1)))

	assert.NoError(b.Flush())
	assert.Equal(0, b.Len())

	f := newTableFile(root, 1, 100)
	for n, want := range [][]int32{{0, 100}, {1}, {2, 102}} {
		data, err := f.readPage(n)
		require.NoError(t, err)
		records, err := DecodeRecords(data, testAttrs)
		require.NoError(t, err)
		assert.Equal(want, ids(records), "page %d", n)
	}
}

func TestBufferDiscardFile(t *testing.T) {
	assert := assertion.New(t)
	b, root := newTestBuffer(t, 8)
	seedTable(t, root, 2, 2)

	for _, n := range []int{0, 1} {
		_, err := b.ReadTablePage(1, n, testAttrs, false)
		require.NoError(t, err)
		_, err = b.ReadTablePage(2, n, testAttrs, false)
		require.NoError(t, err)
	}
	assert.Equal(2, b.DiscardFile(TableFile, 1))
	assert.Equal(0, b.DiscardFile(IndexFile, 2))
	assert.Equal([]PageKey{
		{Kind: TableFile, TableID: 2, PageNum: 1},
		{Kind: TableFile, TableID: 2, PageNum: 0},
	}, b.Keys())
}

func TestBufferReadPastEnd(t *testing.T) {
	b, _ := newTestBuffer(t, 2)
	_, err := b.ReadTablePage(1, 9, testAttrs, false)
	assertion.ErrorIs(t, err, ErrIO)
}
