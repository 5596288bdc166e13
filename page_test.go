package pagedb

import (
	"math/rand"
	"sort"
	"testing"

	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageInsertOrder(t *testing.T) {
	assert := assertion.New(t)
	p := NewPage(1, 0, 4096, testAttrs)
	p.AppendRecord(row(10, "a"))
	p.AppendRecord(row(30, "c"))

	ptr, err := p.InsertRecord(0, row(20, "b"))
	assert.NoError(err)
	assert.Equal(&RecordPointer{Page: 0, Index: 1}, ptr)

	ptr, err = p.InsertRecord(0, row(5, "z"))
	assert.NoError(err)
	assert.Equal(&RecordPointer{Page: 0, Index: 0}, ptr)

	// after every record: the caller has to append
	ptr, err = p.InsertRecord(0, row(40, "d"))
	assert.NoError(err)
	assert.Nil(ptr)
	assert.Equal([]int32{5, 10, 20, 30}, ids(p.Records()))

	_, err = p.InsertRecord(0, row(20, "dup"))
	assert.ErrorIs(err, ErrDuplicateKey)
	assert.ErrorIs(err, ErrExecutionFailure)
	assert.Equal(4, p.Len())
}

func TestPageInsertRandom(t *testing.T) {
	p := NewPage(1, 0, 1<<20, testAttrs)
	rnd := rand.New(rand.NewSource(7))
	var want []int32
	for _, k := range rnd.Perm(200) {
		rec := row(int32(k), "v")
		ptr, err := p.InsertRecord(0, rec)
		require.NoError(t, err)
		if ptr == nil {
			p.AppendRecord(rec)
		}
		want = append(want, int32(k))
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	assertion.Equal(t, want, ids(p.Records()))
}

func TestPageDelete(t *testing.T) {
	assert := assertion.New(t)
	p := NewPage(1, 0, 4096, testAttrs)
	for i := int32(1); i <= 3; i++ {
		p.AppendRecord(row(i, "x"))
	}
	assert.True(p.DeleteRecord(0, Int(2)))
	assert.False(p.DeleteRecord(0, Int(2)))
	assert.Equal([]int32{1, 3}, ids(p.Records()))
	assert.True(p.DeleteRecord(0, Int(1)))
	assert.True(p.DeleteRecord(0, Int(3)))
	assert.True(p.IsEmpty())
}

func TestPageSplit(t *testing.T) {
	assert := assertion.New(t)
	p := NewPage(4, 2, 100, testAttrs)
	for i := int32(1); i <= 7; i++ {
		p.AppendRecord(tenChars(i))
	}
	over, err := p.IsOverfull()
	assert.NoError(err)
	assert.True(over)

	upper := p.Split()
	assert.Equal([]int32{1, 2, 3}, ids(p.Records()))
	assert.Equal([]int32{4, 5, 6, 7}, ids(upper.Records()))
	assert.Equal(3, upper.Num)
	assert.Equal(4, upper.TableID)

	for _, half := range []*Page{p, upper} {
		over, err := half.IsOverfull()
		assert.NoError(err)
		assert.False(over)
	}
}

func TestPageExactlyFull(t *testing.T) {
	p := NewPage(1, 0, 100, testAttrs)
	for i := int32(1); i <= 6; i++ {
		p.AppendRecord(tenChars(i))
	}
	data, err := p.Marshal()
	require.NoError(t, err)
	assertion.Len(t, data, 100)
	over, err := p.IsOverfull()
	assertion.NoError(t, err)
	assertion.False(t, over)
}
