package pagedb

import (
	"bytes"
	"testing"

	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore(t *testing.T) {
	for _, algo := range []CompressAlgorithm{CompSnappy, CompNone, CompLz4} {
		t.Run(algo.String(), func(t *testing.T) {
			assert := assertion.New(t)
			sm := openTest(t, 100, 2)
			for i := int32(1); i <= 15; i++ {
				_, err := sm.InsertRecord(testTable, testAttrs, tenChars(i))
				require.NoError(t, err)
			}
			want, err := sm.GetAllRecords(testTable, testAttrs)
			require.NoError(t, err)

			var snap bytes.Buffer
			require.NoError(t, sm.Snapshot(testTable, &snap, algo))

			require.NoError(t, sm.DropTable(testTable))
			assert.NoError(sm.Restore(testTable, bytes.NewReader(snap.Bytes())))

			got, err := sm.GetAllRecords(testTable, testAttrs)
			assert.NoError(err)
			assert.Equal(want, got)

			rec, _, ok, err := sm.Lookup(testTable, testAttrs, Int(12))
			assert.NoError(err)
			assert.True(ok)
			assert.Equal(tenChars(12), rec)
		})
	}
}

func TestRestoreDiscardsNewerWrites(t *testing.T) {
	sm := openTest(t, 100, 2)
	_, err := sm.InsertRecord(testTable, testAttrs, row(1, "a"))
	require.NoError(t, err)

	var snap bytes.Buffer
	require.NoError(t, sm.SnapshotDefault(testTable, &snap))
	_, err = sm.InsertRecord(testTable, testAttrs, row(2, "b"))
	require.NoError(t, err)

	require.NoError(t, sm.Restore(testTable, &snap))
	records, err := sm.GetAllRecords(testTable, testAttrs)
	assertion.NoError(t, err)
	assertion.Equal(t, []Record{row(1, "a")}, records)
}

func TestRestoreRejectsBadSnapshot(t *testing.T) {
	assert := assertion.New(t)
	sm := openTest(t, 100, 2)
	_, err := sm.InsertRecord(testTable, testAttrs, row(1, "a"))
	require.NoError(t, err)

	var snap bytes.Buffer
	require.NoError(t, sm.Snapshot(testTable, &snap, CompNone))
	good := snap.Bytes()

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xff
	assert.ErrorIs(sm.Restore(testTable, bytes.NewReader(corrupt)), ErrBadSnapshot)

	assert.ErrorIs(sm.Restore(testTable, bytes.NewReader(good[:10])), ErrBadSnapshot)

	other := openTest(t, 64, 2)
	assert.ErrorIs(other.Restore(testTable, bytes.NewReader(good)), ErrBadSnapshot)

	// the table is untouched by failed restores
	records, err := sm.GetAllRecords(testTable, testAttrs)
	assert.NoError(err)
	assert.Equal([]Record{row(1, "a")}, records)
}

func TestSnapshotUnknownAlgorithm(t *testing.T) {
	sm := openTest(t, 100, 2)
	var snap bytes.Buffer
	assertion.Error(t, sm.Snapshot(testTable, &snap, CompressAlgorithm(9)))
	assertion.Zero(t, snap.Len())
}

func TestParseCompression(t *testing.T) {
	for _, algo := range []CompressAlgorithm{CompSnappy, CompNone, CompLz4} {
		got, err := ParseCompression(algo.String())
		assertion.NoError(t, err)
		assertion.Equal(t, algo, got)
	}
	_, err := ParseCompression("zstd")
	assertion.Error(t, err)
}
