package pagedb

import (
	"io"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var testAttrs = []Attribute{
	{Name: "id", Type: TypeInteger, PrimaryKey: true, Unique: true},
	{Name: "name", Type: TypeVarchar, MaxLength: 10},
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func openTest(t *testing.T, pageSize, bufferSize int) *StorageManager {
	t.Helper()
	return openAt(t, t.TempDir(), pageSize, bufferSize)
}

func openAt(t *testing.T, root string, pageSize, bufferSize int) *StorageManager {
	t.Helper()
	sm, err := Open(root, &Options{PageSize: pageSize, BufferSize: bufferSize, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })
	return sm
}

func row(id int32, name string) Record {
	return Record{Int(id), Varchar(name)}
}

// tenChars makes every row of testAttrs encode to 16 bytes.
func tenChars(id int32) Record {
	return row(id, strings.Repeat("x", 10))
}

func ids(records []Record) []int32 {
	out := make([]int32, len(records))
	for i, r := range records {
		out[i] = r[0].Int()
	}
	return out
}
