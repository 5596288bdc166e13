package catalog

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb"
)

var users = []pagedb.Attribute{
	{Name: "id", Type: pagedb.TypeInteger, PrimaryKey: true, Unique: true},
	{Name: "name", Type: pagedb.TypeVarchar, MaxLength: 20},
	{Name: "code", Type: pagedb.TypeChar, MaxLength: 4, Nullable: true},
	{Name: "score", Type: pagedb.TypeDouble, Nullable: true},
	{Name: "active", Type: pagedb.TypeBoolean},
}

func openSM(t *testing.T, root string) *pagedb.StorageManager {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	sm, err := pagedb.Open(root, &pagedb.Options{PageSize: 1024, BufferSize: 4, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })
	return sm
}

func TestCreateTable(t *testing.T) {
	assert := assertion.New(t)
	c, err := Open(openSM(t, t.TempDir()))
	require.NoError(t, err)
	assert.Empty(c.Tables())

	id, err := c.CreateTable("users", users)
	require.NoError(t, err)
	assert.Equal(1, id)

	got, err := c.TableID("users")
	assert.NoError(err)
	assert.Equal(id, got)
	attrs, err := c.Attributes(id)
	assert.NoError(err)
	assert.Equal(users, attrs)

	_, err = c.CreateTable("users", users)
	assert.ErrorIs(err, ErrTableExists)

	id2, err := c.CreateTable("orders", users[:2])
	assert.NoError(err)
	assert.Equal(2, id2)
	assert.Equal([]string{"orders", "users"}, c.Tables())
}

func TestCatalogPersists(t *testing.T) {
	assert := assertion.New(t)
	root := t.TempDir()
	sm := openSM(t, root)
	c, err := Open(sm)
	require.NoError(t, err)
	_, err = c.CreateTable("a", users)
	require.NoError(t, err)
	_, err = c.CreateTable("b", users[:1])
	require.NoError(t, err)
	require.NoError(t, c.DropTable("a"))
	require.NoError(t, sm.Close())

	c, err = Open(openSM(t, root))
	require.NoError(t, err)
	assert.Equal([]string{"b"}, c.Tables())
	attrs, err := c.Attributes(2)
	assert.NoError(err)
	assert.Equal(users[:1], attrs)

	// ids are never reused
	id, err := c.CreateTable("c", users)
	assert.NoError(err)
	assert.Equal(3, id)
}

func TestDropTable(t *testing.T) {
	assert := assertion.New(t)
	sm := openSM(t, t.TempDir())
	c, err := Open(sm)
	require.NoError(t, err)
	id, err := c.CreateTable("users", users)
	require.NoError(t, err)
	_, err = sm.InsertRecord(id, users, pagedb.Record{
		pagedb.Int(1), pagedb.Varchar("ann"), pagedb.Null(pagedb.TypeChar), pagedb.Double(1.5), pagedb.Bool(true),
	})
	require.NoError(t, err)

	assert.NoError(c.DropTable("users"))
	_, err = c.TableID("users")
	assert.ErrorIs(err, ErrNoSuchTable)
	_, err = c.Attributes(id)
	assert.ErrorIs(err, ErrNoSuchTable)
	assert.ErrorIs(c.DropTable("users"), ErrNoSuchTable)

	rows, err := sm.GetAllRecords(AttributesID, attributesSchema)
	assert.NoError(err)
	assert.Empty(rows)
}

func TestReservedSchemas(t *testing.T) {
	c, err := Open(openSM(t, t.TempDir()))
	require.NoError(t, err)
	attrs, err := c.Attributes(TablesID)
	assertion.NoError(t, err)
	assertion.Equal(t, tablesSchema, attrs)
	attrs, err = c.Attributes(AttributesID)
	assertion.NoError(t, err)
	assertion.Equal(t, attributesSchema, attrs)
}

func TestValidate(t *testing.T) {
	pk := pagedb.Attribute{Name: "id", Type: pagedb.TypeInteger, PrimaryKey: true}
	cases := []struct {
		name  string
		table string
		attrs []pagedb.Attribute
	}{
		{"empty name", "", []pagedb.Attribute{pk}},
		{"no attributes", "t", nil},
		{"no primary key", "t", []pagedb.Attribute{{Name: "x", Type: pagedb.TypeInteger}}},
		{"two primary keys", "t", []pagedb.Attribute{pk, {Name: "y", Type: pagedb.TypeInteger, PrimaryKey: true}}},
		{"duplicate name", "t", []pagedb.Attribute{pk, {Name: "id", Type: pagedb.TypeBoolean}}},
		{"nullable primary key", "t", []pagedb.Attribute{{Name: "id", Type: pagedb.TypeInteger, PrimaryKey: true, Nullable: true}}},
		{"zero length char", "t", []pagedb.Attribute{pk, {Name: "c", Type: pagedb.TypeChar}}},
		{"long varchar", "t", []pagedb.Attribute{pk, {Name: "v", Type: pagedb.TypeVarchar, MaxLength: 300}}},
		{"unknown type", "t", []pagedb.Attribute{pk, {Name: "u", Type: pagedb.Type(42)}}},
	}
	c, err := Open(openSM(t, t.TempDir()))
	require.NoError(t, err)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.CreateTable(tc.table, tc.attrs)
			assertion.ErrorIs(t, err, ErrBadSchema)
		})
	}
	assertion.Empty(t, c.Tables())
}
