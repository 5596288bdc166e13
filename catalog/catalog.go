// Package catalog keeps table and attribute metadata inside the database
// itself, in two reserved tables.
package catalog

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"pagedb"
)

const (
	// TablesID holds one row per table: (id, name).
	TablesID = -1
	// AttributesID holds one row per attribute of every table.
	AttributesID = -2

	maxAttributes = 256
	maxNameLen    = 255
)

var (
	ErrTableExists = errors.New("table already exists")
	ErrNoSuchTable = errors.New("no such table")
	ErrBadSchema   = errors.New("invalid schema")
)

var tablesSchema = []pagedb.Attribute{
	{Name: "id", Type: pagedb.TypeInteger, PrimaryKey: true, Unique: true},
	{Name: "name", Type: pagedb.TypeVarchar, MaxLength: maxNameLen, Unique: true},
}

var attributesSchema = []pagedb.Attribute{
	{Name: "id", Type: pagedb.TypeInteger, PrimaryKey: true, Unique: true},
	{Name: "table_id", Type: pagedb.TypeInteger},
	{Name: "position", Type: pagedb.TypeInteger},
	{Name: "name", Type: pagedb.TypeVarchar, MaxLength: maxNameLen},
	{Name: "type", Type: pagedb.TypeInteger},
	{Name: "max_length", Type: pagedb.TypeInteger},
	{Name: "unique", Type: pagedb.TypeBoolean},
	{Name: "nullable", Type: pagedb.TypeBoolean},
	{Name: "primary_key", Type: pagedb.TypeBoolean},
}

// Catalog is a SchemaProvider backed by the reserved tables.
type Catalog struct {
	sm     *pagedb.StorageManager
	ids    map[string]int
	attrs  map[int][]pagedb.Attribute
	nextID int
}

var _ pagedb.SchemaProvider = (*Catalog)(nil)

// Open loads the catalog stored in sm, bootstrapping it on a new root.
func Open(sm *pagedb.StorageManager) (*Catalog, error) {
	c := &Catalog{
		sm:     sm,
		ids:    make(map[string]int),
		attrs:  make(map[int][]pagedb.Attribute),
		nextID: 1,
	}
	tables, err := sm.GetAllRecords(TablesID, tablesSchema)
	if err != nil {
		return nil, errors.Wrap(err, "load tables")
	}
	for _, rec := range tables {
		id := int(rec[0].Int())
		c.ids[rec[1].Str()] = id
		if id >= c.nextID {
			c.nextID = id + 1
		}
	}

	rows, err := sm.GetAllRecords(AttributesID, attributesSchema)
	if err != nil {
		return nil, errors.Wrap(err, "load attributes")
	}
	// rows are in primary key order, which is (table, position) order
	for _, rec := range rows {
		id := int(rec[1].Int())
		c.attrs[id] = append(c.attrs[id], pagedb.Attribute{
			Name:       rec[3].Str(),
			Type:       pagedb.Type(rec[4].Int()),
			MaxLength:  int(rec[5].Int()),
			Unique:     rec[6].Bool(),
			Nullable:   rec[7].Bool(),
			PrimaryKey: rec[8].Bool(),
		})
	}
	log.WithField("tables", len(c.ids)).Debug("loaded catalog")
	return c, nil
}

func attributeRowID(tableID, position int) int32 {
	return int32(tableID*maxAttributes + position)
}

// TableID resolves a table name.
func (c *Catalog) TableID(name string) (int, error) {
	id, ok := c.ids[name]
	if !ok {
		return 0, errors.Wrapf(ErrNoSuchTable, "%q", name)
	}
	return id, nil
}

// Attributes returns the schema of a table, including the reserved ones.
func (c *Catalog) Attributes(tableID int) ([]pagedb.Attribute, error) {
	switch tableID {
	case TablesID:
		return tablesSchema, nil
	case AttributesID:
		return attributesSchema, nil
	}
	attrs, ok := c.attrs[tableID]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchTable, "id %d", tableID)
	}
	return attrs, nil
}

// Tables lists table names in alphabetical order.
func (c *Catalog) Tables() []string {
	names := make([]string, 0, len(c.ids))
	for name := range c.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validate(name string, attrs []pagedb.Attribute) error {
	if name == "" || len(name) > maxNameLen {
		return errors.Wrapf(ErrBadSchema, "table name %q", name)
	}
	if len(attrs) == 0 || len(attrs) > maxAttributes {
		return errors.Wrapf(ErrBadSchema, "%d attributes", len(attrs))
	}
	seen := make(map[string]bool)
	pks := 0
	for _, a := range attrs {
		if a.Name == "" || len(a.Name) > maxNameLen || seen[a.Name] {
			return errors.Wrapf(ErrBadSchema, "attribute name %q", a.Name)
		}
		seen[a.Name] = true
		if a.PrimaryKey {
			pks++
			if a.Nullable {
				return errors.Wrapf(ErrBadSchema, "primary key %s is nullable", a.Name)
			}
		}
		switch a.Type {
		case pagedb.TypeChar, pagedb.TypeVarchar:
			if a.MaxLength < 1 || a.MaxLength > 255 {
				return errors.Wrapf(ErrBadSchema, "attribute %s max length %d", a.Name, a.MaxLength)
			}
		case pagedb.TypeInteger, pagedb.TypeDouble, pagedb.TypeBoolean:
		default:
			return errors.Wrapf(ErrBadSchema, "attribute %s type %v", a.Name, a.Type)
		}
	}
	if pks != 1 {
		return errors.Wrapf(ErrBadSchema, "%d primary keys", pks)
	}
	return nil
}

// CreateTable records a new table and returns its id.
func (c *Catalog) CreateTable(name string, attrs []pagedb.Attribute) (int, error) {
	if _, ok := c.ids[name]; ok {
		return 0, errors.Wrapf(ErrTableExists, "%q", name)
	}
	if err := validate(name, attrs); err != nil {
		return 0, err
	}
	id := c.nextID
	for i, a := range attrs {
		row := pagedb.Record{
			pagedb.Int(attributeRowID(id, i)),
			pagedb.Int(int32(id)),
			pagedb.Int(int32(i)),
			pagedb.Varchar(a.Name),
			pagedb.Int(int32(a.Type)),
			pagedb.Int(int32(a.MaxLength)),
			pagedb.Bool(a.Unique),
			pagedb.Bool(a.Nullable),
			pagedb.Bool(a.PrimaryKey),
		}
		if _, err := c.sm.InsertRecord(AttributesID, attributesSchema, row); err != nil {
			return 0, errors.Wrapf(err, "store attribute %s", a.Name)
		}
	}
	if _, err := c.sm.InsertRecord(TablesID, tablesSchema, pagedb.Record{pagedb.Int(int32(id)), pagedb.Varchar(name)}); err != nil {
		return 0, errors.Wrapf(err, "store table %s", name)
	}
	// touch the table file so an empty table can be dropped
	if _, err := c.sm.PageCount(id); err != nil {
		return 0, err
	}

	c.ids[name] = id
	c.attrs[id] = append([]pagedb.Attribute(nil), attrs...)
	c.nextID++
	log.WithFields(log.Fields{"table": name, "id": id}).Debug("created table")
	return id, nil
}

// DropTable removes a table's metadata and its files.
func (c *Catalog) DropTable(name string) error {
	id, err := c.TableID(name)
	if err != nil {
		return err
	}
	for i := range c.attrs[id] {
		if _, err := c.sm.DeleteRecord(AttributesID, pagedb.Int(attributeRowID(id, i)), attributesSchema); err != nil {
			return errors.Wrapf(err, "drop table %s", name)
		}
	}
	if _, err := c.sm.DeleteRecord(TablesID, pagedb.Int(int32(id)), tablesSchema); err != nil {
		return errors.Wrapf(err, "drop table %s", name)
	}
	if err := c.sm.DropTable(id); err != nil {
		return err
	}
	delete(c.ids, name)
	delete(c.attrs, id)
	return nil
}
