package pagedb

import (
	"github.com/pkg/errors"
)

// Attribute describes one column. MaxLength only applies to Char and Varchar.
type Attribute struct {
	Name       string
	Type       Type
	MaxLength  int
	Unique     bool
	Nullable   bool
	PrimaryKey bool
}

// Record holds one Value per Attribute, in schema order.
type Record []Value

func (r Record) IsNull(i int) bool { return r[i].Null }

// RecordPointer locates a record by page number and index within the page.
// It is invalidated by any split or compaction touching that page.
type RecordPointer struct {
	Page  int
	Index int
}

// SchemaProvider resolves table names and schemas.
type SchemaProvider interface {
	TableID(name string) (int, error)
	Attributes(tableID int) ([]Attribute, error)
}

// Predicate tests one decoded record.
type Predicate interface {
	Match(rec Record) (bool, error)
}

type PredicateFunc func(rec Record) (bool, error)

func (f PredicateFunc) Match(rec Record) (bool, error) { return f(rec) }

// PrimaryKeyIndex returns the position of the primary key attribute.
func PrimaryKeyIndex(attrs []Attribute) (int, error) {
	for i, a := range attrs {
		if a.PrimaryKey {
			return i, nil
		}
	}
	return -1, ErrNoPrimaryKey
}

// keySize is the widest encoding of a non-null value of the attribute.
func keySize(a Attribute) int {
	switch a.Type {
	case TypeInteger:
		return 4
	case TypeDouble:
		return 8
	case TypeBoolean:
		return 1
	case TypeChar:
		return a.MaxLength
	default:
		n := a.MaxLength
		if n <= 0 || n > maxVarcharLen {
			n = maxVarcharLen
		}
		return 1 + n
	}
}

// checkValue verifies that v can be stored under a.
func checkValue(a Attribute, v Value) error {
	if v.Type != a.Type {
		return errors.Wrapf(ErrTypeMismatch, "attribute %s is %v, got %v", a.Name, a.Type, v.Type)
	}
	if v.Null {
		return nil
	}
	switch a.Type {
	case TypeChar:
		if len(v.s) > a.MaxLength {
			return errors.Wrapf(ErrCharTooLong, "attribute %s: %d > %d", a.Name, len(v.s), a.MaxLength)
		}
	case TypeVarchar:
		if len(v.s) > maxVarcharLen {
			return errors.Wrapf(ErrVarcharTooLong, "attribute %s: %d bytes", a.Name, len(v.s))
		}
	}
	return nil
}

// validateRecord applies the schema constraints enforced on insert.
func validateRecord(attrs []Attribute, rec Record) error {
	if len(rec) != len(attrs) {
		return errors.Errorf("record has %d values, schema has %d attributes", len(rec), len(attrs))
	}
	for i, a := range attrs {
		v := rec[i]
		if err := checkValue(a, v); err != nil {
			return err
		}
		if v.Null && (a.PrimaryKey || !a.Nullable) {
			return errors.Errorf("attribute %s cannot be null", a.Name)
		}
		if a.Type == TypeVarchar && !v.Null && a.MaxLength > 0 && len(v.s) > a.MaxLength {
			return errors.Errorf("attribute %s: value longer than %d", a.Name, a.MaxLength)
		}
	}
	return nil
}
