package main

import (
	"github.com/pkg/errors"

	"pagedb"
)

type operator func(c int) bool

var operators = map[string]operator{
	"=":  func(c int) bool { return c == 0 },
	"!=": func(c int) bool { return c != 0 },
	"<":  func(c int) bool { return c < 0 },
	"<=": func(c int) bool { return c <= 0 },
	">":  func(c int) bool { return c > 0 },
	">=": func(c int) bool { return c >= 0 },
}

// condition is a single "<attr> <op> <literal>" filter.
type condition struct {
	attr    string
	op      operator
	literal string
}

// bind resolves the attribute against a schema and returns the predicate.
// Null attribute values never match.
func (c *condition) bind(attrs []pagedb.Attribute) (pagedb.Predicate, error) {
	idx := -1
	for i, a := range attrs {
		if a.Name == c.attr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.Errorf("no attribute %q", c.attr)
	}
	want, err := pagedb.ParseValue(attrs[idx].Type, c.literal)
	if err != nil {
		return nil, err
	}
	return pagedb.PredicateFunc(func(rec pagedb.Record) (bool, error) {
		if idx >= len(rec) {
			return false, errors.Errorf("record has no attribute %d", idx)
		}
		if rec.IsNull(idx) || want.Null {
			return false, nil
		}
		return c.op(pagedb.Compare(rec[idx], want)), nil
	}), nil
}
