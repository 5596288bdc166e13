package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/pkg/errors"

	"pagedb"
	"pagedb/catalog"
)

var (
	errUsage = errors.New("usage")
	errQuit  = errors.New("quit")
)

// env is what every command runs against.
type env struct {
	sm  *pagedb.StorageManager
	cat *catalog.Catalog
	out io.Writer
}

// Command is one parsed shell command.
type Command interface {
	Run(e *env) error
}

type (
	createTableCmd struct {
		name  string
		attrs []pagedb.Attribute
	}
	dropTableCmd struct{ table string }
	insertCmd    struct {
		table  string
		values []string
	}
	selectCmd struct {
		table string
		where *condition
	}
	deleteCmd struct {
		table string
		key   string
	}
	lookupCmd struct {
		table string
		key   string
	}
	snapshotCmd struct {
		table, path string
		algorithm   *pagedb.CompressAlgorithm
	}
	restoreCmd struct{ table, path string }
	tablesCmd  struct{}
	statsCmd   struct{}
	flushCmd   struct{}
	quitCmd    struct{}
)

type parseFunc func(args []string) (Command, error)

// commands maps the leading keyword of a line to its parser.
var commands = map[string]parseFunc{
	"create":   parseCreate,
	"drop":     parseDrop,
	"insert":   parseInsert,
	"select":   parseSelect,
	"delete":   parseDelete,
	"lookup":   parseLookup,
	"snapshot": parseSnapshot,
	"restore":  parseRestore,
	"tables":   noArgs(tablesCmd{}),
	"stats":    noArgs(statsCmd{}),
	"flush":    noArgs(flushCmd{}),
	"quit":     noArgs(quitCmd{}),
	"exit":     noArgs(quitCmd{}),
}

// Parse turns one input line into a Command. An empty line yields nil.
func Parse(line string) (Command, error) {
	words, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	parse, ok := commands[strings.ToLower(words[0])]
	if !ok {
		return nil, errors.Errorf("unknown command %q", words[0])
	}
	return parse(words[1:])
}

// tokenize splits on whitespace; double quotes group words.
func tokenize(line string) ([]string, error) {
	var (
		words  []string
		cur    strings.Builder
		quoted bool
		inWord bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case unicode.IsSpace(r) && !quoted:
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

func noArgs(c Command) parseFunc {
	return func(args []string) (Command, error) {
		if len(args) != 0 {
			return nil, errUsage
		}
		return c, nil
	}
}

// parseCreate: create table <name> <attr>:<type>[(len)][:pk][:null][:unique] ...
func parseCreate(args []string) (Command, error) {
	if len(args) < 3 || strings.ToLower(args[0]) != "table" {
		return nil, errors.Wrap(errUsage, "create table <name> <attr>:<type>[:pk|:null|:unique] ...")
	}
	cmd := createTableCmd{name: args[1]}
	for _, def := range args[2:] {
		a, err := parseAttribute(def)
		if err != nil {
			return nil, err
		}
		cmd.attrs = append(cmd.attrs, a)
	}
	return cmd, nil
}

func parseAttribute(def string) (pagedb.Attribute, error) {
	parts := strings.Split(def, ":")
	if len(parts) < 2 {
		return pagedb.Attribute{}, errors.Errorf("attribute %q: want name:type", def)
	}
	a := pagedb.Attribute{Name: parts[0]}
	typ := strings.ToUpper(parts[1])
	if i := strings.IndexByte(typ, '('); i >= 0 && strings.HasSuffix(typ, ")") {
		n, err := strconv.Atoi(typ[i+1 : len(typ)-1])
		if err != nil {
			return a, errors.Errorf("attribute %q: bad length", def)
		}
		a.MaxLength = n
		typ = typ[:i]
	}
	t, ok := pagedb.ParseType(typ)
	if !ok {
		return a, errors.Errorf("attribute %q: unknown type %s", def, parts[1])
	}
	a.Type = t
	for _, flag := range parts[2:] {
		switch strings.ToLower(flag) {
		case "pk":
			a.PrimaryKey, a.Unique = true, true
		case "null":
			a.Nullable = true
		case "unique":
			a.Unique = true
		default:
			return a, errors.Errorf("attribute %q: unknown flag %s", def, flag)
		}
	}
	return a, nil
}

func parseDrop(args []string) (Command, error) {
	if len(args) == 2 && strings.ToLower(args[0]) == "table" {
		args = args[1:]
	}
	if len(args) != 1 {
		return nil, errors.Wrap(errUsage, "drop [table] <name>")
	}
	return dropTableCmd{table: args[0]}, nil
}

func parseInsert(args []string) (Command, error) {
	if len(args) < 2 {
		return nil, errors.Wrap(errUsage, "insert <table> <value> ...")
	}
	return insertCmd{table: args[0], values: args[1:]}, nil
}

// parseSelect: select <table> [where <attr> <op> <value>]
func parseSelect(args []string) (Command, error) {
	switch {
	case len(args) == 1:
		return selectCmd{table: args[0]}, nil
	case len(args) == 5 && strings.ToLower(args[1]) == "where":
		op, ok := operators[args[3]]
		if !ok {
			return nil, errors.Errorf("unknown operator %q", args[3])
		}
		return selectCmd{table: args[0], where: &condition{attr: args[2], op: op, literal: args[4]}}, nil
	}
	return nil, errors.Wrap(errUsage, "select <table> [where <attr> <op> <value>]")
}

func parseDelete(args []string) (Command, error) {
	if len(args) != 2 {
		return nil, errors.Wrap(errUsage, "delete <table> <key>")
	}
	return deleteCmd{table: args[0], key: args[1]}, nil
}

func parseLookup(args []string) (Command, error) {
	if len(args) != 2 {
		return nil, errors.Wrap(errUsage, "lookup <table> <key>")
	}
	return lookupCmd{table: args[0], key: args[1]}, nil
}

func parseSnapshot(args []string) (Command, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, errors.Wrap(errUsage, "snapshot <table> <file> [snappy|lz4|none]")
	}
	cmd := snapshotCmd{table: args[0], path: args[1]}
	if len(args) == 3 {
		c, err := pagedb.ParseCompression(args[2])
		if err != nil {
			return nil, err
		}
		cmd.algorithm = &c
	}
	return cmd, nil
}

func parseRestore(args []string) (Command, error) {
	if len(args) != 2 {
		return nil, errors.Wrap(errUsage, "restore <table> <file>")
	}
	return restoreCmd{table: args[0], path: args[1]}, nil
}

// schema resolves a table name through the catalog.
func (e *env) schema(table string) (int, []pagedb.Attribute, error) {
	id, err := e.cat.TableID(table)
	if err != nil {
		return 0, nil, err
	}
	attrs, err := e.cat.Attributes(id)
	return id, attrs, err
}

func parseKey(attrs []pagedb.Attribute, literal string) (pagedb.Value, error) {
	pk, err := pagedb.PrimaryKeyIndex(attrs)
	if err != nil {
		return pagedb.Value{}, err
	}
	return pagedb.ParseValue(attrs[pk].Type, literal)
}

func (c createTableCmd) Run(e *env) error {
	id, err := e.cat.CreateTable(c.name, c.attrs)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created table %s (id %d)\n", c.name, id)
	return nil
}

func (c dropTableCmd) Run(e *env) error {
	if err := e.cat.DropTable(c.table); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "dropped table %s\n", c.table)
	return nil
}

func (c insertCmd) Run(e *env) error {
	id, attrs, err := e.schema(c.table)
	if err != nil {
		return err
	}
	if len(c.values) != len(attrs) {
		return errors.Errorf("%s has %d attributes, got %d values", c.table, len(attrs), len(c.values))
	}
	rec := make(pagedb.Record, len(attrs))
	for i, a := range attrs {
		if rec[i], err = pagedb.ParseValue(a.Type, c.values[i]); err != nil {
			return errors.Wrapf(err, "attribute %s", a.Name)
		}
	}
	ptr, err := e.sm.InsertRecord(id, attrs, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "inserted at page %d index %d\n", ptr.Page, ptr.Index)
	return nil
}

func (c selectCmd) Run(e *env) error {
	id, attrs, err := e.schema(c.table)
	if err != nil {
		return err
	}
	var pred pagedb.Predicate
	if c.where != nil {
		if pred, err = c.where.bind(attrs); err != nil {
			return err
		}
	}
	records, err := e.sm.SelectRecords(id, attrs, pred)
	if err != nil {
		return err
	}
	printRecords(e.out, attrs, records)
	return nil
}

func (c deleteCmd) Run(e *env) error {
	id, attrs, err := e.schema(c.table)
	if err != nil {
		return err
	}
	key, err := parseKey(attrs, c.key)
	if err != nil {
		return err
	}
	ok, err := e.sm.DeleteRecord(id, key, attrs)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(e.out, "no matching record")
		return nil
	}
	fmt.Fprintln(e.out, "deleted 1 record")
	return nil
}

func (c lookupCmd) Run(e *env) error {
	id, attrs, err := e.schema(c.table)
	if err != nil {
		return err
	}
	key, err := parseKey(attrs, c.key)
	if err != nil {
		return err
	}
	rec, _, ok, err := e.sm.Lookup(id, attrs, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(e.out, "no matching record")
		return nil
	}
	printRecords(e.out, attrs, []pagedb.Record{rec})
	return nil
}

func (c snapshotCmd) Run(e *env) error {
	id, _, err := e.schema(c.table)
	if err != nil {
		return err
	}
	f, err := os.Create(c.path)
	if err != nil {
		return err
	}
	if c.algorithm == nil {
		err = e.sm.SnapshotDefault(id, f)
	} else {
		err = e.sm.Snapshot(id, f, *c.algorithm)
	}
	if err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c restoreCmd) Run(e *env) error {
	id, _, err := e.schema(c.table)
	if err != nil {
		return err
	}
	f, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.sm.Restore(id, f)
}

func (tablesCmd) Run(e *env) error {
	for _, name := range e.cat.Tables() {
		fmt.Fprintln(e.out, name)
	}
	return nil
}

func (statsCmd) Run(e *env) error {
	s := e.sm.Buffer().Stats()
	fmt.Fprintf(e.out, "page size %d, buffer %d/%d, hits %d, misses %d, evictions %d\n",
		e.sm.PageSize(), e.sm.Buffer().Len(), e.sm.BufferSize(), s.Hits, s.Misses, s.Evictions)
	return nil
}

func (flushCmd) Run(e *env) error { return e.sm.Flush() }
func (quitCmd) Run(*env) error    { return errQuit }

func printRecords(out io.Writer, attrs []pagedb.Attribute, records []pagedb.Record) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, rec := range records {
		cells := make([]string, len(rec))
		for i, v := range rec {
			cells[i] = v.String()
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "(%d rows)\n", len(records))
}
