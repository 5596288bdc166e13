package pagedb

import (
	"github.com/pkg/errors"
)

// BTree is a primary key index persisted in an index file. Nodes live in the
// file's page slots and are read and written through the shared page buffer.
//
// Every mutated node is handed back to the buffer with put before another node
// is mutated, so an eviction in between always writes the latest version.
type BTree struct {
	TableID int

	// When enabled, Check runs after every Insert and Delete.
	StrictMode bool

	keyAttr Attribute
	order   int
	file    *dbFile
	buf     *PageBuffer
	root    int
	count   int
	free    []int
}

// Order is the maximum number of keys per node:
// floor(pageSize/(keySize+pointerSize)) - 1.
func Order(pageSize int, keyAttr Attribute) int {
	return pageSize/(keySize(keyAttr)+pointerSize) - 1
}

// CreateBTree creates an empty index for tableID, replacing any existing file.
func CreateBTree(buf *PageBuffer, root string, tableID int, keyAttr Attribute) (*BTree, error) {
	bt, err := newBTree(buf, root, tableID, keyAttr)
	if err != nil {
		return nil, err
	}
	if err := bt.file.create(); err != nil {
		return nil, err
	}
	if err := bt.setRoot(0); err != nil {
		return nil, err
	}
	if _, err := bt.alloc(leafNode, -1); err != nil {
		return nil, err
	}
	return bt, nil
}

// OpenBTree opens the index of tableID, creating it when the file is missing.
func OpenBTree(buf *PageBuffer, root string, tableID int, keyAttr Attribute) (*BTree, error) {
	bt, err := newBTree(buf, root, tableID, keyAttr)
	if err != nil {
		return nil, err
	}
	ok, err := bt.file.exists()
	if err != nil {
		return nil, err
	}
	if !ok {
		return CreateBTree(buf, root, tableID, keyAttr)
	}
	if bt.count, err = bt.file.pageCount(); err != nil {
		return nil, err
	}
	if bt.root, err = bt.file.rootPage(); err != nil {
		return nil, err
	}
	if bt.count == 0 || bt.root >= bt.count {
		return nil, corruptError("open index", "root %d outside %d pages", bt.root, bt.count)
	}
	for i := 0; i < bt.count; i++ {
		n, err := bt.node(i)
		if err != nil {
			return nil, err
		}
		if n.isFree() {
			bt.free = append(bt.free, i)
		}
	}
	return bt, nil
}

func newBTree(buf *PageBuffer, root string, tableID int, keyAttr Attribute) (*BTree, error) {
	order := Order(buf.pageSize, keyAttr)
	if order < 2 {
		return nil, errors.Errorf("page size %d too small for %v keys", buf.pageSize, keyAttr.Type)
	}
	return &BTree{
		TableID: tableID,
		keyAttr: keyAttr,
		order:   order,
		file:    newIndexFile(root, tableID, buf.pageSize),
		buf:     buf,
	}, nil
}

func (bt *BTree) Order() int { return bt.order }
func (bt *BTree) Root() int  { return bt.root }

func (bt *BTree) minKeys(n *Node) int {
	if n.IsLeaf() {
		return (bt.order + 1) / 2
	}
	return bt.order / 2
}

func (bt *BTree) node(num int) (*Node, error) {
	return bt.buf.ReadIndexNode(bt.TableID, num, bt.keyAttr, false)
}

func (bt *BTree) put(nodes ...*Node) error {
	for _, n := range nodes {
		if err := bt.buf.Write(n); err != nil {
			return err
		}
	}
	return nil
}

func (bt *BTree) setRoot(num int) error {
	bt.root = num
	return bt.file.setRootPage(num)
}

// alloc returns a new node, reusing a freed slot when there is one.
func (bt *BTree) alloc(kind nodeKind, parent int) (*Node, error) {
	var num int
	if len(bt.free) > 0 {
		num, bt.free = bt.free[0], bt.free[1:]
	} else {
		num = bt.count
		bt.count++
		if err := bt.file.setPageCount(bt.count); err != nil {
			return nil, err
		}
	}
	n := &Node{
		Num:     num,
		TableID: bt.TableID,
		size:    bt.buf.pageSize,
		keyAttr: bt.keyAttr,
		kind:    kind,
		parent:  parent,
	}
	return n, bt.put(n)
}

func (bt *BTree) release(n *Node) error {
	n.release()
	bt.free = append(bt.free, n.Num)
	return bt.put(n)
}

// childIndex picks the first child whose separator exceeds key, else the last.
func childIndex(n *Node, key Value) int {
	for i, k := range n.keys {
		if Compare(k, key) > 0 {
			return i
		}
	}
	return len(n.keys)
}

func (bt *BTree) findLeaf(key Value) (*Node, error) {
	n, err := bt.node(bt.root)
	if err != nil {
		return nil, err
	}
	for !n.IsLeaf() {
		if n.isFree() {
			return nil, corruptError("search", "reached free node %d", n.Num)
		}
		if n, err = bt.node(n.children[childIndex(n, key)]); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Search returns the pointer stored under key.
func (bt *BTree) Search(key Value) (RecordPointer, bool, error) {
	leaf, err := bt.findLeaf(key)
	if err != nil {
		return RecordPointer{}, false, err
	}
	for i, k := range leaf.keys {
		if Compare(k, key) == 0 {
			return leaf.pointers[i], true, nil
		}
	}
	return RecordPointer{}, false, nil
}

// Insert adds key. An existing key fails with ErrDuplicateKey.
func (bt *BTree) Insert(key Value, ptr RecordPointer) error {
	if err := checkValue(bt.keyAttr, key); err != nil {
		return err
	}
	if key.Null {
		return errors.New("null index key")
	}
	leaf, err := bt.findLeaf(key)
	if err != nil {
		return err
	}

	pos := len(leaf.keys)
	for i, k := range leaf.keys {
		c := Compare(k, key)
		if c == 0 {
			return &Error{Kind: KindDuplicateKey, Op: "index insert", Err: errors.Errorf("key %v", key)}
		}
		if c > 0 {
			pos = i
			break
		}
	}
	leaf.keys = insertAt(leaf.keys, pos, key)
	leaf.pointers = insertAt(leaf.pointers, pos, ptr)
	if len(leaf.keys) > bt.order {
		err = bt.splitLeaf(leaf)
	} else {
		err = bt.put(leaf)
	}
	if err != nil {
		return err
	}
	return bt.strictCheck()
}

// splitLeaf halves an overfull leaf. An overfull leaf may not fit its slot, so
// it is cut down before anything else can touch the buffer.
func (bt *BTree) splitLeaf(leaf *Node) error {
	mid := len(leaf.keys) / 2
	keys := append([]Value(nil), leaf.keys[mid:]...)
	pointers := append([]RecordPointer(nil), leaf.pointers[mid:]...)
	leaf.keys = append([]Value(nil), leaf.keys[:mid]...)
	leaf.pointers = append([]RecordPointer(nil), leaf.pointers[:mid]...)
	if err := bt.put(leaf); err != nil {
		return err
	}

	right, err := bt.alloc(leafNode, leaf.parent)
	if err != nil {
		return err
	}
	right.keys, right.pointers = keys, pointers
	if err := bt.put(right); err != nil {
		return err
	}
	return bt.insertInParent(leaf, right.keys[0], right)
}

func (bt *BTree) splitInternal(n *Node) error {
	mid := len(n.keys) / 2
	promoted := n.keys[mid]
	right, err := bt.alloc(internalNode, n.parent)
	if err != nil {
		return err
	}
	right.keys = append([]Value(nil), n.keys[mid+1:]...)
	right.children = append([]int(nil), n.children[mid+1:]...)
	n.keys = append([]Value(nil), n.keys[:mid]...)
	n.children = append([]int(nil), n.children[:mid+1]...)
	if err := bt.put(n, right); err != nil {
		return err
	}
	if err := bt.adopt(right, right.children...); err != nil {
		return err
	}
	return bt.insertInParent(n, promoted, right)
}

// adopt points the parent of each child at n.
func (bt *BTree) adopt(n *Node, children ...int) error {
	for _, c := range children {
		child, err := bt.node(c)
		if err != nil {
			return err
		}
		child.parent = n.Num
		if err := bt.put(child); err != nil {
			return err
		}
	}
	return nil
}

func (bt *BTree) insertInParent(left *Node, key Value, right *Node) error {
	if left.isRoot() {
		root, err := bt.alloc(internalNode, -1)
		if err != nil {
			return err
		}
		root.keys = []Value{key}
		root.children = []int{left.Num, right.Num}
		left.parent, right.parent = root.Num, root.Num
		if err := bt.put(left, right, root); err != nil {
			return err
		}
		return bt.setRoot(root.Num)
	}

	parent, err := bt.node(left.parent)
	if err != nil {
		return err
	}
	i := parent.childPos(left.Num)
	if i < 0 {
		return corruptError("index insert", "node %d missing from parent %d", left.Num, parent.Num)
	}
	parent.keys = insertAt(parent.keys, i, key)
	parent.children = insertAt(parent.children, i+1, right.Num)
	right.parent = parent.Num
	if err := bt.put(right, parent); err != nil {
		return err
	}
	if len(parent.keys) > bt.order {
		return bt.splitInternal(parent)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (bt *BTree) Delete(key Value) (bool, error) {
	leaf, err := bt.findLeaf(key)
	if err != nil {
		return false, err
	}
	pos := -1
	for i, k := range leaf.keys {
		if Compare(k, key) == 0 {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, nil
	}
	leaf.keys = removeAt(leaf.keys, pos)
	leaf.pointers = removeAt(leaf.pointers, pos)
	if err := bt.put(leaf); err != nil {
		return false, err
	}
	if err := bt.rebalance(leaf); err != nil {
		return false, err
	}
	return true, bt.strictCheck()
}

// rebalance fixes an underfull node: merge with the left sibling, merge with
// the right sibling, borrow from the left, borrow from the right, in that
// order. An internal root left with a single child is replaced by that child.
func (bt *BTree) rebalance(n *Node) error {
	if n.isRoot() {
		if n.IsLeaf() || len(n.keys) > 0 {
			return nil
		}
		child, err := bt.node(n.children[0])
		if err != nil {
			return err
		}
		child.parent = -1
		if err := bt.put(child); err != nil {
			return err
		}
		if err := bt.setRoot(child.Num); err != nil {
			return err
		}
		return bt.release(n)
	}
	if len(n.keys) >= bt.minKeys(n) {
		return nil
	}

	parent, err := bt.node(n.parent)
	if err != nil {
		return err
	}
	idx := parent.childPos(n.Num)
	if idx < 0 {
		return corruptError("index delete", "node %d missing from parent %d", n.Num, parent.Num)
	}
	var left, right *Node
	if idx > 0 {
		if left, err = bt.node(parent.children[idx-1]); err != nil {
			return err
		}
	}
	if idx < len(parent.children)-1 {
		if right, err = bt.node(parent.children[idx+1]); err != nil {
			return err
		}
	}

	switch {
	case left != nil && bt.canMerge(left, n):
		return bt.merge(parent, idx-1, left, n)
	case right != nil && bt.canMerge(n, right):
		return bt.merge(parent, idx, n, right)
	case left != nil && len(left.keys) > bt.minKeys(left):
		return bt.borrowLeft(parent, idx, left, n)
	case right != nil && len(right.keys) > bt.minKeys(right):
		return bt.borrowRight(parent, idx, n, right)
	}
	return nil
}

func (bt *BTree) canMerge(left, right *Node) bool {
	n := len(left.keys) + len(right.keys)
	if !left.IsLeaf() {
		n++
	}
	return n <= bt.order
}

// merge folds right into left; sep is the index of their separator in parent.
func (bt *BTree) merge(parent *Node, sep int, left, right *Node) error {
	if left.IsLeaf() {
		left.keys = append(left.keys, right.keys...)
		left.pointers = append(left.pointers, right.pointers...)
	} else {
		left.keys = append(append(left.keys, parent.keys[sep]), right.keys...)
		left.children = append(left.children, right.children...)
	}
	parent.keys = removeAt(parent.keys, sep)
	parent.children = removeAt(parent.children, sep+1)
	if err := bt.put(left, parent); err != nil {
		return err
	}
	if !left.IsLeaf() {
		if err := bt.adopt(left, right.children...); err != nil {
			return err
		}
	}
	if err := bt.release(right); err != nil {
		return err
	}
	return bt.rebalance(parent)
}

// borrowLeft moves the last entry of left to the front of n; idx is n's
// position in parent.
func (bt *BTree) borrowLeft(parent *Node, idx int, left, n *Node) error {
	last := len(left.keys) - 1
	if n.IsLeaf() {
		n.keys = insertAt(n.keys, 0, left.keys[last])
		n.pointers = insertAt(n.pointers, 0, left.pointers[last])
		left.keys = left.keys[:last]
		left.pointers = left.pointers[:last]
		parent.keys[idx-1] = n.keys[0]
		return bt.put(left, n, parent)
	}

	moved := left.children[last+1]
	n.keys = insertAt(n.keys, 0, parent.keys[idx-1])
	n.children = insertAt(n.children, 0, moved)
	parent.keys[idx-1] = left.keys[last]
	left.keys = left.keys[:last]
	left.children = left.children[:last+1]
	if err := bt.put(left, n, parent); err != nil {
		return err
	}
	return bt.adopt(n, moved)
}

// borrowRight moves the first entry of right to the end of n; idx is n's
// position in parent.
func (bt *BTree) borrowRight(parent *Node, idx int, n, right *Node) error {
	if n.IsLeaf() {
		n.keys = append(n.keys, right.keys[0])
		n.pointers = append(n.pointers, right.pointers[0])
		right.keys = removeAt(right.keys, 0)
		right.pointers = removeAt(right.pointers, 0)
		parent.keys[idx] = right.keys[0]
		return bt.put(right, n, parent)
	}

	moved := right.children[0]
	n.keys = append(n.keys, parent.keys[idx])
	n.children = append(n.children, moved)
	parent.keys[idx] = right.keys[0]
	right.keys = removeAt(right.keys, 0)
	right.children = removeAt(right.children, 0)
	if err := bt.put(right, n, parent); err != nil {
		return err
	}
	return bt.adopt(n, moved)
}

// Ascend calls fn for every entry in key order until fn returns false.
func (bt *BTree) Ascend(fn func(key Value, ptr RecordPointer) bool) error {
	_, err := bt.ascend(bt.root, fn)
	return err
}

func (bt *BTree) ascend(num int, fn func(Value, RecordPointer) bool) (bool, error) {
	n, err := bt.node(num)
	if err != nil {
		return false, err
	}
	if n.IsLeaf() {
		keys, ptrs := n.keys, n.pointers
		for i := range keys {
			if !fn(keys[i], ptrs[i]) {
				return false, nil
			}
		}
		return true, nil
	}
	for _, c := range append([]int(nil), n.children...) {
		more, err := bt.ascend(c, fn)
		if err != nil || !more {
			return more, err
		}
	}
	return true, nil
}

// Len counts the keys in the tree.
func (bt *BTree) Len() (int, error) {
	count := 0
	err := bt.Ascend(func(Value, RecordPointer) bool {
		count++
		return true
	})
	return count, err
}

func (bt *BTree) strictCheck() error {
	if !bt.StrictMode {
		return nil
	}
	return bt.Check()
}

// Check walks the tree and verifies its structural invariants: key order,
// separator bounds, parent links, node fill and uniform leaf depth.
func (bt *BTree) Check() error {
	leafDepth := -1
	var walk func(num, parent, depth int, lo, hi *Value) error
	walk = func(num, parent, depth int, lo, hi *Value) error {
		n, err := bt.node(num)
		if err != nil {
			return err
		}
		if n.isFree() {
			return errors.Errorf("node %d: reachable free node", num)
		}
		if n.parent != parent {
			return errors.Errorf("node %d: parent %d, want %d", num, n.parent, parent)
		}
		keys := append([]Value(nil), n.keys...)
		children := append([]int(nil), n.children...)
		isRoot := parent < 0

		if len(keys) > bt.order {
			return errors.Errorf("node %d: %d keys exceed order %d", num, len(keys), bt.order)
		}
		if !isRoot && len(keys) < bt.minKeys(n) {
			return errors.Errorf("node %d: %d keys below minimum %d", num, len(keys), bt.minKeys(n))
		}
		for i, k := range keys {
			if i > 0 && Compare(keys[i-1], k) >= 0 {
				return errors.Errorf("node %d: keys out of order at %d", num, i)
			}
			if lo != nil && Compare(k, *lo) < 0 {
				return errors.Errorf("node %d: key %v below separator %v", num, k, *lo)
			}
			if hi != nil && Compare(k, *hi) >= 0 {
				return errors.Errorf("node %d: key %v not below separator %v", num, k, *hi)
			}
		}

		if n.IsLeaf() {
			if len(n.pointers) != len(keys) {
				return errors.Errorf("node %d: %d keys, %d pointers", num, len(keys), len(n.pointers))
			}
			if leafDepth < 0 {
				leafDepth = depth
			} else if leafDepth != depth {
				return errors.Errorf("node %d: leaf at depth %d, want %d", num, depth, leafDepth)
			}
			return nil
		}
		if len(children) != len(keys)+1 {
			return errors.Errorf("node %d: %d keys, %d children", num, len(keys), len(children))
		}
		if isRoot && len(keys) == 0 {
			return errors.Errorf("node %d: internal root without keys", num)
		}
		for i, c := range children {
			clo, chi := lo, hi
			if i > 0 {
				clo = &keys[i-1]
			}
			if i < len(keys) {
				chi = &keys[i]
			}
			if err := walk(c, num, depth+1, clo, chi); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(bt.root, -1, 0, nil, nil)
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	return append(s[:i], s[i+1:]...)
}
