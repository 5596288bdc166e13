package pagedb

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

type nodeKind uint8

const (
	freeNode nodeKind = iota
	leafNode
	internalNode
)

// pointerSize is the encoded width of a RecordPointer: u32 page, u32 index.
const pointerSize = 8

// nodeHeaderSize is kind(1) + parent(4) + key count(2).
const nodeHeaderSize = 7

// Node is one B+Tree node stored in an index page slot. Nodes reference each
// other by page number; the root has parent -1.
type Node struct {
	Num     int
	TableID int

	size     int
	keyAttr  Attribute
	kind     nodeKind
	parent   int
	keys     []Value
	children []int           // internal: len(keys)+1 page numbers
	pointers []RecordPointer // leaf: one per key
}

var _ CachedPage = (*Node)(nil)

func (n *Node) Key() PageKey {
	return PageKey{Kind: IndexFile, TableID: n.TableID, PageNum: n.Num}
}

func (n *Node) IsLeaf() bool      { return n.kind == leafNode }
func (n *Node) Parent() int       { return n.parent }
func (n *Node) Keys() []Value     { return n.keys }
func (n *Node) Children() []int   { return n.children }
func (n *Node) NumKeys() int      { return len(n.keys) }
func (n *Node) isRoot() bool      { return n.parent < 0 }
func (n *Node) isFree() bool      { return n.kind == freeNode }
func (n *Node) release()          { *n = Node{Num: n.Num, TableID: n.TableID, size: n.size, keyAttr: n.keyAttr, parent: -1} }
func (n *Node) childPos(num int) int {
	for i, c := range n.children {
		if c == num {
			return i
		}
	}
	return -1
}

// Marshal encodes the node as
// [u8 kind][i32 parent][u16 nkeys][keys][children u32 x nkeys+1 | pointers (u32,u32) x nkeys].
func (n *Node) Marshal() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, n.size))
	var hdr [nodeHeaderSize]byte
	hdr[0] = byte(n.kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(int32(n.parent)))
	binary.BigEndian.PutUint16(hdr[5:], uint16(len(n.keys)))
	buf.Write(hdr[:])
	if n.kind == freeNode {
		return buf.Bytes(), nil
	}

	for _, k := range n.keys {
		if k.Null {
			return nil, errors.New("null key in index node")
		}
		if err := encodeValue(buf, n.keyAttr, k); err != nil {
			return nil, err
		}
	}
	var word [4]byte
	if n.kind == internalNode {
		if len(n.children) != len(n.keys)+1 {
			return nil, errors.Errorf("node %d has %d keys and %d children", n.Num, len(n.keys), len(n.children))
		}
		for _, c := range n.children {
			binary.BigEndian.PutUint32(word[:], uint32(c))
			buf.Write(word[:])
		}
	} else {
		for _, p := range n.pointers {
			binary.BigEndian.PutUint32(word[:], uint32(p.Page))
			buf.Write(word[:])
			binary.BigEndian.PutUint32(word[:], uint32(p.Index))
			buf.Write(word[:])
		}
	}
	return buf.Bytes(), nil
}

func unmarshalNode(data []byte, keyAttr Attribute) (*Node, error) {
	if len(data) < nodeHeaderSize {
		return nil, corruptError("decode node", "slot shorter than node header")
	}
	n := &Node{
		keyAttr: keyAttr,
		kind:    nodeKind(data[0]),
		parent:  int(int32(binary.BigEndian.Uint32(data[1:]))),
	}
	nkeys := int(binary.BigEndian.Uint16(data[5:]))
	switch n.kind {
	case freeNode:
		n.parent = -1
		return n, nil
	case leafNode, internalNode:
	default:
		return nil, corruptError("decode node", "unknown node kind %d", data[0])
	}

	r := bytes.NewReader(data[nodeHeaderSize:])
	n.keys = make([]Value, 0, nkeys)
	for i := 0; i < nkeys; i++ {
		k, err := decodeValue(r, keyAttr)
		if err != nil {
			return nil, errors.Wrapf(err, "key %d", i)
		}
		n.keys = append(n.keys, k)
	}
	var word [4]byte
	readWord := func() (int, error) {
		if err := readFull(r, word[:]); err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint32(word[:])), nil
	}
	if n.kind == internalNode {
		n.children = make([]int, 0, nkeys+1)
		for i := 0; i <= nkeys; i++ {
			c, err := readWord()
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, c)
		}
		return n, nil
	}
	n.pointers = make([]RecordPointer, 0, nkeys)
	for i := 0; i < nkeys; i++ {
		page, err := readWord()
		if err != nil {
			return nil, err
		}
		idx, err := readWord()
		if err != nil {
			return nil, err
		}
		n.pointers = append(n.pointers, RecordPointer{Page: page, Index: idx})
	}
	return n, nil
}
