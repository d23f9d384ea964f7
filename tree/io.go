package tree

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

const (
	entryTile  uint8 = 0
	entryChild uint8 = 1
)

// WriteTopology writes the root table and every node's masks and tile values
// in preorder.  Leaf values are written separately by WriteBuffers.
func (t *Tree[V]) WriteTopology(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, t.root.background); err != nil {
		return vdb.WrapError(vdb.IoError, err, "writing background")
	}
	keys := t.root.sortedKeys()
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(keys))); err != nil {
		return vdb.WrapError(vdb.IoError, err, "writing root table size")
	}
	for _, k := range keys {
		e := t.root.table[k]
		if _, err := k.WriteTo(bw); err != nil {
			return vdb.WrapError(vdb.IoError, err, "writing root key %s", k)
		}
		var err error
		if e.child == nil {
			err = writeAll(bw, entryTile, e.tile, e.active)
		} else {
			if err = bw.WriteByte(entryChild); err == nil {
				err = writeNodeTopology(bw, e.child)
			}
		}
		if err != nil {
			return vdb.WrapError(vdb.IoError, err, "writing root entry %s", k)
		}
	}
	return bw.Flush()
}

func writeAll(w io.Writer, vals ...any) error {
	for _, v := range vals {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func writeNodeTopology[V Value](w io.Writer, n node[V]) error {
	switch n := n.(type) {
	case *LeafNode[V]:
		return binary.Write(w, binary.LittleEndian, n.mask[:])
	case *internalNode[V]:
		if err := writeAll(w, n.childMask.words, n.valueMask.words, n.tiles); err != nil {
			return err
		}
		for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
			if err := writeNodeTopology(w, n.children[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadTopology replaces the tree's contents with a topology written by
// WriteTopology from a tree of the same configuration.  Leaves hold zero
// values until ReadBuffers or DeferBuffers is called.
func (t *Tree[V]) ReadTopology(r io.Reader) error {
	br := bufio.NewReader(r)
	var bg V
	var numEntries uint32
	if err := readAll(br, &bg, &numEntries); err != nil {
		return vdb.WrapError(vdb.IoError, err, "reading root header")
	}
	table := make(map[Coord]*rootEntry[V], numEntries)
	for i := uint32(0); i < numEntries; i++ {
		var k Coord
		if _, err := k.ReadFrom(br); err != nil {
			return vdb.WrapError(vdb.IoError, err, "reading root key %d", i)
		}
		if k != t.root.key(k) {
			return vdb.NewError(vdb.IoError, "root key %s not aligned to %d", k, int32(1)<<t.root.childTotal())
		}
		kind, err := br.ReadByte()
		if err != nil {
			return vdb.WrapError(vdb.IoError, err, "reading root entry %s", k)
		}
		e := &rootEntry[V]{}
		switch kind {
		case entryTile:
			if err := readAll(br, &e.tile, &e.active); err != nil {
				return vdb.WrapError(vdb.IoError, err, "reading root tile %s", k)
			}
		case entryChild:
			if e.child, err = t.readNodeTopology(br, t.lay.topLevel(), k); err != nil {
				return vdb.WrapError(vdb.IoError, err, "reading node %s", k)
			}
		default:
			return vdb.NewError(vdb.IoError, "bad root entry kind %d at %s", kind, k)
		}
		table[k] = e
	}
	t.root.background = bg
	t.root.table = table
	t.bump(true)
	return nil
}

func readAll(r io.Reader, vals ...any) error {
	for _, v := range vals {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree[V]) readNodeTopology(r io.Reader, level int, origin Coord) (node[V], error) {
	var zero V
	if level == 0 {
		leaf := newLeaf(origin, zero, false, t.topo)
		if err := binary.Read(r, binary.LittleEndian, leaf.mask[:]); err != nil {
			return nil, err
		}
		if t.topo {
			leaf.syncTopology()
		}
		return leaf, nil
	}
	n := newInternal(t.lay, level, origin, zero, false, t.topo)
	if err := readAll(r, n.childMask.words, n.valueMask.words, n.tiles); err != nil {
		return nil, err
	}
	if n.childMask.Intersects(&n.valueMask) {
		return nil, vdb.NewError(vdb.IoError, "level %d node %s has active tiles in child slots", level, origin)
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		ch, err := t.readNodeTopology(r, level-1, n.slotOrigin(i))
		if err != nil {
			return nil, err
		}
		if n.children == nil {
			n.children = make([]node[V], n.numSlots())
		}
		n.children[i] = ch
	}
	return n, nil
}

// WriteBuffers writes the values of every leaf in traversal order.
func (t *Tree[V]) WriteBuffers(w io.Writer) error {
	if t.topo {
		return nil
	}
	bw := bufio.NewWriter(w)
	var err error
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		err = binary.Write(bw, binary.LittleEndian, l.buf.values())
		return err == nil
	})
	if err != nil {
		return vdb.WrapError(vdb.IoError, err, "writing leaf values")
	}
	return bw.Flush()
}

// ReadBuffers reads leaf values written by WriteBuffers into a tree whose
// topology was read by ReadTopology.
func (t *Tree[V]) ReadBuffers(r io.Reader) error {
	if t.topo {
		return nil
	}
	br := bufio.NewReader(r)
	var err error
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		l.buf.data = make([]V, LeafSize)
		l.buf.pending.Store(nil)
		err = binary.Read(br, binary.LittleEndian, l.buf.data)
		return err == nil
	})
	if err != nil {
		return vdb.WrapError(vdb.IoError, err, "reading leaf values")
	}
	return nil
}

// DeferBuffers marks every leaf out of core, to be loaded from src with the
// key returned by keyFn for the leaf's origin on first access.
func (t *Tree[V]) DeferBuffers(src BufferSource, keyFn func(origin Coord) []byte) {
	if t.topo {
		return
	}
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		l.buf.setDeferred(src, keyFn(l.origin))
		return true
	})
}

// EncodedValues returns the encoding of the leaf's values used by BufferSource.
func (l *LeafNode[V]) EncodedValues() ([]byte, error) {
	return EncodeValues(l.buf.values())
}
