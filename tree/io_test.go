package tree

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// mapSource serves leaf buffers from memory and counts loads.
type mapSource struct {
	sync.Mutex
	data  map[string][]byte
	loads int
}

func (s *mapSource) LoadBuffer(key []byte) ([]byte, error) {
	s.Lock()
	defer s.Unlock()
	b, found := s.data[string(key)]
	if !found {
		return nil, fmt.Errorf("no buffer for key %x", key)
	}
	s.loads++
	return b, nil
}

func sampleTree() *Tree[float32] {
	t := New[float32](-0.5)
	for i := int32(0); i < 20; i++ {
		t.SetValue(NewCoord(i*13, -i*7, i*i), float32(i)+0.25)
	}
	t.SetValueOnly(NewCoord(3, 3, 3), 8)
	if err := t.AddTile(1, NewCoord(-64, 0, 0), 2, true); err != nil {
		panic(err)
	}
	if err := t.AddTile(3, NewCoord(-5000, 0, 0), 3, false); err != nil {
		panic(err)
	}
	return t
}

func checkSameValues(c *C, a, b *Tree[float32]) {
	c.Assert(b.HasSameTopology(a), Equals, true)
	c.Assert(b.Background(), Equals, a.Background())
	al, bl := a.Leaves(), b.Leaves()
	c.Assert(len(bl), Equals, len(al))
	for i := range al {
		c.Assert(bl[i].Values(), DeepEquals, al[i].Values())
	}
}

func (suite *DataSuite) TestTopologyRoundTrip(c *C) {
	t := sampleTree()
	var topo, bufs bytes.Buffer
	c.Assert(t.WriteTopology(&topo), IsNil)
	c.Assert(t.WriteBuffers(&bufs), IsNil)
	c.Assert(bufs.Len(), Equals, int(t.LeafCount())*LeafSize*4)

	r := New[float32](0)
	c.Assert(r.ReadTopology(&topo), IsNil)
	c.Assert(r.ReadBuffers(&bufs), IsNil)
	checkSameValues(c, t, r)
	c.Assert(r.GetValue(NewCoord(-5000, 0, 0)), Equals, float32(3))
	c.Assert(r.GetValueDepth(NewCoord(-5000, 0, 0)), Equals, 0)
	c.Assert(r.GetValue(NewCoord(-60, 1, 1)), Equals, float32(2))
	v, on := r.ProbeValue(NewCoord(3, 3, 3))
	c.Assert(v, Equals, float32(8))
	c.Assert(on, Equals, false)
}

func (suite *DataSuite) TestMaskTopologyRoundTrip(c *C) {
	m := NewMaskTree()
	m.SetValueOn(NewCoord(1, 2, 3), true)
	m.SetValueOn(NewCoord(100, 2, 3), true)
	var topo bytes.Buffer
	c.Assert(m.WriteTopology(&topo), IsNil)
	var bufs bytes.Buffer
	c.Assert(m.WriteBuffers(&bufs), IsNil)
	c.Assert(bufs.Len(), Equals, 0)

	r := NewMaskTree()
	c.Assert(r.ReadTopology(&topo), IsNil)
	c.Assert(r.GetValue(NewCoord(100, 2, 3)), Equals, true)
	c.Assert(r.GetValue(NewCoord(101, 2, 3)), Equals, false)
	c.Assert(r.HasSameTopology(m), Equals, true)
}

func (suite *DataSuite) TestCorruptTopology(c *C) {
	t := sampleTree()
	var topo bytes.Buffer
	c.Assert(t.WriteTopology(&topo), IsNil)
	data := topo.Bytes()

	r := New[float32](0)
	err := r.ReadTopology(bytes.NewReader(data[:len(data)/2]))
	c.Assert(vdb.IsKind(err, vdb.IoError), Equals, true)

	// An unaligned root key.
	bad := append([]byte(nil), data...)
	bad[8] ^= 1
	err = r.ReadTopology(bytes.NewReader(bad))
	c.Assert(vdb.IsKind(err, vdb.IoError), Equals, true)
}

func (suite *DataSuite) TestDeferredBuffers(c *C) {
	t := sampleTree()
	src := &mapSource{data: make(map[string][]byte)}
	key := func(origin Coord) []byte { return origin.Bytes() }
	for _, l := range t.Leaves() {
		enc, err := l.EncodedValues()
		c.Assert(err, IsNil)
		src.data[string(key(l.Origin()))] = enc
	}
	want := t.Copy()
	loaded := t.MemUsage()

	t.DeferBuffers(src, key)
	n := int(t.LeafCount())
	c.Assert(t.OutOfCoreLeafCount(), Equals, n)
	c.Assert(t.MemUsage() < loaded, Equals, true)
	c.Assert(t.MemUsageIfLoaded(), Equals, loaded)

	// Topology queries do not load buffers.
	c.Assert(t.ActiveVoxelCount(), Equals, want.ActiveVoxelCount())
	c.Assert(t.IsValueOn(NewCoord(13, -7, 1)), Equals, true)
	c.Assert(src.loads, Equals, 0)

	c.Assert(t.GetValue(NewCoord(13, -7, 1)), Equals, float32(1.25))
	c.Assert(src.loads, Equals, 1)
	c.Assert(t.OutOfCoreLeafCount(), Equals, n-1)

	// A copy shares the deferred sources.
	cp := t.Copy()
	c.Assert(cp.OutOfCoreLeafCount(), Equals, n-1)

	c.Assert(t.LoadAll(context.Background()), IsNil)
	c.Assert(t.OutOfCoreLeafCount(), Equals, 0)
	c.Assert(src.loads, Equals, n)
	checkSameValues(c, want, t)
	c.Assert(t.MemUsage(), Equals, loaded)

	c.Assert(cp.LoadAll(context.Background()), IsNil)
	checkSameValues(c, want, cp)
}

func (suite *DataSuite) TestDeferredBufferFailure(c *C) {
	t := New[int32](0)
	t.SetValue(NewCoord(1, 1, 1), 1)
	src := &mapSource{data: make(map[string][]byte)}
	t.DeferBuffers(src, func(origin Coord) []byte { return origin.Bytes() })
	err := t.LoadAll(context.Background())
	c.Assert(vdb.IsKind(err, vdb.IoError), Equals, true)
	c.Assert(t.OutOfCoreLeafCount(), Equals, 1)

	src.data[string(NewCoord(0, 0, 0).Bytes())] = []byte{1, 2, 3}
	err = t.LoadAll(context.Background())
	c.Assert(vdb.IsKind(err, vdb.IoError), Equals, true)
}

func (suite *DataSuite) TestValueEncoding(c *C) {
	vals := []int16{-3, 0, 7, 32767}
	enc, err := EncodeValues(vals)
	c.Assert(err, IsNil)
	c.Assert(len(enc), Equals, 8)
	out := make([]int16, 4)
	c.Assert(DecodeValues(enc, out), IsNil)
	c.Assert(out, DeepEquals, vals)
	c.Assert(vdb.IsKind(DecodeValues(enc[:5], out), vdb.IoError), Equals, true)

	for _, name := range []string{"bool", "float32", "uint64", "mask"} {
		vt, err := ParseValueType(name)
		c.Assert(err, IsNil)
		c.Assert(vt.String(), Equals, name)
	}
	_, err = ParseValueType("complex64")
	c.Assert(vdb.IsKind(err, vdb.ValueError), Equals, true)
	c.Assert(ValueTypeOf[float64](), Equals, Float64Type)
}
