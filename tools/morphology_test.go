package tools

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

var connectivities = []NearestNeighbors{NNFace, NNFaceEdge, NNFaceEdgeVertex}

// kit builds trees of one value type for the generic test bodies.
type kit[V tree.Value] struct {
	name string
	mask bool
	val  func(f float64) V
}

func (k kit[V]) newTree(bg float64) *tree.Tree[V] {
	if k.mask {
		t, _ := any(tree.NewMaskTree()).(*tree.Tree[V])
		return t
	}
	return tree.New(k.val(bg))
}

var (
	floatKit = kit[float32]{name: "float", val: func(f float64) float32 { return float32(f) }}
	maskKit  = kit[bool]{name: "mask", mask: true, val: func(f float64) bool { return f != 0 }}
)

// runBoth runs a generic test body for float and mask trees under every
// connectivity.
func runBoth(t *testing.T, ff func(*testing.T, kit[float32], NearestNeighbors), mf func(*testing.T, kit[bool], NearestNeighbors)) {
	for _, nn := range connectivities {
		t.Run(fmt.Sprintf("%s/%s", floatKit.name, nn), func(t *testing.T) { ff(t, floatKit, nn) })
		t.Run(fmt.Sprintf("%s/%s", maskKit.name, nn), func(t *testing.T) { mf(t, maskKit, nn) })
	}
}

func checkActiveNeighbors[V tree.Value](t *testing.T, tr *tree.Tree[V], c tree.Coord, nn NearestNeighbors, recurse int) {
	t.Helper()
	if !tr.IsValueOn(c) {
		t.Fatalf("voxel %s should be active", c)
	}
	for _, o := range NeighborOffsets(nn) {
		n := c.Add(o)
		if recurse > 0 {
			checkActiveNeighbors(t, tr, n, nn, recurse-1)
		}
		if !tr.IsValueOn(n) {
			t.Fatalf("neighbor %s of %s should be active", n, c)
		}
	}
}

func checkInactiveNeighbors[V tree.Value](t *testing.T, tr *tree.Tree[V], c tree.Coord, nn NearestNeighbors) {
	t.Helper()
	for _, o := range NeighborOffsets(nn) {
		if tr.IsValueOn(c.Add(o)) {
			t.Fatalf("neighbor %s of %s should be inactive", c.Add(o), c)
		}
	}
}

func expectCounts[V tree.Value](t *testing.T, tr *tree.Tree[V], active, leaves, tiles uint64) {
	t.Helper()
	if got := tr.ActiveVoxelCount(); got != active {
		t.Errorf("expected %d active voxels, got %d", active, got)
	}
	if got := tr.LeafCount(); got != leaves {
		t.Errorf("expected %d leaves, got %d", leaves, got)
	}
	if got := tr.ActiveTileCount(); got != tiles {
		t.Errorf("expected %d active tiles, got %d", tiles, got)
	}
}

// checkActiveSum verifies the active voxel count splits exactly into active
// leaf voxels plus the volume of every active tile.
func checkActiveSum[V tree.Value](t *testing.T, tr *tree.Tree[V]) {
	t.Helper()
	var tiles uint64
	for _, tile := range tr.ActiveTiles() {
		tiles += tile.BBox.Volume()
	}
	if got, want := tr.ActiveVoxelCount(), tr.ActiveLeafVoxelCount()+tiles; got != want {
		t.Errorf("active voxel count %d != leaf voxels %d + tile voxels %d", got, tr.ActiveLeafVoxelCount(), tiles)
	}
}

func dilate[V tree.Value](t *testing.T, tr *tree.Tree[V], iter int, nn NearestNeighbors, policy TilePolicy) {
	t.Helper()
	if err := DilateActiveValues(context.Background(), tr, iter, nn, policy); err != nil {
		t.Fatalf("dilate: %v", err)
	}
}

func erode[V tree.Value](t *testing.T, tr *tree.Tree[V], iter int, nn NearestNeighbors, policy TilePolicy) {
	t.Helper()
	if err := ErodeActiveValues(context.Background(), tr, iter, nn, policy); err != nil {
		t.Fatalf("erode: %v", err)
	}
}

func TestNeighborOffsets(t *testing.T) {
	for _, tc := range []struct {
		nn    NearestNeighbors
		count int
	}{{NNFace, 6}, {NNFaceEdge, 18}, {NNFaceEdgeVertex, 26}} {
		offs := NeighborOffsets(tc.nn)
		if len(offs) != tc.count {
			t.Fatalf("%s: expected %d offsets, got %d", tc.nn, tc.count, len(offs))
		}
		seen := make(map[tree.Coord]bool)
		for i, o := range offs {
			if seen[o] || o == (tree.Coord{}) {
				t.Errorf("%s: bad offset %s", tc.nn, o)
			}
			seen[o] = true
			order := abs32(o.X) + abs32(o.Y) + abs32(o.Z)
			if (i < 6 && order != 1) || (i >= 6 && i < 18 && order != 2) || (i >= 18 && order != 3) {
				t.Errorf("%s: offset %d = %s out of face/edge/vertex order", tc.nn, i, o)
			}
		}
	}
}

func TestParseMorphologyOptions(t *testing.T) {
	for s, want := range map[string]NearestNeighbors{"face": NNFace, "18": NNFaceEdge, "Face-Edge-Vertex": NNFaceEdgeVertex} {
		if got, err := ParseNearestNeighbors(s); err != nil || got != want {
			t.Errorf("ParseNearestNeighbors(%q) = %s, %v", s, got, err)
		}
	}
	if _, err := ParseNearestNeighbors("diagonal"); !vdb.IsKind(err, vdb.ValueError) {
		t.Errorf("expected ValueError, got %v", err)
	}
	for s, want := range map[string]TilePolicy{"ignore": IgnoreTiles, "expand-tiles": ExpandTiles, "PRESERVE": PreserveTiles} {
		if got, err := ParseTilePolicy(s); err != nil || got != want {
			t.Errorf("ParseTilePolicy(%q) = %s, %v", s, got, err)
		}
	}
	if _, err := ParseTilePolicy("keep"); !vdb.IsKind(err, vdb.ValueError) {
		t.Errorf("expected ValueError, got %v", err)
	}
}

func TestShiftAcrossLeaves(t *testing.T) {
	var m tree.Mask512
	m.SetOn(tree.LeafOffset(tree.NewCoord(7, 7, 7)))
	corner := tree.NewCoord(1, 1, 1)
	moved := shiftToward(&m, corner, corner)
	if moved.CountOn() != 1 || !moved.IsOn(0) {
		t.Fatalf("expected voxel to wrap to the corner of the +1 neighbor, got %v", moved)
	}
	if stay := shiftToward(&m, corner, tree.Coord{}); !stay.IsEmpty() {
		t.Fatalf("nothing should stay in the source leaf, got %v", stay)
	}

	st := newStencil(NNFaceEdgeVertex)
	out := st.dilate(&m)
	for i := range out {
		if out[i].IsEmpty() {
			continue
		}
		n := slotOffset(i)
		if n.X < 0 || n.Y < 0 || n.Z < 0 {
			t.Errorf("corner voxel spilled into %s", n)
		}
	}
	total := 0
	for i := range out {
		total += out[i].CountOn()
	}
	if total != 27 {
		t.Errorf("expected 27 voxels over the neighborhood, got %d", total)
	}
}

func TestMorphologyArguments(t *testing.T) {
	tr := tree.New[float32](0)
	tr.SetValue(tree.Splat(4), 1)
	ctx := context.Background()
	if err := DilateActiveValues(ctx, tr, -1, NNFace, IgnoreTiles); !vdb.IsKind(err, vdb.ValueError) {
		t.Errorf("expected ValueError for negative iterations, got %v", err)
	}
	if err := ErodeActiveValues(ctx, tr, 1, NearestNeighbors(7), IgnoreTiles); !vdb.IsKind(err, vdb.ValueError) {
		t.Errorf("expected ValueError for bad connectivity, got %v", err)
	}
	if err := DilateActiveValues(ctx, tr, 1, NNFace, TilePolicy(9)); !vdb.IsKind(err, vdb.ValueError) {
		t.Errorf("expected ValueError for bad tile policy, got %v", err)
	}
	if tr.ActiveVoxelCount() != 1 {
		t.Errorf("failed calls must not change the tree")
	}
	if err := DilateActiveValues(ctx, tr, 0, NNFace, PreserveTiles); err != nil || tr.ActiveVoxelCount() != 1 {
		t.Errorf("zero iterations should be a no-op")
	}
}

func TestSingleVoxel(t *testing.T) {
	runBoth(t, singleVoxel[float32], singleVoxel[bool])
}

func singleVoxel[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	offsets := uint64(len(NeighborOffsets(nn)))
	tr := k.newTree(-1)
	xyz := tree.Splat(tree.LeafDim >> 1)
	tr.SetValue(xyz, k.val(1))

	dilate(t, tr, 1, nn, IgnoreTiles)
	checkActiveNeighbors(t, tr, xyz, nn, 0)
	if got := tr.ActiveVoxelCount(); got != 1+offsets {
		t.Fatalf("expected %d active voxels after dilation, got %d", 1+offsets, got)
	}
	erode(t, tr, 1, nn, IgnoreTiles)
	checkInactiveNeighbors(t, tr, xyz, nn)
	if got := tr.ActiveVoxelCount(); got != 1 {
		t.Fatalf("expected 1 active voxel after erosion, got %d", got)
	}
	erode(t, tr, 1, nn, IgnoreTiles)
	if got := tr.ActiveVoxelCount(); got != 0 || tr.LeafCount() != 1 {
		t.Fatalf("expected an empty leaf, got %d voxels in %d leaves", got, tr.LeafCount())
	}
	if !k.mask {
		if tr.GetValue(xyz) != k.val(1) {
			t.Errorf("eroded voxel lost its value: %v", tr.GetValue(xyz))
		}
		for _, o := range NeighborOffsets(nn) {
			if v := tr.GetValue(xyz.Add(o)); v != k.val(-1) {
				t.Errorf("dilated voxel %s should keep the background value, got %v", xyz.Add(o), v)
			}
		}
	}
}

func TestEveryLeafPosition(t *testing.T) {
	runBoth(t, everyLeafPosition[float32], everyLeafPosition[bool])
}

func everyLeafPosition[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	offsets := uint64(len(NeighborOffsets(nn)))
	box := tree.CreateCube(tree.Coord{}, tree.LeafDim)
	box.ForEach(func(xyz tree.Coord) bool {
		tr := k.newTree(-1)
		tr.SetValue(xyz, k.val(1))
		dilate(t, tr, 1, nn, IgnoreTiles)
		checkActiveNeighbors(t, tr, xyz, nn, 0)
		if got := tr.ActiveVoxelCount(); got != 1+offsets {
			t.Fatalf("%s: expected %d active voxels, got %d", xyz, 1+offsets, got)
		}
		erode(t, tr, 1, nn, IgnoreTiles)
		checkInactiveNeighbors(t, tr, xyz, nn)
		if got := tr.ActiveVoxelCount(); got != 1 || !tr.IsValueOn(xyz) {
			t.Fatalf("%s: round trip left %d active voxels", xyz, got)
		}
		if !k.mask && tr.GetValue(xyz) != k.val(1) {
			t.Fatalf("%s: value changed to %v", xyz, tr.GetValue(xyz))
		}
		return true
	})
}

func TestThreeNeighbors(t *testing.T) {
	runBoth(t, threeNeighbors[float32], threeNeighbors[bool])
}

func threeNeighbors[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	tr := k.newTree(-1)
	seeds := []tree.Coord{tree.NewCoord(0, 0, 0), tree.NewCoord(1, 0, 0), tree.NewCoord(-1, 0, 0)}
	for _, c := range seeds {
		tr.SetValue(c, k.val(1))
	}
	dilate(t, tr, 1, nn, IgnoreTiles)
	for _, c := range seeds {
		checkActiveNeighbors(t, tr, c, nn, 0)
	}
	overlap := map[NearestNeighbors]uint64{NNFace: 6*3 - 4, NNFaceEdge: 18*3 - 20, NNFaceEdgeVertex: 26*3 - 36}
	if got := tr.ActiveVoxelCount(); got != 3+overlap[nn] {
		t.Fatalf("expected %d active voxels, got %d", 3+overlap[nn], got)
	}
	erode(t, tr, 1, nn, IgnoreTiles)
	if got := tr.ActiveVoxelCount(); got != 3 {
		t.Fatalf("expected 3 active voxels after erosion, got %d", got)
	}
	for _, c := range seeds {
		if !tr.IsValueOn(c) || tr.GetValue(c) != k.val(1) {
			t.Errorf("seed %s lost its state", c)
		}
	}
}

type iterInfo struct{ active, leaves, nonLeaves uint64 }

// Single voxel at the center of a leaf, dilated 0..10 times; columns are
// face, face-edge and face-edge-vertex connectivity.
var iterationTable = [11][3]iterInfo{
	{{1, 1, 3}, {1, 1, 3}, {1, 1, 3}},
	{{7, 1, 3}, {19, 1, 3}, {27, 1, 3}},
	{{25, 1, 3}, {93, 1, 3}, {125, 1, 3}},
	{{63, 1, 3}, {263, 1, 3}, {343, 1, 3}},
	{{129, 4, 3}, {569, 7, 3}, {729, 8, 3}},
	{{231, 7, 9}, {1051, 19, 15}, {1331, 27, 17}},
	{{377, 7, 9}, {1749, 20, 15}, {2197, 27, 17}},
	{{575, 7, 9}, {2703, 26, 15}, {3375, 27, 17}},
	{{833, 10, 9}, {3953, 27, 17}, {4913, 27, 17}},
	{{1159, 16, 9}, {5539, 27, 17}, {6859, 27, 17}},
	{{1561, 19, 15}, {7501, 27, 17}, {9261, 27, 17}},
}

func TestIterationTable(t *testing.T) {
	runBoth(t, iterations[float32], iterations[bool])
}

func iterations[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	seed := tree.Splat(tree.LeafDim >> 1)
	check := func(tr *tree.Tree[V], step int, what string) {
		t.Helper()
		want := iterationTable[step][nn]
		got := iterInfo{tr.ActiveVoxelCount(), tr.LeafCount(), tr.NonLeafCount()}
		if got != want {
			t.Fatalf("%s, step %d: expected %+v, got %+v", what, step, want, got)
		}
	}
	seeded := func() *tree.Tree[V] {
		tr := k.newTree(-1)
		tr.SetValue(seed, k.val(1))
		return tr
	}

	tr := seeded()
	check(tr, 0, "seed")
	for i := 1; i <= 10; i++ {
		dilate(t, tr, 1, nn, IgnoreTiles)
		check(tr, i, "repeated dilation")
	}
	for i := 9; i >= 0; i-- {
		erode(t, tr, 1, nn, IgnoreTiles)
		tr.PruneInactive()
		check(tr, i, "repeated erosion")
	}

	for j := 0; j <= 10; j++ {
		tr := seeded()
		dilate(t, tr, j, nn, IgnoreTiles)
		check(tr, j, "dilation iterations")
	}
	for j := 0; j <= 10; j++ {
		tr := seeded()
		dilate(t, tr, 10, nn, IgnoreTiles)
		erode(t, tr, j, nn, IgnoreTiles)
		tr.PruneInactive()
		check(tr, 10-j, "erosion iterations")
	}
}

func TestMultipleIterations(t *testing.T) {
	runBoth(t, multipleIterations[float32], multipleIterations[bool])
}

func multipleIterations[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	tr := k.newTree(-1)
	xyz := tree.Splat(tree.LeafDim >> 1)
	tr.SetValue(xyz, k.val(1))

	dilate(t, tr, 2, nn, IgnoreTiles)
	checkActiveNeighbors(t, tr, xyz, nn, 1)
	if got, want := tr.ActiveVoxelCount(), iterationTable[2][nn].active; got != want {
		t.Fatalf("expected %d active voxels, got %d", want, got)
	}
	dilate(t, tr, 3, nn, IgnoreTiles)
	checkActiveNeighbors(t, tr, xyz, nn, 4)
	if got, want := tr.ActiveVoxelCount(), iterationTable[5][nn].active; got != want {
		t.Fatalf("expected %d active voxels, got %d", want, got)
	}
	erode(t, tr, 5, nn, IgnoreTiles)
	if got := tr.ActiveVoxelCount(); got != 1 {
		t.Fatalf("expected 1 active voxel, got %d", got)
	}
	checkInactiveNeighbors(t, tr, xyz, nn)
}

func TestTileWithEdgeVoxel(t *testing.T) {
	runBoth(t, tileWithEdgeVoxel[float32], tileWithEdgeVoxel[bool])
}

func tileWithEdgeVoxel[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	const dim = tree.LeafDim
	tr := k.newTree(-1)
	if err := tr.AddTile(1, tree.Coord{}, k.val(1), true); err != nil {
		t.Fatal(err)
	}
	expectCounts(t, tr, dim*dim*dim, 0, 1)

	xyz := tree.NewCoord(dim, dim-1, dim-1)
	tr.SetValue(xyz, k.val(1))
	expected := uint64(dim*dim*dim + 1)
	expectCounts(t, tr, expected, 1, 1)

	dilate(t, tr, 1, nn, IgnoreTiles)
	checkActiveNeighbors(t, tr, xyz, nn, 0)
	added := map[NearestNeighbors]uint64{NNFace: 5, NNFaceEdge: 15, NNFaceEdgeVertex: 22}[nn]
	leaves := map[NearestNeighbors]uint64{NNFace: 3, NNFaceEdge: 6, NNFaceEdgeVertex: 7}[nn]
	expectCounts(t, tr, expected+added, leaves, 1)

	erode(t, tr, 1, nn, IgnoreTiles)
	expectCounts(t, tr, expected, leaves, 1)
	erode(t, tr, 1, nn, IgnoreTiles)
	expectCounts(t, tr, dim*dim*dim, leaves, 1)

	before := tr.Copy()
	erode(t, tr, 1, nn, IgnoreTiles)
	if !before.HasSameTopology(tr) {
		t.Errorf("eroding a lone active tile with ignored tiles changed the tree")
	}
	if !k.mask && (tr.GetValue(xyz) != k.val(1) || tr.GetValue(tree.Coord{}) != k.val(1)) {
		t.Errorf("values changed by erosion")
	}
}

func faceNeighborsActive[V tree.Value](t *testing.T, tr *tree.Tree[V], nn NearestNeighbors) {
	t.Helper()
	const last = tree.LeafDim - 1
	for i := int32(0); i < tree.LeafDim; i++ {
		for j := int32(0); j < tree.LeafDim; j++ {
			for _, c := range []tree.Coord{{X: i, Y: j}, {X: i, Z: j}, {Y: i, Z: j},
				{X: i, Y: j, Z: last}, {X: i, Y: last, Z: j}, {X: last, Y: i, Z: j}} {
				checkActiveNeighbors(t, tr, c, nn, 0)
			}
		}
	}
}

func TestTilePolicies(t *testing.T) {
	runBoth(t, tilePolicies[float32], tilePolicies[bool])
}

func tilePolicies[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	const dim = tree.LeafDim
	offsets := uint64(len(NeighborOffsets(nn)))
	grown := uint64(dim * dim * dim)
	switch nn {
	case NNFace:
		grown += dim * dim * 6
	case NNFaceEdge:
		grown += dim*dim*6 + dim*12
	case NNFaceEdgeVertex:
		grown += dim*dim*6 + dim*12 + 8
	}

	tileTree := func() *tree.Tree[V] {
		tr := k.newTree(0)
		if err := tr.AddTile(1, tree.Coord{}, k.val(1), true); err != nil {
			t.Fatal(err)
		}
		return tr
	}

	tr := tileTree()
	expectCounts(t, tr, dim*dim*dim, 0, 1)
	orig := tr.Copy()

	// A lone tile is invariant when tiles are ignored.
	dilate(t, tr, 1, nn, IgnoreTiles)
	erode(t, tr, 1, nn, IgnoreTiles)
	if !orig.HasSameTopology(tr) {
		t.Fatalf("ignored tile changed under dilate/erode")
	}

	// Expanded tiles erode like any dense leaf.
	exp, pres := tr.Copy(), tr.Copy()
	erode(t, exp, 1, nn, ExpandTiles)
	expectCounts(t, exp, (dim-2)*(dim-2)*(dim-2), 1, 0)
	checkActiveSum(t, exp)
	if exp.ProbeLeaf(tree.Coord{}) == nil {
		t.Fatalf("expected the tile to be voxelized")
	}
	erode(t, pres, 1, nn, PreserveTiles)
	checkActiveSum(t, pres)
	if !exp.HasSameTopology(pres) {
		t.Errorf("expand and preserve erosion of a lone tile differ")
	}

	dilate(t, tr, 1, nn, ExpandTiles)
	expectCounts(t, tr, grown, 1+offsets, 0)
	checkActiveSum(t, tr)
	if leaf := tr.ProbeLeaf(tree.Coord{}); leaf == nil || !leaf.IsDense() {
		t.Fatalf("expected a dense center leaf")
	}
	faceNeighborsActive(t, tr, nn)

	voxelized := orig.Copy()
	voxelized.VoxelizeActiveTiles()
	dilate(t, voxelized, 1, nn, IgnoreTiles)
	if !voxelized.HasSameTopology(tr) {
		t.Errorf("expanding tiles should match dilating a voxelized copy")
	}

	eroded := tr.Copy()
	erode(t, eroded, 1, nn, IgnoreTiles)
	expectCounts(t, eroded, dim*dim*dim, 1+offsets, 0)
	checkActiveSum(t, eroded)
	if leaf := eroded.ProbeLeaf(tree.Coord{}); leaf == nil || !leaf.IsDense() {
		t.Fatalf("expected the center leaf to survive erosion")
	}

	// Preserved tiles come back as tiles.
	tr, voxelized = tileTree(), tileTree()
	voxelized.VoxelizeActiveTiles()
	dilate(t, tr, 1, nn, PreserveTiles)
	dilate(t, voxelized, 1, nn, PreserveTiles)
	expectCounts(t, tr, grown, offsets, 1)
	checkActiveSum(t, tr)
	if !voxelized.HasSameTopology(tr) {
		t.Errorf("preserve dilation of tile and voxelized tile differ")
	}
	if tr.ProbeLeaf(tree.Coord{}) != nil || !tr.IsValueOn(tree.Coord{}) {
		t.Errorf("expected the center to be an active tile")
	}
	faceNeighborsActive(t, tr, nn)

	erode(t, tr, 1, nn, PreserveTiles)
	expectCounts(t, tr, dim*dim*dim, 0, 1)
	checkActiveSum(t, tr)
	if tr.ProbeLeaf(tree.Coord{}) != nil || !tr.IsValueOn(tree.Coord{}) {
		t.Errorf("expected erosion to restore the tile")
	}
}

func TestTileWithVoxelTopology(t *testing.T) {
	runBoth(t, tileWithVoxelTopology[float32], tileWithVoxelTopology[bool])
}

func tileWithVoxelTopology[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	const dim = tree.LeafDim
	offsets := uint64(len(NeighborOffsets(nn)))
	tr := k.newTree(0)
	if err := tr.AddTile(1, tree.Coord{}, k.val(1), true); err != nil {
		t.Fatal(err)
	}
	xyz := tree.NewCoord(dim, dim>>1, dim>>1)
	tr.SetValue(xyz, k.val(1))
	expected := uint64(dim*dim*dim + 1)

	dilate(t, tr, 1, nn, IgnoreTiles)
	checkActiveNeighbors(t, tr, xyz, nn, 0)
	expected += offsets - map[NearestNeighbors]uint64{NNFace: 1, NNFaceEdge: 5, NNFaceEdgeVertex: 9}[nn]
	if got := tr.ActiveVoxelCount(); got != expected {
		t.Fatalf("expected %d active voxels, got %d", expected, got)
	}
	if tr.ActiveTileCount() != 1 {
		t.Fatalf("tile should be untouched")
	}

	dilate(t, tr, 1, nn, PreserveTiles)
	checkActiveNeighbors(t, tr, xyz, nn, 1)
	if tr.ActiveTileCount() != 1 || tr.LeafCount() != offsets {
		t.Fatalf("expected 1 tile and %d leaves, got %d and %d", offsets, tr.ActiveTileCount(), tr.LeafCount())
	}
	if tr.ProbeLeaf(tree.Coord{}) != nil || !tr.IsValueOn(tree.Coord{}) {
		t.Fatalf("center should be a preserved tile")
	}
	faceNeighborsActive(t, tr, nn)

	erode(t, tr, 10, nn, IgnoreTiles)
	expectCounts(t, tr, dim*dim*dim, offsets, 1)
	if tr.ProbeLeaf(tree.Coord{}) != nil || !tr.IsValueOn(tree.Coord{}) {
		t.Fatalf("center tile should survive erosion with ignored tiles")
	}
}

func TestPreserveTilesPrunesConstantLeaves(t *testing.T) {
	runBoth(t, pruneConstantLeaves[float32], pruneConstantLeaves[bool])
}

func pruneConstantLeaves[V tree.Value](t *testing.T, k kit[V], nn NearestNeighbors) {
	const dim = tree.LeafDim
	offsets := uint64(len(NeighborOffsets(nn)))
	tr := k.newTree(0)
	if !k.mask {
		tr.SetBackground(k.val(1), false)
	}
	// Partial leaf that becomes dense but not constant.
	tr.Fill(tree.NewBBox(tree.NewCoord(0, 0, 1), tree.Splat(dim-1)), k.val(2), true)
	// Partial leaf that becomes dense and constant.
	tr.Fill(tree.NewBBox(tree.NewCoord(dim*3, 0, 1), tree.NewCoord(dim*3+dim-1, dim-1, dim-1)), k.val(1), true)
	// Dense leaf.
	tr.TouchLeaf(tree.NewCoord(dim*6, 0, 0)).SetValuesOn()
	base := uint64(dim*dim*dim + (dim*dim*dim-dim*dim)*2)
	expectCounts(t, tr, base, 3, 0)

	dilate(t, tr, 1, nn, PreserveTiles)
	leaves := offsets*3 - map[NearestNeighbors]uint64{NNFace: 2, NNFaceEdge: 10, NNFaceEdgeVertex: 18}[nn]
	tiles := uint64(3)
	if !k.mask {
		leaves++
		tiles--
	}
	if tr.LeafCount() != leaves || tr.ActiveTileCount() != tiles {
		t.Fatalf("expected %d leaves and %d tiles, got %d and %d", leaves, tiles, tr.LeafCount(), tr.ActiveTileCount())
	}
	checkActiveSum(t, tr)
	if k.mask {
		if tr.ProbeLeaf(tree.Coord{}) != nil || !tr.IsValueOn(tree.Coord{}) {
			t.Errorf("dense mask leaf should be pruned")
		}
	} else if leaf := tr.ProbeLeaf(tree.Coord{}); leaf == nil || !leaf.IsDense() {
		t.Errorf("non-constant dense leaf should be kept")
	}
	for _, c := range []tree.Coord{tree.NewCoord(dim*3, 0, 0), tree.NewCoord(dim*6, 0, 0)} {
		if tr.ProbeLeaf(c) != nil || !tr.IsValueOn(c) {
			t.Errorf("constant leaf at %s should be pruned to an active tile", c)
		}
	}

	erode(t, tr, 1, nn, PreserveTiles)
	expectCounts(t, tr, base, 2, 1)
	checkActiveSum(t, tr)
}

func TestLeafPointersPreserved(t *testing.T) {
	mask := tree.NewMaskTree()
	const count = 160
	nodes := make([]*tree.LeafNode[bool], count)
	for i := int32(0); i < count; i++ {
		nodes[i] = mask.TouchLeaf(tree.Splat(i))
		nodes[i].SetValuesOn()
	}
	m := NewMorphology(mask)
	m.SetThreaded(true)
	m.SetGrainSize(3)
	if err := m.Dilate(context.Background(), 3, NNFace, IgnoreTiles); err != nil {
		t.Fatal(err)
	}
	for i := int32(0); i < count; i++ {
		if mask.ProbeLeaf(tree.Splat(i)) != nodes[i] {
			t.Fatalf("leaf at %s was replaced", tree.Splat(i))
		}
	}
}

func TestThreadingIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := tree.New[float64](0)
	for i := 0; i < 2000; i++ {
		c := tree.NewCoord(rng.Int31n(200)-100, rng.Int31n(200)-100, rng.Int31n(200)-100)
		src.SetValue(c, rng.Float64())
	}
	if err := src.AddTile(1, tree.NewCoord(-64, 32, 8), 3, true); err != nil {
		t.Fatal(err)
	}
	for _, nn := range connectivities {
		for _, policy := range []TilePolicy{IgnoreTiles, ExpandTiles, PreserveTiles} {
			serial, threaded := src.Copy(), src.Copy()
			ms := NewMorphology(serial)
			ms.SetThreaded(false)
			mt := NewMorphology(threaded)
			mt.SetGrainSize(4)
			ctx := context.Background()
			if err := ms.Dilate(ctx, 2, nn, policy); err != nil {
				t.Fatal(err)
			}
			if err := mt.Dilate(ctx, 2, nn, policy); err != nil {
				t.Fatal(err)
			}
			if err := ms.Erode(ctx, 1, nn, policy); err != nil {
				t.Fatal(err)
			}
			if err := mt.Erode(ctx, 1, nn, policy); err != nil {
				t.Fatal(err)
			}
			if !serial.HasSameTopology(threaded) {
				t.Errorf("%s/%s: threaded result differs", nn, policy)
			}
			s := threaded.Stats()
			var tiles uint64
			threaded.ForEachTile(true, func(tile tree.Tile[float64]) bool {
				tiles += tile.BBox.Volume()
				return true
			})
			if s.ActiveVoxels != s.ActiveLeafVoxels+tiles {
				t.Errorf("%s/%s: active count %d != %d leaf + %d tile voxels", nn, policy, s.ActiveVoxels, s.ActiveLeafVoxels, tiles)
			}
		}
	}
}

func TestCanceledContext(t *testing.T) {
	tr := tree.New[float32](0)
	tr.SetValue(tree.Splat(4), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := DilateActiveValues(ctx, tr, 1, NNFace, IgnoreTiles); err == nil {
		t.Errorf("expected an error from a canceled context")
	}
}
