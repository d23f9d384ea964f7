// Package tools holds operations that run over whole trees: morphology
// (dilation and erosion of the active region), active-value search and
// bounding-box restricted counting.
package tools

import (
	"context"
	"strings"

	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// NearestNeighbors selects the stencil used by one morphology step.
type NearestNeighbors uint8

const (
	NNFace           NearestNeighbors = iota // 6 face neighbors
	NNFaceEdge                               // 18 face and edge neighbors
	NNFaceEdgeVertex                         // all 26 neighbors
)

func (nn NearestNeighbors) String() string {
	switch nn {
	case NNFace:
		return "face"
	case NNFaceEdge:
		return "face-edge"
	case NNFaceEdgeVertex:
		return "face-edge-vertex"
	default:
		return "unknown connectivity"
	}
}

// ParseNearestNeighbors accepts "face", "face-edge", "face-edge-vertex" or
// the neighbor counts "6", "18", "26".
func ParseNearestNeighbors(s string) (NearestNeighbors, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "face", "6":
		return NNFace, nil
	case "face-edge", "edge", "18":
		return NNFaceEdge, nil
	case "face-edge-vertex", "vertex", "26":
		return NNFaceEdgeVertex, nil
	}
	return NNFace, vdb.NewError(vdb.ValueError, "unknown neighbor connectivity %q", s)
}

// TilePolicy determines how active tiles take part in morphology.
type TilePolicy uint8

const (
	// IgnoreTiles grows and shrinks only leaf-resident voxels.  Active tiles
	// neither dilate nor erode, and no leaf is created inside one.
	IgnoreTiles TilePolicy = iota

	// ExpandTiles voxelizes every active tile first and leaves the result
	// voxelized.
	ExpandTiles

	// PreserveTiles voxelizes, applies the operation, then prunes constant
	// nodes back into tiles.
	PreserveTiles
)

func (p TilePolicy) String() string {
	switch p {
	case IgnoreTiles:
		return "ignore"
	case ExpandTiles:
		return "expand"
	case PreserveTiles:
		return "preserve"
	default:
		return "unknown tile policy"
	}
}

// ParseTilePolicy accepts "ignore", "expand" or "preserve".
func ParseTilePolicy(s string) (TilePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore", "ignore-tiles":
		return IgnoreTiles, nil
	case "expand", "expand-tiles":
		return ExpandTiles, nil
	case "preserve", "preserve-tiles":
		return PreserveTiles, nil
	}
	return IgnoreTiles, vdb.NewError(vdb.ValueError, "unknown tile policy %q", s)
}

// NeighborOffsets returns the stencil offsets for nn: 6 faces first, then 12
// edges, then 8 vertices.
func NeighborOffsets(nn NearestNeighbors) []tree.Coord {
	switch nn {
	case NNFace:
		return allOffsets[:6]
	case NNFaceEdge:
		return allOffsets[:18]
	default:
		return allOffsets[:]
	}
}

var allOffsets = func() (offs [26]tree.Coord) {
	n := 0
	for order := 1; order <= 3; order++ {
		for x := int32(-1); x <= 1; x++ {
			for y := int32(-1); y <= 1; y++ {
				for z := int32(-1); z <= 1; z++ {
					if abs32(x)+abs32(y)+abs32(z) == int32(order) {
						offs[n] = tree.Coord{X: x, Y: y, Z: z}
						n++
					}
				}
			}
		}
	}
	return
}()

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Neighborhood of a leaf: 27 slots indexed by the leaf-unit offset of the
// neighbor, (nx+1)*9 + (ny+1)*3 + (nz+1).  Slot 13 is the leaf itself.
const centerSlot = 13

func slotIndex(n tree.Coord) int {
	return int((n.X+1)*9 + (n.Y+1)*3 + (n.Z + 1))
}

func slotOffset(i int) tree.Coord {
	return tree.Coord{X: int32(i/9) - 1, Y: int32(i/3%3) - 1, Z: int32(i%3) - 1}
}

const (
	zLow  uint64 = 0x0101010101010101 // z == 0 in every row
	zHigh uint64 = 0x8080808080808080 // z == 7
	yLow  uint64 = 0x00000000000000FF // y == 0
	yHigh uint64 = 0xFF00000000000000 // y == 7
)

// shiftZ moves every bit of a mask word one step along z.  Bits that leave
// the leaf are returned in spill, already wrapped to the neighbor's z.
func shiftZ(w uint64, dz int32) (stay, spill uint64) {
	switch dz {
	case 1:
		return (w &^ zHigh) << 1, (w & zHigh) >> 7
	case -1:
		return (w &^ zLow) >> 1, (w & zLow) << 7
	}
	return w, 0
}

// shiftY is shiftZ for the y axis.
func shiftY(w uint64, dy int32) (stay, spill uint64) {
	switch dy {
	case 1:
		return (w &^ yHigh) << 8, (w & yHigh) >> 56
	case -1:
		return (w &^ yLow) >> 8, (w & yLow) << 56
	}
	return w, 0
}

// shiftToward translates m by d and returns the bits that land in the
// neighbor leaf n (in leaf units, each component in {0, d_i}).
func shiftToward(m *tree.Mask512, d, n tree.Coord) (res tree.Mask512) {
	for x := 0; x < tree.LeafDim; x++ {
		w := m[x]
		if w == 0 {
			continue
		}
		tx, nx := x+int(d.X), int32(0)
		if tx < 0 {
			tx, nx = tx+tree.LeafDim, -1
		} else if tx >= tree.LeafDim {
			tx, nx = tx-tree.LeafDim, 1
		}
		if nx != n.X {
			continue
		}
		stay, spill := shiftZ(w, d.Z)
		if n.Z != 0 {
			stay = spill
		}
		stay, spill = shiftY(stay, d.Y)
		if n.Y != 0 {
			stay = spill
		}
		res[tx] |= stay
	}
	return
}

// reaches returns true if a bit in the neighbor at r can land in the center
// leaf when moved by o.
func reaches(r, o tree.Coord) bool {
	for i := 0; i < 3; i++ {
		if ri := r.Get(i); ri != 0 && o.Get(i) != -ri {
			return false
		}
	}
	return true
}

// targets lists the neighbor slots a translation by o can write into.
func targets(o tree.Coord) []tree.Coord {
	out := []tree.Coord{{}}
	for i := 0; i < 3; i++ {
		if o.Get(i) == 0 {
			continue
		}
		for _, c := range out {
			c.Set(i, o.Get(i))
			out = append(out, c)
		}
	}
	return out
}

// stencil caches the per-connectivity tables used by a step.
type stencil struct {
	offsets []tree.Coord
	targets [][]tree.Coord
	sources []int // neighbor slots that can affect the center under erosion
}

func newStencil(nn NearestNeighbors) *stencil {
	s := &stencil{offsets: NeighborOffsets(nn)}
	for _, o := range s.offsets {
		s.targets = append(s.targets, targets(o))
	}
	for i := 0; i < 27; i++ {
		r := slotOffset(i)
		for _, o := range s.offsets {
			if i == centerSlot || reaches(r, o) {
				s.sources = append(s.sources, i)
				break
			}
		}
	}
	return s
}

// dilate returns the dilation of m split over the 27-leaf neighborhood.
func (s *stencil) dilate(m *tree.Mask512) (out [27]tree.Mask512) {
	out[centerSlot] = *m
	for i, o := range s.offsets {
		for _, n := range s.targets[i] {
			moved := shiftToward(m, o, n)
			out[slotIndex(n)].Or(&moved)
		}
	}
	return
}

// erode removes from m every voxel with an inactive neighbor.  off holds the
// inactive set of each neighbor slot.
func (s *stencil) erode(m tree.Mask512, off *[27]tree.Mask512) tree.Mask512 {
	var lost tree.Mask512
	for _, i := range s.sources {
		if off[i].IsEmpty() {
			continue
		}
		r := slotOffset(i)
		center := tree.Coord{X: -r.X, Y: -r.Y, Z: -r.Z}
		for _, o := range s.offsets {
			if i != centerSlot && !reaches(r, o) {
				continue
			}
			moved := shiftToward(&off[i], o, center)
			lost.Or(&moved)
		}
	}
	m.AndNot(&lost)
	return m
}

// Morphology dilates or erodes the active voxels of a tree one leaf at a time.
// Every step computes its masks from a snapshot taken before the step, so the
// result does not depend on leaf order or scheduling.
type Morphology[V tree.Value] struct {
	tree     *tree.Tree[V]
	threaded bool
	grain    int
}

// NewMorphology returns a threaded engine for t.
func NewMorphology[V tree.Value](t *tree.Tree[V]) *Morphology[V] {
	return &Morphology[V]{tree: t, threaded: true, grain: tree.DefaultGrainSize}
}

// SetThreaded toggles fanning the per-leaf work out across goroutines.
func (m *Morphology[V]) SetThreaded(on bool) { m.threaded = on }

// SetGrainSize sets the number of leaves handed to a goroutine.
func (m *Morphology[V]) SetGrainSize(n int) { m.grain = n }

func (m *Morphology[V]) parallel(ctx context.Context, n int, fn func(lo, hi int) error) error {
	if !m.threaded {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, n)
	}
	return tree.ParallelFor(ctx, n, m.grain, fn)
}

func checkArgs(iterations int, nn NearestNeighbors, policy TilePolicy) error {
	if iterations < 0 {
		return vdb.NewError(vdb.ValueError, "negative iteration count %d", iterations)
	}
	if nn > NNFaceEdgeVertex {
		return vdb.NewError(vdb.ValueError, "bad neighbor connectivity %d", nn)
	}
	if policy > PreserveTiles {
		return vdb.NewError(vdb.ValueError, "bad tile policy %d", policy)
	}
	return nil
}

func (m *Morphology[V]) run(ctx context.Context, name string, iterations int, nn NearestNeighbors, policy TilePolicy,
	step func(context.Context, *stencil) error) error {

	if err := checkArgs(iterations, nn, policy); err != nil {
		return err
	}
	if iterations == 0 {
		return nil
	}
	timedLog := vdb.NewTimeLog()
	if policy != IgnoreTiles {
		m.tree.VoxelizeActiveTiles()
	}
	st := newStencil(nn)
	for i := 0; i < iterations; i++ {
		if err := step(ctx, st); err != nil {
			return err
		}
	}
	if policy == PreserveTiles {
		var zero V
		m.tree.Prune(zero)
	}
	timedLog.Debugf("%s x%d (%s, %s tiles): %d leaves, %d active voxels", name, iterations, nn, policy,
		m.tree.LeafCount(), m.tree.ActiveVoxelCount())
	return nil
}

// Dilate grows the active region by iterations steps of the nn stencil.
func (m *Morphology[V]) Dilate(ctx context.Context, iterations int, nn NearestNeighbors, policy TilePolicy) error {
	return m.run(ctx, "dilate", iterations, nn, policy, m.dilateStep)
}

// Erode shrinks the active region by iterations steps of the nn stencil.
// Eroded voxels keep their values; use PruneInactive to drop emptied nodes.
func (m *Morphology[V]) Erode(ctx context.Context, iterations int, nn NearestNeighbors, policy TilePolicy) error {
	return m.run(ctx, "erode", iterations, nn, policy, m.erodeStep)
}

func (m *Morphology[V]) dilateStep(ctx context.Context, st *stencil) error {
	leaves := m.tree.Leaves()
	if len(leaves) == 0 {
		return nil
	}
	grown := make([][27]tree.Mask512, len(leaves))
	err := m.parallel(ctx, len(leaves), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			mask := leaves[i].ValueMask()
			if mask.IsEmpty() {
				continue
			}
			grown[i] = st.dilate(&mask)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Gather per target leaf first so each mask is written once.
	acc := tree.NewAccessor(m.tree)
	pending := make(map[*tree.LeafNode[V]]*tree.Mask512, len(leaves))
	var order []*tree.LeafNode[V]
	for i, leaf := range leaves {
		for slot := range grown[i] {
			bits := &grown[i][slot]
			if bits.IsEmpty() {
				continue
			}
			target := leaf
			if slot != centerSlot {
				origin := leaf.Origin().Add(slotOffset(slot).Scale(tree.LeafDim))
				if target = acc.ProbeLeaf(origin); target == nil {
					if acc.IsValueOn(origin) {
						continue
					}
					target = acc.TouchLeaf(origin)
				}
			}
			p, found := pending[target]
			if !found {
				p = new(tree.Mask512)
				pending[target] = p
				order = append(order, target)
			}
			p.Or(bits)
		}
	}
	for _, leaf := range order {
		mask := leaf.ValueMask()
		mask.Or(pending[leaf])
		leaf.SetValueMask(mask)
	}
	return nil
}

func (m *Morphology[V]) erodeStep(ctx context.Context, st *stencil) error {
	leaves := m.tree.Leaves()
	if len(leaves) == 0 {
		return nil
	}
	shrunk := make([]tree.Mask512, len(leaves))
	err := m.parallel(ctx, len(leaves), func(lo, hi int) error {
		acc := tree.NewAccessor(m.tree)
		var off [27]tree.Mask512
		for i := lo; i < hi; i++ {
			mask := leaves[i].ValueMask()
			shrunk[i] = mask
			if mask.IsEmpty() {
				continue
			}
			for _, slot := range st.sources {
				off[slot] = neighborOff(acc, leaves[i], slot)
			}
			shrunk[i] = st.erode(mask, &off)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Writes start only after every leaf has read its neighbors.
	return m.parallel(ctx, len(leaves), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if shrunk[i] != leaves[i].ValueMask() {
				leaves[i].SetValueMask(shrunk[i])
			}
		}
		return nil
	})
}

// neighborOff returns the inactive voxels of the leaf-sized region in the
// given slot around leaf.  Regions without a leaf take the active state of
// the tile or background covering them.
func neighborOff[V tree.Value](acc *tree.Accessor[V], leaf *tree.LeafNode[V], slot int) (off tree.Mask512) {
	src := leaf
	if slot != centerSlot {
		origin := leaf.Origin().Add(slotOffset(slot).Scale(tree.LeafDim))
		if src = acc.ProbeLeaf(origin); src == nil {
			if !acc.IsValueOn(origin) {
				off.Fill(true)
			}
			return
		}
	}
	off = src.ValueMask()
	off.Invert()
	return
}

// DilateActiveValues grows the active region of t; see Morphology.Dilate.
func DilateActiveValues[V tree.Value](ctx context.Context, t *tree.Tree[V], iterations int, nn NearestNeighbors, policy TilePolicy) error {
	return NewMorphology(t).Dilate(ctx, iterations, nn, policy)
}

// ErodeActiveValues shrinks the active region of t; see Morphology.Erode.
func ErodeActiveValues[V tree.Value](ctx context.Context, t *tree.Tree[V], iterations int, nn NearestNeighbors, policy TilePolicy) error {
	return NewMorphology(t).Erode(ctx, iterations, nn, policy)
}
