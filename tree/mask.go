package tree

import "math/bits"

// Mask512 is a bitmask for the 512 voxels of a leaf node (8 x uint64).
// Word i holds the voxels with local x == i; bit (y<<3 | z) within the word.
type Mask512 [8]uint64

// SetOn sets bit i.
func (m *Mask512) SetOn(i int) {
	m[i>>6] |= 1 << (i & 63)
}

// SetOff clears bit i.
func (m *Mask512) SetOff(i int) {
	m[i>>6] &^= 1 << (i & 63)
}

// Set sets bit i to on.
func (m *Mask512) Set(i int, on bool) {
	if on {
		m.SetOn(i)
	} else {
		m.SetOff(i)
	}
}

// IsOn returns true if bit i is set.
func (m *Mask512) IsOn(i int) bool {
	return m[i>>6]&(1<<(i&63)) != 0
}

// CountOn returns the number of set bits.
func (m *Mask512) CountOn() int {
	count := 0
	for _, w := range m {
		count += bits.OnesCount64(w)
	}
	return count
}

// CountOff returns the number of cleared bits.
func (m *Mask512) CountOff() int {
	return LeafSize - m.CountOn()
}

// IsFull returns true if every bit is set.
func (m *Mask512) IsFull() bool {
	for _, w := range m {
		if w != ^uint64(0) {
			return false
		}
	}
	return true
}

// IsEmpty returns true if no bit is set.
func (m *Mask512) IsEmpty() bool {
	for _, w := range m {
		if w != 0 {
			return false
		}
	}
	return true
}

// Fill sets every bit to on.
func (m *Mask512) Fill(on bool) {
	var w uint64
	if on {
		w = ^uint64(0)
	}
	for i := range m {
		m[i] = w
	}
}

// Or sets m to m | o.
func (m *Mask512) Or(o *Mask512) {
	for i := range m {
		m[i] |= o[i]
	}
}

// And sets m to m & o.
func (m *Mask512) And(o *Mask512) {
	for i := range m {
		m[i] &= o[i]
	}
}

// AndNot sets m to m &^ o.
func (m *Mask512) AndNot(o *Mask512) {
	for i := range m {
		m[i] &^= o[i]
	}
}

// Xor sets m to m ^ o.
func (m *Mask512) Xor(o *Mask512) {
	for i := range m {
		m[i] ^= o[i]
	}
}

// Invert flips every bit.
func (m *Mask512) Invert() {
	for i := range m {
		m[i] = ^m[i]
	}
}

// FindNextOn returns the index of the first set bit at or after start, or
// LeafSize if there is none.
func (m *Mask512) FindNextOn(start int) int {
	for wi := start >> 6; wi < len(m); wi++ {
		w := m[wi]
		if wi == start>>6 {
			w &= ^uint64(0) << (start & 63)
		}
		if w != 0 {
			return wi<<6 | bits.TrailingZeros64(w)
		}
	}
	return LeafSize
}

// FindFirstOn returns the index of the first set bit or LeafSize.
func (m *Mask512) FindFirstOn() int {
	return m.FindNextOn(0)
}

// Mask is a bitset whose size is fixed at construction, used for the child
// and value masks of internal nodes.
type Mask struct {
	words []uint64
	size  int
}

// NewMask returns a cleared mask of n bits.
func NewMask(n int) Mask {
	return Mask{words: make([]uint64, (n+63)>>6), size: n}
}

// Size returns the number of bits.
func (m *Mask) Size() int {
	return m.size
}

// Words returns the backing words.  The last word's unused high bits are zero.
func (m *Mask) Words() []uint64 {
	return m.words
}

func (m *Mask) SetOn(i int) {
	m.words[i>>6] |= 1 << (i & 63)
}

func (m *Mask) SetOff(i int) {
	m.words[i>>6] &^= 1 << (i & 63)
}

func (m *Mask) Set(i int, on bool) {
	if on {
		m.SetOn(i)
	} else {
		m.SetOff(i)
	}
}

func (m *Mask) IsOn(i int) bool {
	return m.words[i>>6]&(1<<(i&63)) != 0
}

func (m *Mask) CountOn() int {
	count := 0
	for _, w := range m.words {
		count += bits.OnesCount64(w)
	}
	return count
}

func (m *Mask) IsEmpty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (m *Mask) IsFull() bool {
	return m.CountOn() == m.size
}

// Fill sets all bits to on.
func (m *Mask) Fill(on bool) {
	for i := range m.words {
		if on {
			m.words[i] = ^uint64(0)
		} else {
			m.words[i] = 0
		}
	}
	if on {
		m.trim()
	}
}

// Or sets m to m | o.  Both masks must have the same size.
func (m *Mask) Or(o *Mask) {
	for i := range m.words {
		m.words[i] |= o.words[i]
	}
}

// And sets m to m & o.
func (m *Mask) And(o *Mask) {
	for i := range m.words {
		m.words[i] &= o.words[i]
	}
}

// Xor sets m to m ^ o.
func (m *Mask) Xor(o *Mask) {
	for i := range m.words {
		m.words[i] ^= o.words[i]
	}
}

// Intersects returns true if m and o have a common set bit.
func (m *Mask) Intersects(o *Mask) bool {
	for i := range m.words {
		if m.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (m *Mask) Clone() Mask {
	w := make([]uint64, len(m.words))
	copy(w, m.words)
	return Mask{words: w, size: m.size}
}

// Equal returns true if both masks have the same size and bits.
func (m *Mask) Equal(o *Mask) bool {
	if m.size != o.size {
		return false
	}
	for i := range m.words {
		if m.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// FindNextOn returns the index of the first set bit at or after start, or Size().
func (m *Mask) FindNextOn(start int) int {
	if start >= m.size {
		return m.size
	}
	for wi := start >> 6; wi < len(m.words); wi++ {
		w := m.words[wi]
		if wi == start>>6 {
			w &= ^uint64(0) << (start & 63)
		}
		if w != 0 {
			return wi<<6 | bits.TrailingZeros64(w)
		}
	}
	return m.size
}

func (m *Mask) trim() {
	if extra := len(m.words)<<6 - m.size; extra > 0 {
		m.words[len(m.words)-1] >>= extra
	}
}
