package chunk

// Bitmap records, per chunk index, whether the slot was filled. It carries
// no payload, so its size only depends on the chunk count.
type Bitmap []bool

func Snapshot(t *Table) Bitmap {
	b := make(Bitmap, t.Count())
	for i := range b {
		b[i] = t.Get(i) != nil
	}
	return b
}

func (b Bitmap) Indices() []int {
	var indices []int
	for i, set := range b {
		if set {
			indices = append(indices, i)
		}
	}
	return indices
}

func (b Bitmap) Equal(other Bitmap) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i] != other[i] {
			return false
		}
	}
	return true
}
