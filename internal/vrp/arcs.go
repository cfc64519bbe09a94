package vrp

// Forbidden marks an arc that the exact model may not use.
const Forbidden = -1

// ArcMatrix is a per-vehicle pruned distance matrix: every entry is either
// Forbidden or the canonical distance of a permitted arc.
type ArcMatrix struct {
	n     int
	cells []int
}

// NewArcMatrix returns an n x n matrix with a zero diagonal and every other arc forbidden.
func NewArcMatrix(n int) *ArcMatrix {
	m := &ArcMatrix{n: n, cells: make([]int, n*n)}
	for i := range m.cells {
		m.cells[i] = Forbidden
	}
	for i := 0; i < n; i++ {
		m.cells[i*n+i] = 0
	}
	return m
}

func (m *ArcMatrix) Size() int { return m.n }

func (m *ArcMatrix) At(i, j int) int { return m.cells[i*m.n+j] }

// Permit opens the arc i->j and j->i with the given distance.
func (m *ArcMatrix) Permit(i, j, d int) {
	m.cells[i*m.n+j] = d
	m.cells[j*m.n+i] = d
}

// Permitted reports whether i->j is a usable arc between distinct nodes.
func (m *ArcMatrix) Permitted(i, j int) bool {
	return i != j && m.cells[i*m.n+j] != Forbidden
}

// Arcs counts permitted off-diagonal arcs.
func (m *ArcMatrix) Arcs() int {
	n := 0
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			if m.Permitted(i, j) {
				n++
			}
		}
	}
	return n
}

// DepotLinked reports whether the depot has at least one permitted arc.
func (m *ArcMatrix) DepotLinked() bool {
	for j := 1; j < m.n; j++ {
		if m.Permitted(0, j) {
			return true
		}
	}
	return false
}
