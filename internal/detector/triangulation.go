package detector

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// TriangulationFile is the name of the mesh triangulation table inside the model directory.
const TriangulationFile = "facemesh_triangulation.json"

var (
	// ErrInvalidTriangulation is returned for tables that are not made of index triples.
	ErrInvalidTriangulation = errors.New("invalid triangulation table")
	// ErrTriangulationMismatch is returned when a mesh has fewer points than the table references.
	ErrTriangulationMismatch = errors.New("mesh does not match triangulation table")
)

// Triangulation is an immutable table of mesh point indices grouped in triples.
type Triangulation struct {
	indices []int
}

// NewTriangulation copies indices into a table. The length must be a multiple of three
// and every index non-negative.
func NewTriangulation(indices []int) (*Triangulation, error) {
	if len(indices)%3 != 0 {
		return nil, errors.Wrapf(ErrInvalidTriangulation, "length %d is not a multiple of 3", len(indices))
	}
	for i, idx := range indices {
		if idx < 0 {
			return nil, errors.Wrapf(ErrInvalidTriangulation, "negative index %d at %d", idx, i)
		}
	}

	table := make([]int, len(indices))
	copy(table, indices)
	return &Triangulation{indices: table}, nil
}

// LoadTriangulation reads a JSON array of integers.
func LoadTriangulation(path string) (*Triangulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read triangulation")
	}

	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return nil, errors.Wrap(err, "parse triangulation")
	}
	return NewTriangulation(indices)
}

// Triangles returns the number of triangles in the table.
func (t *Triangulation) Triangles() int {
	if t == nil {
		return 0
	}
	return len(t.indices) / 3
}

// Len returns the number of indices in the table.
func (t *Triangulation) Len() int {
	if t == nil {
		return 0
	}
	return len(t.indices)
}

// Triangle returns the three mesh point indices of triangle i.
func (t *Triangulation) Triangle(i int) [3]int {
	return [3]int{t.indices[i*3], t.indices[i*3+1], t.indices[i*3+2]}
}

// MaxIndex returns the largest point index referenced, or -1 for an empty table.
func (t *Triangulation) MaxIndex() int {
	maxIdx := -1
	if t == nil {
		return maxIdx
	}
	for _, idx := range t.indices {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	return maxIdx
}
