// Package overlap scores how well two labelled mask sets agree.
package overlap

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/clipstitch/internal/vos/mask"
)

// Matrix holds the IoU between every foreground id of a current mask set
// (rows) and of a reference mask set (columns). Background never appears.
type Matrix struct {
	RowIDs []int32 // current ids, ascending
	ColIDs []int32 // reference ids, ascending

	// iou is nil when either side has no foreground ids, since gonum
	// does not allow zero-sized dense matrices.
	iou *mat.Dense
}

// Rows returns the number of current ids.
func (m *Matrix) Rows() int { return len(m.RowIDs) }

// Cols returns the number of reference ids.
func (m *Matrix) Cols() int { return len(m.ColIDs) }

// IoU returns the IoU of row i and column j.
func (m *Matrix) IoU(i, j int) float64 {
	return m.iou.At(i, j)
}

// Dense exposes the underlying matrix, or nil for an empty score.
func (m *Matrix) Dense() *mat.Dense { return m.iou }

// Cost returns 1 − IoU as a row-major float32 matrix for the solver.
// With no reference ids every row is empty.
func (m *Matrix) Cost() [][]float32 {
	cost := make([][]float32, m.Rows())
	for i := range cost {
		cost[i] = make([]float32, m.Cols())
		for j := range cost[i] {
			cost[i][j] = float32(1 - m.iou.At(i, j))
		}
	}
	return cost
}

// Score computes the IoU matrix between curr and ref, which must cover the
// same number of pixels on the same frame geometry.
//
// For row id c and column id r, I counts pixels labelled c in curr and r in
// ref, and U = |curr == c| + |ref == r| − I. A zero union scores 0.
func Score(curr, ref *mask.Volume) (*Matrix, error) {
	if !curr.SameGeometry(ref) || len(curr.Data) != len(ref.Data) {
		return nil, fmt.Errorf("score %d×%d×%d against %d×%d×%d: %w",
			curr.T, curr.H, curr.W, ref.T, ref.H, ref.W, mask.ErrGeometryMismatch)
	}

	m := &Matrix{RowIDs: curr.IDs(), ColIDs: ref.IDs()}
	rows, cols := m.Rows(), m.Cols()
	if rows == 0 || cols == 0 {
		return m, nil
	}

	rowIdx := indexOf(m.RowIDs)
	colIdx := indexOf(m.ColIDs)
	rowCount := make([]float64, rows)
	colCount := make([]float64, cols)
	inter := make([]float64, rows*cols)

	for p, c := range curr.Data {
		r := ref.Data[p]
		i, okC := rowIdx[c]
		j, okR := colIdx[r]
		if okC {
			rowCount[i]++
		}
		if okR {
			colCount[j]++
		}
		if okC && okR {
			inter[i*cols+j]++
		}
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			in := inter[i*cols+j]
			union := rowCount[i] + colCount[j] - in
			if union > 0 {
				inter[i*cols+j] = in / union
			} else {
				inter[i*cols+j] = 0
			}
		}
	}
	m.iou = mat.NewDense(rows, cols, inter)
	return m, nil
}

// MaskIoU returns the IoU of two binary masks stored as pixel-index bitmaps.
// Two empty masks score 0.
func MaskIoU(a, b *roaring.Bitmap) float64 {
	union := a.OrCardinality(b)
	if union == 0 {
		return 0
	}
	return float64(a.AndCardinality(b)) / float64(union)
}

func indexOf(ids []int32) map[int32]int {
	idx := make(map[int32]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	return idx
}
