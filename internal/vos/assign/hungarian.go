package assign

import "math"

// forbiddenCost marks a cost entry the solver must never select.
const forbiddenCost = 1e18

func forbidden(v float32) bool { return v >= float32(forbiddenCost) }

// hungarian solves the rectangular assignment problem for an n×m cost
// matrix with the Kuhn–Munkres algorithm (Jonker–Volgenant potentials) in
// O(max(n,m)³). It returns rowToCol[i] = assigned column, or -1 when row i
// is left out because there are more rows than columns or every reachable
// column is forbidden.
//
// The matrix is padded to square with zeros. Forbidden entries are replaced
// by a penalty above any difference in finite cost, keeping every entry on
// the scale of the real costs. Row order decides ties.
func hungarian(cost [][]float32) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	rowToCol := make([]int, n)
	for i := range rowToCol {
		rowToCol[i] = -1
	}
	if m == 0 {
		return rowToCol
	}

	dim := max(n, m)
	c := squareCost(cost, dim)

	// 1-indexed internally; column 0 is the virtual start of each
	// augmenting path.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row matched to column j
	way := make([]int, dim+1)   // way[j] = previous column on the path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		row := p[j] - 1
		col := j - 1
		if row < 0 || row >= n || col >= m {
			continue
		}
		if forbidden(cost[row][col]) {
			continue
		}
		rowToCol[row] = col
	}
	return rowToCol
}

// squareCost copies cost into a dim×dim float64 matrix. Padding entries
// are 0 and forbidden entries become a penalty above every finite
// assignment.
func squareCost(cost [][]float32, dim int) [][]float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range cost {
		for _, v := range row {
			if !forbidden(v) {
				lo = math.Min(lo, float64(v))
				hi = math.Max(hi, float64(v))
			}
		}
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 0
	}
	penalty := math.Max(hi, 0) + (hi-lo+1)*float64(dim+1)

	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i >= len(cost) || j >= len(cost[i]) {
				continue
			}
			if forbidden(cost[i][j]) {
				c[i][j] = penalty
			} else {
				c[i][j] = float64(cost[i][j])
			}
		}
	}
	return c
}
