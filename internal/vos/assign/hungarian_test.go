package assign

import (
	"testing"
)

func TestHungarian_Empty(t *testing.T) {
	if result := hungarian(nil); result != nil {
		t.Errorf("expected nil for empty cost matrix, got %v", result)
	}
}

func TestHungarian_NoColumns(t *testing.T) {
	result := hungarian([][]float32{{}, {}})
	if len(result) != 2 || result[0] != -1 || result[1] != -1 {
		t.Errorf("expected [-1 -1], got %v", result)
	}
}

func TestHungarian_SingleElement(t *testing.T) {
	result := hungarian([][]float32{{5.0}})
	if len(result) != 1 || result[0] != 0 {
		t.Errorf("expected [0], got %v", result)
	}
}

func TestHungarian_SquareOptimal(t *testing.T) {
	// Classic 3x3 assignment problem:
	//   [1 2 3]     Optimal: row0→col0 (1), row1→col1 (4), row2→col2 (5) = 10
	//   [4 4 6]     NOT: row0→col0 (1), row1→col2 (6), row2→col1 (8) = 15
	//   [9 8 5]
	cost := [][]float32{
		{1, 2, 3},
		{4, 4, 6},
		{9, 8, 5},
	}
	result := hungarian(cost)
	if len(result) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(result))
	}

	total := float32(0)
	for i, j := range result {
		if j < 0 {
			t.Errorf("row %d unassigned", i)
			continue
		}
		total += cost[i][j]
	}
	if total != 10.0 {
		t.Errorf("expected optimal cost 10, got %v (assignments: %v)", total, result)
	}
}

func TestHungarian_BeatsGreedy(t *testing.T) {
	// Greedy on row 0 would take col 0 (0.1) and force row 1 onto col 1 (0.9).
	cost := [][]float32{
		{0.1, 0.2},
		{0.15, 0.9},
	}
	result := hungarian(cost)
	if result[0] != 1 || result[1] != 0 {
		t.Errorf("expected [1 0], got %v", result)
	}
}

func TestHungarian_Forbidden(t *testing.T) {
	cost := [][]float32{
		{1, 2},
		{float32(forbiddenCost), float32(forbiddenCost)},
	}
	result := hungarian(cost)
	if result[0] < 0 {
		t.Errorf("row 0 should be assigned, got %d", result[0])
	}
	if result[1] != -1 {
		t.Errorf("row 1 should be unassigned (-1), got %d", result[1])
	}
}

func TestHungarian_MoreRowsThanCols(t *testing.T) {
	cost := [][]float32{
		{1, 10},
		{10, 1},
		{5, 5},
	}
	result := hungarian(cost)

	if result[0] != 0 || result[1] != 1 {
		t.Errorf("expected rows 0,1 on cols 0,1, got %v", result)
	}
	if result[2] != -1 {
		t.Errorf("row 2 should be unassigned, got %d", result[2])
	}
}

func TestHungarian_MoreColsThanRows(t *testing.T) {
	cost := [][]float32{
		{3, 1, 2},
	}
	result := hungarian(cost)
	if len(result) != 1 || result[0] != 1 {
		t.Errorf("expected [1], got %v", result)
	}
}

func TestHungarian_PaddedRowsKeepOptimum(t *testing.T) {
	// Two current ids against four reference ids: the padded rows must not
	// shuffle the zero-cost matches.
	cost := [][]float32{
		{0, 1, 1, 1},
		{1, 0, 1, 1},
	}
	result := hungarian(cost)
	if len(result) != 2 || result[0] != 0 || result[1] != 1 {
		t.Errorf("expected [0 1], got %v", result)
	}
}

func TestHungarian_ForbiddenWithExtraColumns(t *testing.T) {
	cost := [][]float32{
		{float32(forbiddenCost), 0.5, 0.9},
		{0.2, float32(forbiddenCost), float32(forbiddenCost)},
	}
	result := hungarian(cost)
	if result[0] != 1 || result[1] != 0 {
		t.Errorf("expected [1 0], got %v", result)
	}
}
