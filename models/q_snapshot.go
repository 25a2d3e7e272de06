// models holds the data model published from the learning loops to the views.
package models

import (
	"gridchase/grid_world"

	"gonum.org/v1/gonum/mat"
)

// QSnapshot is a Q-table plus the environment geometry and positions it is viewed against.
// Table is owned by the snapshot: publishers must pass a copy, never the agent's live table.
type QSnapshot struct {
	Table  *mat.Dense
	Grid   grid_world.Grid
	Agent  grid_world.Cell
	Target grid_world.Cell
	Step   int
}

// Row returns the action values of the agent standing on cell, with the target where it
// currently is.
func (qs QSnapshot) Row(cell grid_world.Cell) []float64 {
	state := qs.Grid.Encode(cell, qs.Target)
	return mat.Row(nil, state, qs.Table)
}

// Bounds returns the smallest and largest value of the whole table.
func (qs QSnapshot) Bounds() (lo, hi float64) {
	return mat.Min(qs.Table), mat.Max(qs.Table)
}

// Valid reports whether the table shape matches the grid.
func (qs QSnapshot) Valid() bool {
	if qs.Table == nil {
		return false
	}
	r, c := qs.Table.Dims()
	return r == qs.Grid.NumStates() && c == grid_world.NumActions
}

// Empty is an all-zero snapshot of the grid, used before the first publication.
func Empty(grid grid_world.Grid) QSnapshot {
	return QSnapshot{
		Table: mat.NewDense(grid.NumStates(), grid_world.NumActions, nil),
		Grid:  grid,
	}
}
