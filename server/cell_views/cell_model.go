// cell_views contains views derived from the Cell view-model.
package cell_views

import (
	"fmt"
	"math"

	"gridchase/grid_world"
	"gridchase/models"
)

// Cell is one grid cell as seen by the views: the action values of the agent standing on it,
// given the current target, plus everything needed to draw it.
// As a rule of thumb, Cell fields should be immediately usable as view parameters.
type Cell struct {
	X, Y int
	// Q holds the values indexed by action ordinal: up, down, left, right.
	Q [grid_world.NumActions]float64
	// Fills are the triangle colors, in the same order as Q.
	Fills [grid_world.NumActions]string
	// Max is the best action value; the value surface plots it as height.
	Max float64
	// Frame is the border color: agent, target or plain.
	Frame string
}

const (
	agentFrame  = "blue"
	targetFrame = "red"
	plainFrame  = "black"
)

// Convert transforms a snapshot into a [x][y] matrix of Cells. Colors are normalized to the
// whole table's current range, low values green and high values red.
func Convert(snap models.QSnapshot) (cells [][]Cell) {
	grid := snap.Grid
	lo, hi := snap.Bounds()

	cells = make([][]Cell, grid.Width)
	for x := range cells {
		cells[x] = make([]Cell, grid.Height)
	}

	grid.Visit(func(c grid_world.Cell) {
		cell := Cell{X: c.X, Y: c.Y, Max: -math.MaxFloat64, Frame: plainFrame}
		for a, q := range snap.Row(c) {
			cell.Q[a] = q
			cell.Fills[a] = getFill(q, lo, hi)
			cell.Max = math.Max(cell.Max, q)
		}
		switch c {
		case snap.Agent:
			cell.Frame = agentFrame
		case snap.Target:
			cell.Frame = targetFrame
		}
		cells[c.X][c.Y] = cell
	})
	return
}

// getFill maps val onto a green-yellow-red scale between lo and hi. A flat table is all green.
func getFill(val, lo, hi float64) string {
	t := 0.0
	if hi > lo {
		t = (val - lo) / (hi - lo)
	}
	t = math.Max(0, math.Min(1, t))

	r, g := 255.0, 255.0
	if t < 0.5 {
		r = 255 * 2 * t
	} else {
		g = 255 * 2 * (1 - t)
	}
	return fmt.Sprintf("rgb(%d,%d,0)", int(math.Round(r)), int(math.Round(g)))
}
