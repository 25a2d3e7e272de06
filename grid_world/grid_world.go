// grid_world contains the discrete model shared by the simulated and physical environments:
// cells, actions, the transition function, the (agent, target) state encoding, and the
// target lifecycle.
package grid_world

import (
	"errors"
	"fmt"
	"strings"
	"time"

	erand "golang.org/x/exp/rand"
)

// ErrConfiguration marks fatal mistakes in shapes, ranges, or parameters. These are never retried.
var ErrConfiguration = errors.New("configuration error")

// Cell is a grid position; (0,0) is the top left cell, x grows right and y grows down.
type Cell struct {
	X, Y int
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Action is one of the four unit moves. The ordinals are persisted as the column index
// of every saved Q-table, so they must never be reordered.
type Action int

const (
	Up Action = iota
	Down
	Left
	Right
)

// NumActions is the width of the action space.
const NumActions = 4

// Actions lists every action in ordinal order.
var Actions = [NumActions]Action{Up, Down, Left, Right}

var deltas = [NumActions]Cell{
	Up:    {X: 0, Y: -1},
	Down:  {X: 0, Y: 1},
	Left:  {X: -1, Y: 0},
	Right: {X: 1, Y: 0},
}

// Delta returns the unit vector of the action.
func (a Action) Delta() (dx, dy int) {
	d := deltas[a]
	return d.X, d.Y
}

// Valid reports whether the action is one of the four known ordinals.
func (a Action) Valid() bool {
	return a >= Up && a <= Right
}

func (a Action) String() string {
	switch a {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Rand is the random source used by every sampling component. Both golang.org/x/exp/rand
// and math/rand generators satisfy it, and tests substitute scripted sources.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// NewRand returns a seeded source. A zero seed draws one from the clock.
func NewRand(seed uint64) Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return erand.New(erand.NewSource(seed))
}

// Grid holds the bounds of the world. It is a value type and carries no mutable state.
type Grid struct {
	Width, Height int
}

// NewGrid validates the bounds. A grid needs at least three cells so that a target can
// always respawn away from both the agent and its previous cell.
func NewGrid(width, height int) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("%w: grid must be at least 1x1, got %dx%d", ErrConfiguration, width, height)
	}
	if width*height < 3 {
		return Grid{}, fmt.Errorf("%w: grid %dx%d leaves no free cell for the target", ErrConfiguration, width, height)
	}
	return Grid{Width: width, Height: height}, nil
}

// NumCells is the number of positions on the grid.
func (g Grid) NumCells() int {
	return g.Width * g.Height
}

// NumStates is the size of the observation space, one state per (agent, target) pair.
func (g Grid) NumStates() int {
	return g.NumCells() * g.NumCells()
}

// Contains reports whether the cell lies within [0,width) x [0,height).
func (g Grid) Contains(c Cell) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

// Index is the row-major index of the cell.
func (g Grid) Index(c Cell) int {
	return c.Y*g.Width + c.X
}

// CellAt inverts Index.
func (g Grid) CellAt(index int) Cell {
	return Cell{X: index % g.Width, Y: index / g.Width}
}

// Encode maps an (agent, target) pair to its observation index.
func (g Grid) Encode(agent, target Cell) int {
	return g.Index(agent)*g.NumCells() + g.Index(target)
}

// Decode inverts Encode.
func (g Grid) Decode(state int) (agent, target Cell) {
	n := g.NumCells()
	return g.CellAt(state / n), g.CellAt(state % n)
}

// Move shifts the cell one unit in the direction of the action. Moves that would leave the
// grid are absorbed and the cell is returned unchanged.
func (g Grid) Move(c Cell, a Action) Cell {
	dx, dy := a.Delta()
	next := Cell{X: c.X + dx, Y: c.Y + dy}
	if !g.Contains(next) {
		return c
	}
	return next
}

// Cells returns every cell in row-major order.
func (g Grid) Cells() []Cell {
	cells := make([]Cell, 0, g.NumCells())
	for i := 0; i < g.NumCells(); i++ {
		cells = append(cells, g.CellAt(i))
	}
	return cells
}

// Visit calls fn for every cell in row-major order.
func (g Grid) Visit(fn func(c Cell)) {
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			fn(Cell{X: x, Y: y})
		}
	}
}

// Render draws the grid as text: 'A' marks the agent, 'T' the target, '*' both.
func (g Grid) Render(agent, target Cell, life int) string {
	var sb strings.Builder
	for y := 0; y < g.Height; y++ {
		row := make([]string, 0, g.Width)
		for x := 0; x < g.Width; x++ {
			c := Cell{X: x, Y: y}
			switch {
			case c == agent && c == target:
				row = append(row, "*")
			case c == agent:
				row = append(row, "A")
			case c == target:
				row = append(row, "T")
			default:
				row = append(row, ".")
			}
		}
		sb.WriteString(strings.Join(row, " "))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Agent: %v  Target: %v  Life: %d", agent, target, life)
	return sb.String()
}
