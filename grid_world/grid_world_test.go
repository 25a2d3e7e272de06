package grid_world

import (
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// scriptedRand returns queued values from Intn, for forcing respawn choices.
type scriptedRand struct {
	ints []int
}

func (sr *scriptedRand) Intn(n int) int {
	if len(sr.ints) == 0 {
		return 0
	}
	v := sr.ints[0]
	sr.ints = sr.ints[1:]
	return v % n
}

func (sr *scriptedRand) Float64() float64 { return 0 }

func TestGrid(t *testing.T) {
	Convey("When encoding states", t, func() {
		Convey("Decode inverts Encode for every cell pair", func() {
			for _, dims := range [][2]int{{7, 5}, {1, 3}, {3, 1}, {4, 4}} {
				grid, err := NewGrid(dims[0], dims[1])
				So(err, ShouldBeNil)
				seen := map[int]bool{}
				for _, agent := range grid.Cells() {
					for _, target := range grid.Cells() {
						state := grid.Encode(agent, target)
						So(state, ShouldBeBetweenOrEqual, 0, grid.NumStates()-1)
						So(seen[state], ShouldBeFalse)
						seen[state] = true
						a, tg := grid.Decode(state)
						So(a, ShouldResemble, agent)
						So(tg, ShouldResemble, target)
					}
				}
				So(len(seen), ShouldEqual, grid.NumStates())
			}
		})

		Convey("The agent index is the major component", func() {
			grid, _ := NewGrid(7, 5)
			So(grid.Encode(Cell{1, 0}, Cell{0, 0}), ShouldEqual, 35)
			So(grid.Encode(Cell{0, 0}, Cell{6, 4}), ShouldEqual, 34)
		})
	})

	Convey("When moving", t, func() {
		grid, _ := NewGrid(7, 5)

		Convey("Moves never leave the grid", func() {
			for _, c := range grid.Cells() {
				for _, a := range Actions {
					So(grid.Contains(grid.Move(c, a)), ShouldBeTrue)
				}
			}
		})

		Convey("Moves into a wall are absorbed", func() {
			So(grid.Move(Cell{0, 0}, Up), ShouldResemble, Cell{0, 0})
			So(grid.Move(Cell{0, 0}, Left), ShouldResemble, Cell{0, 0})
			So(grid.Move(Cell{6, 4}, Right), ShouldResemble, Cell{6, 4})
			So(grid.Move(Cell{6, 4}, Down), ShouldResemble, Cell{6, 4})
		})

		Convey("Interior moves follow the unit vectors", func() {
			c := Cell{3, 2}
			So(grid.Move(c, Up), ShouldResemble, Cell{3, 1})
			So(grid.Move(c, Down), ShouldResemble, Cell{3, 3})
			So(grid.Move(c, Left), ShouldResemble, Cell{2, 2})
			So(grid.Move(c, Right), ShouldResemble, Cell{4, 2})
		})
	})

	Convey("When constructing grids", t, func() {
		_, err := NewGrid(0, 5)
		So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		_, err = NewGrid(1, 2)
		So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
	})

	Convey("When rendering", t, func() {
		grid, _ := NewGrid(3, 3)
		out := grid.Render(Cell{0, 0}, Cell{2, 1}, 4)
		lines := strings.Split(out, "\n")
		So(lines[0], ShouldEqual, "A . .")
		So(lines[1], ShouldEqual, ". . T")
		So(lines[3], ShouldContainSubstring, "Life: 4")
		So(grid.Render(Cell{1, 1}, Cell{1, 1}, 1), ShouldStartWith, ". . .\n. * .")
	})
}

func TestTarget(t *testing.T) {
	Convey("When respawning a target", t, func() {
		grid, _ := NewGrid(7, 5)
		lives := LifeRange{Min: 3, Max: 6}
		target, err := NewTarget(grid, lives, NewRand(42))
		So(err, ShouldBeNil)

		Convey("The excluded cells are never chosen and life stays in range", func() {
			exclude := []Cell{{0, 0}, {6, 4}, {3, 2}}
			for i := 0; i < 2000; i++ {
				So(target.Respawn(exclude...), ShouldBeNil)
				So(exclude, ShouldNotContain, target.Cell())
				So(target.Life(), ShouldBeBetweenOrEqual, lives.Min, lives.Max-1)
			}
		})

		Convey("Both ends of the half-open range are respected", func() {
			lifes := map[int]int{}
			for i := 0; i < 2000; i++ {
				_ = target.Respawn(Cell{0, 0})
				lifes[target.Life()]++
			}
			So(lifes[lives.Min], ShouldBeGreaterThan, 0)
			So(lifes[lives.Max], ShouldEqual, 0)
		})

		Convey("Excluding every cell is a configuration error", func() {
			err := target.Respawn(grid.Cells()...)
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})

		Convey("A scripted source picks from the free cells in row-major order", func() {
			target.SetRand(&scriptedRand{ints: []int{0, 0}})
			So(target.Respawn(Cell{0, 0}), ShouldBeNil)
			So(target.Cell(), ShouldResemble, Cell{1, 0})
			So(target.Life(), ShouldEqual, lives.Min)
		})
	})

	Convey("When ticking a target", t, func() {
		grid, _ := NewGrid(7, 5)
		target, _ := NewTarget(grid, LifeRange{Min: 1, Max: 2}, NewRand(1))
		So(target.Place(Cell{6, 4}, 2), ShouldBeNil)
		So(target.Tick(), ShouldBeFalse)
		So(target.Life(), ShouldEqual, 1)
		So(target.Tick(), ShouldBeTrue)
		So(target.Life(), ShouldEqual, 0)
		So(target.Tick(), ShouldBeTrue)
		So(target.Life(), ShouldEqual, 0)
	})

	Convey("When the life range is invalid", t, func() {
		grid, _ := NewGrid(7, 5)
		_, err := NewTarget(grid, LifeRange{Min: 0, Max: 3}, NewRand(1))
		So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		_, err = NewTarget(grid, LifeRange{Min: 4, Max: 4}, NewRand(1))
		So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
	})
}
