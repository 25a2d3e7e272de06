package grid_world

import "fmt"

// LifeRange is the half-open interval [Min, Max) from which target lifetimes are drawn.
type LifeRange struct {
	Min int `yaml:"lifeMin" mapstructure:"lifeMin"`
	Max int `yaml:"lifeMax" mapstructure:"lifeMax"`
}

// Validate requires a non-empty range of strictly positive lifetimes.
func (lr LifeRange) Validate() error {
	if lr.Min < 1 {
		return fmt.Errorf("%w: target life must be at least 1, got %d", ErrConfiguration, lr.Min)
	}
	if lr.Max <= lr.Min {
		return fmt.Errorf("%w: empty target life range [%d,%d)", ErrConfiguration, lr.Min, lr.Max)
	}
	return nil
}

// Target owns the target cell and its remaining life. Only Respawn and Place reset the life.
type Target struct {
	grid  Grid
	lives LifeRange
	rng   Rand
	cell  Cell
	life  int
}

// NewTarget returns a target with no life; callers Respawn or Place it before use.
func NewTarget(grid Grid, lives LifeRange, rng Rand) (*Target, error) {
	if err := lives.Validate(); err != nil {
		return nil, err
	}
	if grid.NumCells() < 3 {
		return nil, fmt.Errorf("%w: grid %dx%d too small for a target", ErrConfiguration, grid.Width, grid.Height)
	}
	return &Target{
		grid:  grid,
		lives: lives,
		rng:   rng,
	}, nil
}

// Cell is the current target cell.
func (t *Target) Cell() Cell {
	return t.cell
}

// Life is the remaining life.
func (t *Target) Life() int {
	return t.life
}

// SetRand swaps the random source, e.g. on a seeded reset.
func (t *Target) SetRand(rng Rand) {
	t.rng = rng
}

// Place forces the target to a cell and life, for scripted scenarios.
func (t *Target) Place(c Cell, life int) error {
	if !t.grid.Contains(c) {
		return fmt.Errorf("%w: target cell %v outside %dx%d grid", ErrConfiguration, c, t.grid.Width, t.grid.Height)
	}
	if life < 1 {
		return fmt.Errorf("%w: target life must be at least 1, got %d", ErrConfiguration, life)
	}
	t.cell, t.life = c, life
	return nil
}

// Respawn moves the target to a uniformly sampled cell outside exclude and draws a fresh
// lifetime from the life range.
func (t *Target) Respawn(exclude ...Cell) error {
	free := make([]Cell, 0, t.grid.NumCells())
	t.grid.Visit(func(c Cell) {
		for _, ex := range exclude {
			if c == ex {
				return
			}
		}
		free = append(free, c)
	})
	if len(free) == 0 {
		return fmt.Errorf("%w: no free cell to respawn the target, %d excluded", ErrConfiguration, len(exclude))
	}

	t.cell = free[t.rng.Intn(len(free))]
	t.life = t.lives.Min + t.rng.Intn(t.lives.Max-t.lives.Min)
	return nil
}

// Tick spends one unit of life and reports whether the life has run out.
func (t *Target) Tick() (expired bool) {
	if t.life > 0 {
		t.life--
	}
	return t.life <= 0
}
