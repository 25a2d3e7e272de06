package environment

import (
	"context"
	"fmt"

	"gridchase/grid_world"
)

// Simulated is the offline environment: the agent moves instantly and the target lives on
// a virtual lifecycle.
type Simulated struct {
	grid       grid_world.Grid
	goalReward float64
	rng        grid_world.Rand

	agent  grid_world.Cell
	target *grid_world.Target
	steps  int
}

var _ Environment = (*Simulated)(nil)

// NewSimulated validates the config. Reset must be called before Step.
func NewSimulated(cfg Config, rng grid_world.Rand) (*Simulated, error) {
	grid, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	target, err := grid_world.NewTarget(grid, cfg.Lives, rng)
	if err != nil {
		return nil, err
	}

	return &Simulated{
		grid:       grid,
		goalReward: cfg.GoalReward,
		rng:        rng,
		target:     target,
	}, nil
}

func (sim *Simulated) Grid() grid_world.Grid {
	return sim.grid
}

// Reset samples a fresh agent cell and respawns the target away from it.
func (sim *Simulated) Reset(_ context.Context, opts ...ResetOption) (int, Info, error) {
	if ro := collectResetOptions(opts); ro.hasSeed {
		sim.rng = grid_world.NewRand(ro.seed)
		sim.target.SetRand(sim.rng)
	}

	sim.steps = 0
	sim.agent = grid_world.Cell{
		X: sim.rng.Intn(sim.grid.Width),
		Y: sim.rng.Intn(sim.grid.Height),
	}
	if err := sim.target.Respawn(sim.agent); err != nil {
		return 0, nil, err
	}
	return sim.observation(), Info{}, nil
}

// Step moves the agent, spends one unit of target life, and respawns the target when its
// life runs out or the agent reaches it. The reward reflects the cell before any respawn.
func (sim *Simulated) Step(_ context.Context, action grid_world.Action) (StepResult, error) {
	if err := checkAction(action); err != nil {
		return StepResult{}, err
	}

	sim.steps++
	expired := sim.target.Tick()
	sim.agent = sim.grid.Move(sim.agent, action)

	reached := sim.agent == sim.target.Cell()
	result := StepResult{
		Reward: reward(sim.agent, sim.target.Cell(), sim.goalReward),
		Info:   Info{},
	}

	if expired || reached {
		if err := sim.target.Respawn(sim.agent, sim.target.Cell()); err != nil {
			return StepResult{}, err
		}
	}

	result.Observation = sim.observation()
	return result, nil
}

// PlaceAgent forces the agent cell, for scripted scenarios.
func (sim *Simulated) PlaceAgent(c grid_world.Cell) error {
	if !sim.grid.Contains(c) {
		return fmt.Errorf("%w: agent cell %v outside the grid", grid_world.ErrConfiguration, c)
	}
	sim.agent = c
	return nil
}

// PlaceTarget forces the target cell and its remaining life, for scripted scenarios.
func (sim *Simulated) PlaceTarget(c grid_world.Cell, life int) error {
	return sim.target.Place(c, life)
}

// Observation is the encoded current state.
func (sim *Simulated) Observation() int {
	return sim.observation()
}

func (sim *Simulated) observation() int {
	return sim.grid.Encode(sim.agent, sim.target.Cell())
}

func (sim *Simulated) Snapshot() Snapshot {
	return Snapshot{
		Agent:  sim.agent,
		Target: sim.target.Cell(),
		Life:   sim.target.Life(),
		Steps:  sim.steps,
	}
}

func (sim *Simulated) Render() string {
	return sim.grid.Render(sim.agent, sim.target.Cell(), sim.target.Life())
}

// Close is a no-op; there is nothing to release.
func (sim *Simulated) Close() error {
	return nil
}
