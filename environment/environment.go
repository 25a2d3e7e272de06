// environment implements the step/reset contract of the chase task in two variants: a pure
// simulation and one backed by cubes on a physical mat.
package environment

import (
	"context"
	"errors"
	"fmt"

	"gridchase/grid_world"
)

// ErrConnectivity is a failure to talk to the hardware: connect failures, move timeouts and
// first-report timeouts. Callers decide whether to abort or retry.
var ErrConnectivity = errors.New("connectivity error")

// Info is per-call metadata. The chase task never fills it, but the field is kept so that
// both variants share the shape of a gym-style environment.
type Info map[string]any

// StepResult is the outcome of one step. Terminated and Truncated are always false: the
// task is continuing, and only the target ever relocates.
type StepResult struct {
	Observation int
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        Info
}

// Snapshot is the logical state at a point in time, for rendering and visualization.
type Snapshot struct {
	Agent  grid_world.Cell
	Target grid_world.Cell
	Life   int
	Steps  int
}

// Environment is implemented by Simulated and Physical.
type Environment interface {
	Reset(ctx context.Context, opts ...ResetOption) (observation int, info Info, err error)
	Step(ctx context.Context, action grid_world.Action) (StepResult, error)
	Render() string
	Close() error
	Grid() grid_world.Grid
	Snapshot() Snapshot
}

// Config is shared by both variants.
type Config struct {
	Width      int                  `yaml:"width" mapstructure:"width"`
	Height     int                  `yaml:"height" mapstructure:"height"`
	Lives      grid_world.LifeRange `yaml:",inline" mapstructure:",squash"`
	GoalReward float64              `yaml:"goalReward" mapstructure:"goalReward"`
}

// DefaultConfig is the 7x5 workshop layout.
func DefaultConfig() Config {
	return Config{
		Width:      7,
		Height:     5,
		Lives:      grid_world.LifeRange{Min: 1, Max: 6},
		GoalReward: 1.0,
	}
}

func (cfg Config) validate() (grid_world.Grid, error) {
	grid, err := grid_world.NewGrid(cfg.Width, cfg.Height)
	if err != nil {
		return grid, err
	}
	if err = cfg.Lives.Validate(); err != nil {
		return grid, err
	}
	return grid, nil
}

type resetOptions struct {
	seed    uint64
	hasSeed bool
}

// ResetOption configures a call to Reset.
type ResetOption func(*resetOptions)

// WithSeed reseeds the environment's random source before resetting.
func WithSeed(seed uint64) ResetOption {
	return func(ro *resetOptions) {
		ro.seed, ro.hasSeed = seed, true
	}
}

func collectResetOptions(opts []ResetOption) (ro resetOptions) {
	for _, opt := range opts {
		opt(&ro)
	}
	return
}

func checkAction(action grid_world.Action) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %d", grid_world.ErrConfiguration, int(action))
	}
	return nil
}

func reward(agent, target grid_world.Cell, goalReward float64) float64 {
	if agent == target {
		return goalReward
	}
	return 0
}
