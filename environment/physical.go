package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gridchase/atomic_cell"
	"gridchase/grid_world"
	"gridchase/robot"
)

// PhysicalConfig extends Config with the hardware parameters.
type PhysicalConfig struct {
	Config `yaml:",inline" mapstructure:",squash"`
	// OffsetX, OffsetY translate mat cells (origin at the mat center) to grid cells.
	// Both zero selects the centered layout, width/2 and height/2.
	OffsetX int `yaml:"offsetX" mapstructure:"offsetX"`
	OffsetY int `yaml:"offsetY" mapstructure:"offsetY"`
	// Speed is passed through to every move command.
	Speed int `yaml:"speed" mapstructure:"speed"`
	// CommandTimeout bounds connect, move and disconnect acknowledgments.
	CommandTimeout time.Duration `yaml:"commandTimeout" mapstructure:"commandTimeout"`
	// ReportTimeout bounds the wait for the first position report on reset.
	ReportTimeout time.Duration     `yaml:"reportTimeout" mapstructure:"reportTimeout"`
	Mat           robot.MatGeometry `yaml:"mat" mapstructure:"mat"`
}

// DefaultPhysicalConfig matches the workshop mat and cube settings.
func DefaultPhysicalConfig() PhysicalConfig {
	return PhysicalConfig{
		Config:         DefaultConfig(),
		OffsetX:        3,
		OffsetY:        2,
		Speed:          100,
		CommandTimeout: time.Second,
		ReportTimeout:  5 * time.Second,
		Mat:            robot.DefaultMat,
	}
}

// firstReport is closed by the handler when a session's first decodable report arrives.
type firstReport struct {
	once sync.Once
	ch   chan struct{}
}

func (fr *firstReport) signal() {
	fr.once.Do(func() { close(fr.ch) })
}

// tracked is one cube and its last known grid cell. The cube's notification handler is the
// only writer of cell; the stepping routine only reads it.
type tracked struct {
	role  string
	cube  robot.Driver
	cell  *atomic_cell.AtomicCell
	first atomic.Pointer[firstReport]
}

// Physical drives an agent cube over the mat. Positions are not updated by Step: they arrive
// asynchronously from the cubes, so an observation may lag the last command by a step or more.
//
// Without a target cube the target is virtual and respawns like the simulated one. With a
// target cube a person moves the target, and it never respawns on its own.
type Physical struct {
	cfg  PhysicalConfig
	grid grid_world.Grid
	rng  grid_world.Rand

	agent   *tracked
	target  *tracked
	virtual *grid_world.Target
	steps   int

	closeOnce sync.Once
	closeErr  error
}

var _ Environment = (*Physical)(nil)

// NewPhysical binds the environment to its cubes. targetCube may be nil for a virtual target.
func NewPhysical(
	cfg PhysicalConfig,
	agentCube robot.Driver,
	targetCube robot.Driver,
	rng grid_world.Rand,
) (*Physical, error) {
	grid, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if agentCube == nil {
		return nil, fmt.Errorf("%w: an agent cube is required", grid_world.ErrConfiguration)
	}
	if cfg.OffsetX == 0 && cfg.OffsetY == 0 {
		cfg.OffsetX, cfg.OffsetY = grid.Width/2, grid.Height/2
	}
	if cfg.Speed <= 0 || cfg.CommandTimeout <= 0 || cfg.ReportTimeout <= 0 {
		return nil, fmt.Errorf("%w: speed and timeouts must be positive", grid_world.ErrConfiguration)
	}
	if cfg.Mat.CellSize <= 0 {
		return nil, fmt.Errorf("%w: mat cell size must be positive", grid_world.ErrConfiguration)
	}

	env := &Physical{
		cfg:  cfg,
		grid: grid,
		rng:  rng,
		agent: &tracked{
			role: "agent",
			cube: agentCube,
			cell: atomic_cell.NewAtomicCell(grid_world.Cell{}),
		},
	}

	if targetCube != nil {
		env.target = &tracked{
			role: "target",
			cube: targetCube,
			cell: atomic_cell.NewAtomicCell(grid_world.Cell{}),
		}
	} else if env.virtual, err = grid_world.NewTarget(grid, cfg.Lives, rng); err != nil {
		return nil, err
	}

	return env, nil
}

func (env *Physical) Grid() grid_world.Grid {
	return env.grid
}

func (env *Physical) cubes() []*tracked {
	if env.target != nil {
		return []*tracked{env.agent, env.target}
	}
	return []*tracked{env.agent}
}

// toMat converts a grid cell to the mat cell addressed by move commands.
func (env *Physical) toMat(c grid_world.Cell) (x, y int) {
	return c.X - env.cfg.OffsetX, c.Y - env.cfg.OffsetY
}

func (env *Physical) fromMat(x, y int) grid_world.Cell {
	return grid_world.Cell{X: x + env.cfg.OffsetX, Y: y + env.cfg.OffsetY}
}

// Reset connects the cubes, installs their position handlers, and waits for a fresh report
// from each. A virtual target is then respawned away from the agent.
func (env *Physical) Reset(ctx context.Context, opts ...ResetOption) (int, Info, error) {
	if ro := collectResetOptions(opts); ro.hasSeed {
		env.rng = grid_world.NewRand(ro.seed)
		if env.virtual != nil {
			env.virtual.SetRand(env.rng)
		}
	}
	env.steps = 0

	for _, tr := range env.cubes() {
		if err := env.connect(ctx, tr); err != nil {
			return 0, nil, err
		}
	}
	for _, tr := range env.cubes() {
		if err := env.awaitFirstReport(ctx, tr); err != nil {
			return 0, nil, err
		}
	}

	if env.virtual != nil {
		agent, _ := env.agent.cell.AtomicRead()
		if err := env.virtual.Respawn(agent); err != nil {
			return 0, nil, err
		}
	}

	return env.observation(), Info{}, nil
}

func (env *Physical) connect(ctx context.Context, tr *tracked) error {
	cctx, cancel := context.WithTimeout(ctx, env.cfg.CommandTimeout)
	defer cancel()

	if err := tr.cube.Connect(cctx); err != nil {
		// release whatever half-open link the driver may hold
		_ = tr.cube.Disconnect(context.Background())
		return fmt.Errorf("%w: cannot connect to %s cube %q: %v", ErrConnectivity, tr.role, tr.cube.Name(), err)
	}

	fr := &firstReport{ch: make(chan struct{})}
	tr.cell.Forget()
	tr.first.Store(fr)

	if err := tr.cube.RegisterPositionHandler(cctx, env.handler(tr)); err != nil {
		return fmt.Errorf("%w: cannot register %s cube %q: %v", ErrConnectivity, tr.role, tr.cube.Name(), err)
	}
	return nil
}

func (env *Physical) awaitFirstReport(ctx context.Context, tr *tracked) error {
	fr := tr.first.Load()
	// a report may have landed between Forget and Store
	if _, known := tr.cell.AtomicRead(); known {
		fr.signal()
	}

	select {
	case <-fr.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(env.cfg.ReportTimeout):
		return fmt.Errorf("%w: no position from %s cube %q within %v", ErrConnectivity, tr.role, tr.cube.Name(), env.cfg.ReportTimeout)
	}
}

// handler decodes reports for one cube. Unreadable reports keep the last known cell and
// raise the stale flag; nothing here ever fails the stepping routine.
func (env *Physical) handler(tr *tracked) func(payload []byte) {
	return func(payload []byte) {
		report, err := robot.Decode(payload)
		if err != nil {
			if !tr.cell.MarkStale() {
				slog.Info("cannot read position, move the cube onto the mat",
					"entity", tr.role, "cube", tr.cube.Name(), "reason", err)
			}
			return
		}
		if report.Kind != robot.KindPosition {
			return
		}

		c := env.fromMat(env.cfg.Mat.CellOf(report.X, report.Y))
		if !env.grid.Contains(c) {
			if !tr.cell.MarkStale() {
				slog.Info("cube is outside the grid, move it back",
					"entity", tr.role, "cube", tr.cube.Name(), "cell", c)
			}
			return
		}

		if wasStale, _ := tr.cell.AtomicSet(c); wasStale {
			slog.Info("position restored", "entity", tr.role, "cube", tr.cube.Name(), "cell", c)
		}
		if fr := tr.first.Load(); fr != nil {
			fr.signal()
		}
	}
}

// Step issues a move toward the neighboring cell of the last known agent position and
// assumes it arrives. The observation and reward use whatever the cubes last reported.
func (env *Physical) Step(ctx context.Context, action grid_world.Action) (StepResult, error) {
	if err := checkAction(action); err != nil {
		return StepResult{}, err
	}

	env.steps++
	expired := false
	if env.virtual != nil {
		expired = env.virtual.Tick()
	}

	agent, _ := env.agent.cell.AtomicRead()
	if next := env.grid.Move(agent, action); next != agent {
		if err := env.move(ctx, next); err != nil {
			return StepResult{}, err
		}
	}

	agent, _ = env.agent.cell.AtomicRead()
	target := env.targetCell()
	reached := agent == target
	result := StepResult{
		Reward: reward(agent, target, env.cfg.GoalReward),
		Info:   Info{},
	}

	if env.virtual != nil && (expired || reached) {
		if err := env.virtual.Respawn(agent, target); err != nil {
			return StepResult{}, err
		}
	}

	result.Observation = env.observation()
	return result, nil
}

func (env *Physical) move(ctx context.Context, c grid_world.Cell) error {
	cctx, cancel := context.WithTimeout(ctx, env.cfg.CommandTimeout)
	defer cancel()

	x, y := env.toMat(c)
	err := env.agent.cube.MoveToCell(cctx, x, y, env.cfg.Speed)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: move to %v not acknowledged within %v", ErrConnectivity, c, env.cfg.CommandTimeout)
	}
	return fmt.Errorf("%w: move to %v: %v", ErrConnectivity, c, err)
}

func (env *Physical) targetCell() grid_world.Cell {
	if env.virtual != nil {
		return env.virtual.Cell()
	}
	c, _ := env.target.cell.AtomicRead()
	return c
}

func (env *Physical) observation() int {
	agent, _ := env.agent.cell.AtomicRead()
	return env.grid.Encode(agent, env.targetCell())
}

// Stale reports, per entity, whether its latest report could not be decoded.
func (env *Physical) Stale() map[string]bool {
	stale := map[string]bool{}
	for _, tr := range env.cubes() {
		stale[tr.role] = tr.cell.Stale()
	}
	return stale
}

func (env *Physical) Snapshot() Snapshot {
	agent, _ := env.agent.cell.AtomicRead()
	snap := Snapshot{
		Agent:  agent,
		Target: env.targetCell(),
		Steps:  env.steps,
	}
	if env.virtual != nil {
		snap.Life = env.virtual.Life()
	}
	return snap
}

func (env *Physical) Render() string {
	snap := env.Snapshot()
	out := env.grid.Render(snap.Agent, snap.Target, snap.Life)
	var stale []string
	for _, tr := range env.cubes() {
		if tr.cell.Stale() {
			stale = append(stale, tr.role)
		}
	}
	if len(stale) > 0 {
		out += "\nStale: " + strings.Join(stale, ", ")
	}
	return out
}

// Close disconnects every cube. Only the first call does any work; later calls return the
// same result.
func (env *Physical) Close() error {
	env.closeOnce.Do(func() {
		var errs []error
		for _, tr := range env.cubes() {
			ctx, cancel := context.WithTimeout(context.Background(), env.cfg.CommandTimeout)
			if err := tr.cube.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect %s cube %q: %w", tr.role, tr.cube.Name(), err))
			}
			cancel()
		}
		if err := errors.Join(errs...); err != nil {
			env.closeErr = fmt.Errorf("%w: %w", ErrConnectivity, err)
		}
	})
	return env.closeErr
}
