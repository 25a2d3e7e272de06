package reinforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridchase/environment"
	"gridchase/grid_world"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"
)

// EvalRecord is one point of the learning curve: the reward summed over a greedy evaluation
// run after Step training steps.
type EvalRecord struct {
	Step      int
	RewardSum float64
	Elapsed   time.Duration
}

// Progress is what the loops lend to observers. Record is set when an evaluation completes;
// Table is set when a Q-table snapshot is published.
type Progress struct {
	Step     int
	EvalStep int
	Record   *EvalRecord
	Table    *mat.Dense
	Grid     grid_world.Grid
	Snapshot environment.Snapshot
	Reward   float64
}

// ProgressFunc is a callback by which the loops lend progress details, while exercising some
// level of control over its cancellation to prevent blocking.
// ProgressFunc is synchronous/blocking and should be defined to complete quickly.
type ProgressFunc func(context.Context, Progress)

func checkShape(agent *QAgent, envs ...environment.Environment) error {
	numStates, numActions := agent.Shape()
	if numActions != grid_world.NumActions {
		return fmt.Errorf("%w: agent has %d actions, the grid has %d",
			grid_world.ErrConfiguration, numActions, grid_world.NumActions)
	}
	for _, env := range envs {
		if n := env.Grid().NumStates(); n != numStates {
			return fmt.Errorf("%w: agent has %d states, environment has %d",
				grid_world.ErrConfiguration, numStates, n)
		}
	}
	return nil
}

// closer closes each environment at most once, however the loop ends.
type closer struct {
	once sync.Once
	envs []environment.Environment
	err  error
}

func (c *closer) close() error {
	c.once.Do(func() {
		var errs []error
		for _, env := range c.envs {
			if err := env.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}

// Train runs lc.Steps training steps, each exactly one select, step and update in that order.
// Every lc.EvalInterval steps, and at every plotting window, the greedy policy is evaluated for
// lc.EvalSteps steps on evalEnv with no learning. During a plotting window the first
// lc.PlotSteps evaluation steps publish a snapshot of the table.
//
// Train owns both environments and closes them before returning. The records collected so far
// are returned even when training fails or ctx is cancelled.
func Train(
	ctx context.Context,
	agent *QAgent,
	env environment.Environment,
	evalEnv environment.Environment,
	lc LoopConfig,
	progressFn ProgressFunc,
) (records []EvalRecord, err error) {
	cl := &closer{envs: []environment.Environment{env, evalEnv}}
	defer func() {
		err = errors.Join(err, cl.close())
	}()

	if err = lc.Validate(); err != nil {
		return nil, err
	}
	if err = checkShape(agent, env, evalEnv); err != nil {
		return nil, err
	}
	if progressFn == nil {
		progressFn = func(context.Context, Progress) {}
	}

	start := time.Now()
	state, _, err := env.Reset(ctx)
	if err != nil {
		return nil, err
	}
	progressFn(ctx, Progress{
		Table:    agent.Table(),
		Grid:     evalEnv.Grid(),
		Snapshot: env.Snapshot(),
	})

	for step := 1; step <= lc.Steps; step++ {
		if err = ctx.Err(); err != nil {
			return records, err
		}

		action := agent.SelectAction(state)
		result, err := env.Step(ctx, action)
		if err != nil {
			return records, err
		}
		agent.Update(state, action, result.Reward, result.Observation, result.Terminated || result.Truncated)
		state = result.Observation

		plotting := lc.PlotInterval > 0 && step%lc.PlotInterval == 0
		if step%lc.EvalInterval != 0 && !plotting {
			continue
		}

		plotSteps := 0
		if plotting {
			plotSteps = lc.PlotSteps
		}
		sum, err := evaluate(ctx, agent, evalEnv, step, lc.EvalSteps, plotSteps, progressFn)
		if err != nil {
			return records, err
		}

		record := EvalRecord{Step: step, RewardSum: sum, Elapsed: time.Since(start)}
		records = append(records, record)
		slog.Info("evaluation",
			"step", humanize.Comma(int64(step)),
			"rewardSum", sum,
			"elapsed", record.Elapsed.Round(time.Millisecond))
		progressFn(ctx, Progress{
			Step:     step,
			Record:   &record,
			Grid:     evalEnv.Grid(),
			Snapshot: evalEnv.Snapshot(),
		})
	}

	return records, nil
}

// evaluate sums the reward of a greedy run on a freshly reset environment.
func evaluate(
	ctx context.Context,
	agent *QAgent,
	env environment.Environment,
	step int,
	horizon int,
	plotSteps int,
	progressFn ProgressFunc,
) (sum float64, err error) {
	state, _, err := env.Reset(ctx)
	if err != nil {
		return 0, err
	}

	for evalStep := 1; evalStep <= horizon; evalStep++ {
		if err = ctx.Err(); err != nil {
			return sum, err
		}
		result, err := env.Step(ctx, agent.Greedy(state))
		if err != nil {
			return sum, err
		}
		state = result.Observation
		sum += result.Reward

		if evalStep < plotSteps {
			progressFn(ctx, Progress{
				Step:     step,
				EvalStep: evalStep,
				Table:    agent.Table(),
				Grid:     env.Grid(),
				Snapshot: env.Snapshot(),
				Reward:   result.Reward,
			})
		}
	}
	return sum, nil
}

// ExploitConfig bounds a greedy control run.
type ExploitConfig struct {
	// Steps is the number of control steps; zero runs until ctx is cancelled.
	Steps int
	// Pace is the pause after each step, giving the cubes and the viewer time to catch up.
	Pace time.Duration
}

// Exploit controls env greedily, with no learning, publishing the table and the environment
// snapshot after every step. It owns env and closes it exactly once before returning, also
// when ctx is cancelled. A cancellation is not an error: the summed reward so far is returned.
func Exploit(
	ctx context.Context,
	agent *QAgent,
	env environment.Environment,
	cfg ExploitConfig,
	progressFn ProgressFunc,
) (sum float64, err error) {
	cl := &closer{envs: []environment.Environment{env}}
	defer func() {
		err = errors.Join(err, cl.close())
	}()

	if err = checkShape(agent, env); err != nil {
		return 0, err
	}
	if progressFn == nil {
		progressFn = func(context.Context, Progress) {}
	}

	state, _, err := env.Reset(ctx)
	if err != nil {
		return 0, err
	}
	table := agent.Table()
	progressFn(ctx, Progress{Table: table, Grid: env.Grid(), Snapshot: env.Snapshot()})

	for step := 1; cfg.Steps == 0 || step <= cfg.Steps; step++ {
		if ctx.Err() != nil {
			return sum, nil
		}

		result, err := env.Step(ctx, agent.Greedy(state))
		if err != nil {
			if ctx.Err() != nil {
				return sum, nil
			}
			return sum, err
		}
		state = result.Observation
		sum += result.Reward

		progressFn(ctx, Progress{
			Step:     step,
			Table:    table,
			Grid:     env.Grid(),
			Snapshot: env.Snapshot(),
			Reward:   result.Reward,
		})

		if cfg.Pace > 0 {
			select {
			case <-ctx.Done():
				return sum, nil
			case <-time.After(cfg.Pace):
			}
		}
	}
	return sum, nil
}
