package reinforcement

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"gridchase/grid_world"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// QAgent is a tabular Q-learner. Its table has one row per observation and one column per
// action, initialized to zero. It is not safe for concurrent use: snapshots for other
// goroutines are taken with Table.
type QAgent struct {
	hp      HyperParams
	q       *mat.Dense
	rng     grid_world.Rand
	maxes   []int
	actions int
}

// NewQAgent allocates a zeroed table of shape (numStates, numActions).
func NewQAgent(
	numStates int,
	numActions int,
	hp HyperParams,
	rng grid_world.Rand,
) (*QAgent, error) {
	if numStates <= 0 || numActions <= 0 {
		return nil, fmt.Errorf("%w: table shape must be positive, got (%d, %d)",
			grid_world.ErrConfiguration, numStates, numActions)
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: a random source is required", grid_world.ErrConfiguration)
	}

	return &QAgent{
		hp:      hp,
		q:       mat.NewDense(numStates, numActions, nil),
		rng:     rng,
		maxes:   make([]int, 0, numActions),
		actions: numActions,
	}, nil
}

// Shape is (numStates, numActions).
func (agent *QAgent) Shape() (numStates, numActions int) {
	return agent.q.Dims()
}

func (agent *QAgent) Params() HyperParams {
	return agent.hp
}

// SetEpsilon changes the exploration rate, e.g. to run greedily after loading a table.
func (agent *QAgent) SetEpsilon(epsilon float64) error {
	hp := agent.hp
	hp.Epsilon = epsilon
	if err := hp.Validate(); err != nil {
		return err
	}
	agent.hp = hp
	return nil
}

// Value is Q[state, action].
func (agent *QAgent) Value(state int, action grid_world.Action) float64 {
	return agent.q.At(state, int(action))
}

// SelectAction is epsilon-greedy: a uniformly random action with probability epsilon,
// otherwise Greedy.
func (agent *QAgent) SelectAction(state int) grid_world.Action {
	if agent.rng.Float64() < agent.hp.Epsilon {
		return grid_world.Action(agent.rng.Intn(agent.actions))
	}
	return agent.Greedy(state)
}

// Greedy returns an action of maximal value for the state. Ties are broken uniformly at
// random, so an untrained row does not favor the first action.
func (agent *QAgent) Greedy(state int) grid_world.Action {
	row := agent.q.RawRowView(state)
	best := floats.Max(row)

	agent.maxes = agent.maxes[:0]
	for a, v := range row {
		if v == best {
			agent.maxes = append(agent.maxes, a)
		}
	}
	return grid_world.Action(agent.maxes[agent.rng.Intn(len(agent.maxes))])
}

// Update applies the one-step TD rule:
//
//	target = reward + (done ? 0 : gamma * max_a Q[next, a])
//	Q[state, action] += alpha * (target - Q[state, action])
func (agent *QAgent) Update(
	state int,
	action grid_world.Action,
	reward float64,
	next int,
	done bool,
) {
	target := reward
	if !done {
		target += agent.hp.Gamma * floats.Max(agent.q.RawRowView(next))
	}

	old := agent.q.At(state, int(action))
	agent.q.Set(state, int(action), old+agent.hp.Alpha*(target-old))

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("td update",
			"state", state, "action", action, "reward", reward, "next", next, "done", done,
			"old", old, "new", agent.q.At(state, int(action)))
	}
}

// Table returns a copy of the Q-table.
func (agent *QAgent) Table() *mat.Dense {
	return mat.DenseCopyOf(agent.q)
}

// SaveTable writes the table in gonum's binary matrix format, which records the shape
// followed by the values in row-major order.
func (agent *QAgent) SaveTable(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if _, err = agent.q.MarshalBinaryTo(w); err != nil {
		return fmt.Errorf("save q-table %s: %w", path, err)
	}
	return w.Flush()
}

// LoadTable replaces the table with the one stored at path. A table whose shape differs from
// the agent's is a configuration error and leaves the agent unchanged.
func (agent *QAgent) LoadTable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	loaded := &mat.Dense{}
	if _, err = loaded.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("%w: load q-table %s: %v", grid_world.ErrConfiguration, path, err)
	}

	wantR, wantC := agent.q.Dims()
	if r, c := loaded.Dims(); r != wantR || c != wantC {
		return fmt.Errorf("%w: q-table %s has shape (%d, %d), agent expects (%d, %d)",
			grid_world.ErrConfiguration, path, r, c, wantR, wantC)
	}

	agent.q = loaded
	return nil
}
