package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gridchase/environment"
	"gridchase/grid_world"
	"gridchase/reinforcement"
	"gridchase/robot"
	"gridchase/server"

	"github.com/gosuri/uilive"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type adaptOptions struct {
	config         string
	seed           uint64
	qPath          string
	steps          int
	pace           time.Duration
	physicalTarget bool
	missRate       float64
	serveAddr      string
	moveLatency    time.Duration
	reportPeriod   time.Duration
}

func AdaptCommand() *cobra.Command {
	opts := adaptOptions{
		moveLatency:  20 * time.Millisecond,
		reportPeriod: 100 * time.Millisecond,
	}
	cmd := &cobra.Command{
		Use:   "adapt",
		Short: "Drive the robot cube greedily with a trained Q-table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.config = configPath
			opts.seed = seed
			return runAdapt(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.qPath, "q", "", "Q-table to load; an untrained table is used when empty")
	cmd.Flags().IntVar(&opts.steps, "steps", 100, "Control steps; zero runs until interrupted")
	cmd.Flags().DurationVar(&opts.pace, "pace", 200*time.Millisecond, "Pause after each step")
	cmd.Flags().BoolVar(&opts.physicalTarget, "physical-target", false, "Chase a second cube instead of a virtual target")
	cmd.Flags().Float64Var(&opts.missRate, "miss-rate", 0, "Probability that a cube reports a missed position")
	cmd.Flags().StringVar(&opts.serveAddr, "serve", "", "Serve the live Q-value views on this address, e.g. :8080")
	return cmd
}

// newCubes places the agent cube on the mat cell of grid (0,0) and the target cube on the
// mat center. The target cube is nil unless requested, selecting a virtual target.
func newCubes(pc environment.PhysicalConfig, opts adaptOptions, cubeSeed uint64) (agent robot.Driver, target robot.Driver) {
	offsetX, offsetY := pc.OffsetX, pc.OffsetY
	if offsetX == 0 && offsetY == 0 {
		offsetX, offsetY = pc.Width/2, pc.Height/2
	}
	newCube := func(name string, x, y int, s uint64) *robot.Loopback {
		return robot.NewLoopback(robot.LoopbackConfig{
			Name:         name,
			Mat:          pc.Mat,
			StartX:       x,
			StartY:       y,
			MoveLatency:  opts.moveLatency,
			ReportPeriod: opts.reportPeriod,
			MissRate:     opts.missRate,
			Rand:         grid_world.NewRand(s),
		})
	}

	agent = newCube("agent", -offsetX, -offsetY, cubeSeed)
	if opts.physicalTarget {
		target = newCube("target", 0, 0, cubeSeed+1)
	}
	return
}

func runAdapt(ctx context.Context, out io.Writer, opts adaptOptions) (err error) {
	cfg, err := loadConfig(opts.config)
	if err != nil {
		return err
	}
	runSeed := resolveSeed(opts.seed)
	pc := cfg.PhysicalConfig()

	agentCube, targetCube := newCubes(pc, opts, runSeed+3)
	env, err := environment.NewPhysical(pc, agentCube, targetCube, grid_world.NewRand(runSeed))
	if err != nil {
		return err
	}
	grid := env.Grid()

	hp := cfg.AgentParams()
	hp.Epsilon = 0
	agent, err := reinforcement.NewQAgent(grid.NumStates(), grid_world.NumActions, hp, grid_world.NewRand(runSeed+2))
	if err != nil {
		_ = env.Close()
		return err
	}
	if opts.qPath != "" {
		if err = agent.LoadTable(opts.qPath); err != nil {
			_ = env.Close()
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(groupCtx)
	defer func() {
		stopServing()
		err = errors.Join(err, group.Wait())
	}()

	var srv *server.Server
	if opts.serveAddr != "" {
		if srv, err = server.NewServer(serveCtx, opts.serveAddr, grid); err != nil {
			_ = env.Close()
			return err
		}
		group.Go(func() error {
			return srv.Serve(serveCtx)
		})
	}

	writer := uilive.New()
	writer.Out = out
	writer.Start()
	progressFn := func(_ context.Context, p reinforcement.Progress) {
		_, _ = io.WriteString(writer, colorize(env.Render())+"\n")
		if srv != nil && p.Table != nil {
			if pubErr := srv.Publish(snapshotOf(p)); pubErr != nil {
				slog.Debug("publish", "err", pubErr)
			}
		}
	}

	slog.Info("adapting", "steps", opts.steps, "physicalTarget", opts.physicalTarget, "table", opts.qPath)
	sum, err := reinforcement.Exploit(groupCtx, agent, env, reinforcement.ExploitConfig{
		Steps: opts.steps,
		Pace:  opts.pace,
	}, progressFn)
	writer.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %.1f\n", aurora.Green("summed reward").Bold(), sum)
	return nil
}
