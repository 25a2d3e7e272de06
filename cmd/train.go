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
	"gridchase/models"
	"gridchase/persistence"
	"gridchase/reinforcement"
	"gridchase/report"
	"gridchase/server"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type trainOptions struct {
	config    string
	seed      uint64
	steps     int
	serveAddr string
	dbPath    string
	outDir    string
	refresh   time.Duration
}

func TrainCommand() *cobra.Command {
	opts := trainOptions{refresh: 200 * time.Millisecond}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train offline in simulation and export the Q-table and training log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.config = configPath
			opts.seed = seed
			return runTrain(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.steps, "steps", 0, "Training steps, overriding the config; evaluation cadence follows")
	cmd.Flags().StringVar(&opts.serveAddr, "serve", "", "Serve the live Q-value views on this address, e.g. :8080")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Record the run in this sqlite database")
	cmd.Flags().StringVar(&opts.outDir, "out", ".", "Directory for the Q-table and training log")
	return cmd
}

func snapshotOf(p reinforcement.Progress) models.QSnapshot {
	return models.QSnapshot{
		Table:  p.Table,
		Grid:   p.Grid,
		Agent:  p.Snapshot.Agent,
		Target: p.Snapshot.Target,
		Step:   p.Step,
	}
}

// runStatus classifies how training ended. Reaching the training deadline or an interrupt
// still leaves a usable, partially trained table.
func runStatus(err error) string {
	switch {
	case err == nil:
		return persistence.StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return persistence.StatusInterrupted
	default:
		return persistence.StatusFailed
	}
}

func runTrain(ctx context.Context, out io.Writer, opts trainOptions) (err error) {
	cfg, err := loadConfig(opts.config)
	if err != nil {
		return err
	}
	if opts.steps > 0 {
		cfg.Training = reinforcement.DefaultLoopConfig(opts.steps)
	}
	ctx, cancel, err := cfg.WithTrainingDeadline(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	runSeed := resolveSeed(opts.seed)
	envCfg := cfg.EnvironmentConfig()
	env, err := environment.NewSimulated(envCfg, grid_world.NewRand(runSeed))
	if err != nil {
		return err
	}
	evalEnv, err := environment.NewSimulated(envCfg, grid_world.NewRand(runSeed+1))
	if err != nil {
		return err
	}
	grid := env.Grid()
	agent, err := reinforcement.NewQAgent(grid.NumStates(), grid_world.NumActions, cfg.AgentParams(), grid_world.NewRand(runSeed+2))
	if err != nil {
		return err
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
			return err
		}
		group.Go(func() error {
			return srv.Serve(serveCtx)
		})
	}

	printer := newProgressPrinter(out, cfg.Training.Steps, opts.refresh)
	printer.Start(ctx)
	progressFn := func(_ context.Context, p reinforcement.Progress) {
		printer.Observe(p)
		if srv != nil && p.Table != nil {
			if pubErr := srv.Publish(snapshotOf(p)); pubErr != nil {
				slog.Debug("publish", "err", pubErr)
			}
		}
	}

	started := time.Now()
	slog.Info("training", "steps", cfg.Training.Steps, "seed", runSeed, "grid", fmt.Sprintf("%dx%d", grid.Width, grid.Height))
	records, trainErr := reinforcement.Train(groupCtx, agent, env, evalEnv, cfg.Training, progressFn)
	printer.Stop()

	status := runStatus(trainErr)
	if status == persistence.StatusFailed {
		return trainErr
	}
	if status == persistence.StatusInterrupted {
		slog.Warn("training interrupted", "records", len(records), "reason", trainErr)
	}

	params := report.ParamsOf(cfg, runSeed)
	artifacts, err := report.Export(opts.outDir, params, records)
	if err != nil {
		return err
	}
	if err = agent.SaveTable(artifacts.QTable); err != nil {
		return err
	}

	if opts.dbPath != "" {
		if err = recordRun(opts.dbPath, persistence.Run{
			StartedAt: started,
			Params:    params,
			QTable:    artifacts.QTable,
			Status:    status,
		}, records); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%s %s\n", aurora.Green("q-table").Bold(), artifacts.QTable)
	for _, path := range artifacts.Written {
		fmt.Fprintf(out, "%s %s\n", aurora.Cyan("log").Bold(), path)
	}
	return nil
}

func recordRun(path string, run persistence.Run, records []reinforcement.EvalRecord) (err error) {
	db, err := persistence.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	id, err := db.SaveRun(run, records)
	if err != nil {
		return err
	}
	slog.Info("run recorded", "id", id, "status", run.Status, "db", path)
	return nil
}
