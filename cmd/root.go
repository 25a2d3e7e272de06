package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridchase/reinforcement"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	seed       uint64
)

func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gridchase",
		Short:         "Tabular Q-learning of a cube chasing a target on a grid",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), debug)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a training config yaml; defaults apply when empty")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level")
	cmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "Random seed; zero draws one from the clock")

	cmd.AddCommand(
		TrainCommand(),
		AdaptCommand(),
	)
	return cmd
}

// Execute runs the root command until it completes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("gridchase", "err", err)
		os.Exit(1)
	}
}

func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func loadConfig(path string) (cfg *reinforcement.TrainingConfig, err error) {
	if path == "" {
		cfg = reinforcement.DefaultTrainingConfig()
	} else if cfg, err = reinforcement.FromYaml(path); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSeed draws a clock seed up front, so that the seed recorded with a run reproduces it.
func resolveSeed(s uint64) uint64 {
	if s == 0 {
		return uint64(time.Now().UnixNano())
	}
	return s
}
