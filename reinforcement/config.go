package reinforcement

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridchase/environment"
	"gridchase/grid_world"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig holds everything a run needs outside of code: learning rates, the
// environment layout, the loop cadence and the hardware settings.
type TrainingConfig struct {
	// HyperParams is a key-val pair of param names and their value.
	HyperParams []HyperParameter `yaml:"hyperParams" mapstructure:"hyperParams"`
	// Environment is the layout shared by the training and evaluation environments.
	Environment environment.Config `yaml:"environment" mapstructure:"environment"`
	// Training is the cadence of the training loop.
	Training LoopConfig `yaml:"training" mapstructure:"training"`
	// Physical holds the cube settings. Its grid fields are taken from Environment.
	Physical environment.PhysicalConfig `yaml:"physical" mapstructure:"physical"`
	// TrainingDeadline is a fixed duration describing when to terminate training.
	TrainingDeadline map[string]string `yaml:"trainingDeadline" mapstructure:"trainingDeadline"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// LoopConfig is the cadence of Train.
type LoopConfig struct {
	// Steps is the number of training steps.
	Steps int `yaml:"steps" mapstructure:"steps"`
	// EvalInterval is the number of training steps between greedy evaluations.
	EvalInterval int `yaml:"evalInterval" mapstructure:"evalInterval"`
	// EvalSteps is the evaluation horizon.
	EvalSteps int `yaml:"evalSteps" mapstructure:"evalSteps"`
	// PlotInterval is the number of training steps between plotting windows; zero disables them.
	PlotInterval int `yaml:"plotInterval" mapstructure:"plotInterval"`
	// PlotSteps is how many evaluation steps of a plotting window publish a snapshot.
	PlotSteps int `yaml:"plotSteps" mapstructure:"plotSteps"`
}

func (lc LoopConfig) Validate() error {
	if lc.Steps < 0 || lc.EvalInterval <= 0 || lc.EvalSteps <= 0 {
		return fmt.Errorf("%w: steps must be non-negative, eval interval and horizon positive", grid_world.ErrConfiguration)
	}
	if lc.PlotInterval < 0 || lc.PlotSteps < 0 {
		return fmt.Errorf("%w: plot interval and steps must not be negative", grid_world.ErrConfiguration)
	}
	return nil
}

// DefaultLoopConfig evaluates ten times and opens four plotting windows over the run.
func DefaultLoopConfig(steps int) LoopConfig {
	lc := LoopConfig{
		Steps:        steps,
		EvalInterval: steps / 10,
		EvalSteps:    100,
		PlotInterval: steps / 4,
		PlotSteps:    20,
	}
	if lc.EvalInterval == 0 {
		lc.EvalInterval = 1
	}
	return lc
}

// HyperParams are the learning parameters of a QAgent.
type HyperParams struct {
	Alpha   float64 `yaml:"alpha"`
	Gamma   float64 `yaml:"gamma"`
	Epsilon float64 `yaml:"epsilon"`
}

// DefaultHyperParams are the workshop settings.
var DefaultHyperParams = HyperParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.1}

func (hp HyperParams) Validate() error {
	if hp.Alpha <= 0 || hp.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in (0,1], got %v", grid_world.ErrConfiguration, hp.Alpha)
	}
	if hp.Gamma < 0 || hp.Gamma > 1 {
		return fmt.Errorf("%w: gamma must be in [0,1], got %v", grid_world.ErrConfiguration, hp.Gamma)
	}
	if hp.Epsilon < 0 || hp.Epsilon > 1 {
		return fmt.Errorf("%w: epsilon must be in [0,1], got %v", grid_world.ErrConfiguration, hp.Epsilon)
	}
	return nil
}

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// SetHyperParam overwrites or appends a key/val pair, e.g. from a command line flag.
func (cfg *TrainingConfig) SetHyperParam(param string, val float64) {
	for i := range cfg.HyperParams {
		if cfg.HyperParams[i].Key == param {
			cfg.HyperParams[i].Val = val
			return
		}
	}
	cfg.HyperParams = append(cfg.HyperParams, HyperParameter{Key: param, Val: val})
}

// AgentParams reads alpha, gamma and epsilon, falling back to the defaults.
func (cfg *TrainingConfig) AgentParams() HyperParams {
	return HyperParams{
		Alpha:   cfg.GetHyperParamOrDefault("alpha", DefaultHyperParams.Alpha),
		Gamma:   cfg.GetHyperParamOrDefault("gamma", DefaultHyperParams.Gamma),
		Epsilon: cfg.GetHyperParamOrDefault("epsilon", DefaultHyperParams.Epsilon),
	}
}

// EnvironmentConfig is the environment section with the goal reward taken from the
// hyper-parameters when one is listed there.
func (cfg *TrainingConfig) EnvironmentConfig() environment.Config {
	env := cfg.Environment
	env.GoalReward = cfg.GetHyperParamOrDefault("goalReward", env.GoalReward)
	return env
}

// PhysicalConfig is the physical section over the shared environment layout.
func (cfg *TrainingConfig) PhysicalConfig() environment.PhysicalConfig {
	phys := cfg.Physical
	phys.Config = cfg.EnvironmentConfig()
	return phys
}

// Validate checks every section that a run depends on.
func (cfg *TrainingConfig) Validate() error {
	if err := cfg.AgentParams().Validate(); err != nil {
		return err
	}
	if err := cfg.Environment.Lives.Validate(); err != nil {
		return err
	}
	if _, err := grid_world.NewGrid(cfg.Environment.Width, cfg.Environment.Height); err != nil {
		return err
	}
	return cfg.Training.Validate()
}

// DefaultTrainingConfig is used when no config file is given.
func DefaultTrainingConfig() *TrainingConfig {
	return &TrainingConfig{
		HyperParams: []HyperParameter{
			{Key: "alpha", Val: DefaultHyperParams.Alpha},
			{Key: "gamma", Val: DefaultHyperParams.Gamma},
			{Key: "epsilon", Val: DefaultHyperParams.Epsilon},
			{Key: "goalReward", Val: 1.0},
		},
		Environment: environment.Config{
			Width:      7,
			Height:     5,
			Lives:      grid_world.LifeRange{Min: 35, Max: 36},
			GoalReward: 1.0,
		},
		Training: DefaultLoopConfig(100000),
		Physical: environment.DefaultPhysicalConfig(),
	}
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		if duration, err := time.ParseDuration(val); err != nil {
			return nil, nil, fmt.Errorf("%w: training deadline: %v", grid_world.ErrConfiguration, err)
		} else {
			innerCtx, cancel := context.WithTimeout(ctx, duration)
			return innerCtx, cancel, nil
		}
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// FromYaml reads a {kind, def} document and decodes def over the defaults, so a file only
// needs to name the settings it changes.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != "" && outerConfig.Kind != "training" {
		return nil, fmt.Errorf("%w: unexpected config kind %q", grid_world.ErrConfiguration, outerConfig.Kind)
	}

	// viper folds keys to lower case, so def is decoded from the raw document instead
	var raw []byte
	if raw, err = os.ReadFile(path); err != nil {
		return nil, err
	}
	doc := struct {
		Def yaml.Node `yaml:"def"`
	}{}
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", grid_world.ErrConfiguration, err)
	}

	innerConfig := DefaultTrainingConfig()
	if doc.Def.IsZero() {
		return innerConfig, nil
	}
	if err = doc.Def.Decode(innerConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", grid_world.ErrConfiguration, err)
	}

	return innerConfig, nil
}
