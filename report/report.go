// report writes the artifacts of a training run: the learning curve as delimited text, a
// workbook and an HTML chart, plus the hyper-parameters the run used.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gridchase/reinforcement"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// RunParams is the companion record of a run: everything needed to reproduce it.
type RunParams struct {
	Alpha      float64 `yaml:"alpha"`
	Gamma      float64 `yaml:"gamma"`
	Epsilon    float64 `yaml:"epsilon"`
	Steps      int     `yaml:"steps"`
	GoalReward float64 `yaml:"goalReward"`
	LifeMin    int     `yaml:"lifeMin"`
	LifeMax    int     `yaml:"lifeMax"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Seed       uint64  `yaml:"seed"`
}

// ParamsOf flattens a training config into a RunParams.
func ParamsOf(cfg *reinforcement.TrainingConfig, seed uint64) RunParams {
	hp := cfg.AgentParams()
	env := cfg.EnvironmentConfig()
	return RunParams{
		Alpha:      hp.Alpha,
		Gamma:      hp.Gamma,
		Epsilon:    hp.Epsilon,
		Steps:      cfg.Training.Steps,
		GoalReward: env.GoalReward,
		LifeMin:    env.Lives.Min,
		LifeMax:    env.Lives.Max,
		Width:      env.Width,
		Height:     env.Height,
		Seed:       seed,
	}
}

// pyFloat formats like "0.1" and "1.0": shortest form, always with a fractional part.
func pyFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// QTableName is the default file name of a run's table, e.g.
// q_epsilon0_1_step100000_reward1_0.qtab.
func QTableName(p RunParams) string {
	return fmt.Sprintf("q_epsilon%s_step%d_reward%s.qtab",
		strings.ReplaceAll(pyFloat(p.Epsilon), ".", "_"),
		p.Steps,
		strings.ReplaceAll(pyFloat(p.GoalReward), ".", "_"))
}

var csvHeader = []string{"step", "eval_rewards", "elapsed_seconds"}

// WriteCSV writes one row per evaluation.
func WriteCSV(w io.Writer, records []reinforcement.EvalRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.Step),
			strconv.FormatFloat(r.RewardSum, 'f', -1, 64),
			strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHyperParams writes the run parameters as a YAML document.
func WriteHyperParams(w io.Writer, p RunParams) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

const (
	evalSheet   = "Evaluation"
	paramsSheet = "HyperParameters"
)

// WriteWorkbook writes the learning curve and the parameters as two sheets of an xlsx file.
func WriteWorkbook(w io.Writer, p RunParams, records []reinforcement.EvalRecord) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = f.NewSheet(evalSheet); err != nil {
		return err
	}
	if _, err = f.NewSheet(paramsSheet); err != nil {
		return err
	}
	if err = f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	header := []interface{}{"step", "eval_rewards", "elapsed_seconds"}
	if err = f.SetSheetRow(evalSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range records {
		row := []interface{}{r.Step, r.RewardSum, r.Elapsed.Seconds()}
		if err = f.SetSheetRow(evalSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}

	params := [][]interface{}{
		{"alpha", p.Alpha},
		{"gamma", p.Gamma},
		{"epsilon", p.Epsilon},
		{"steps", p.Steps},
		{"goalReward", p.GoalReward},
		{"lifeMin", p.LifeMin},
		{"lifeMax", p.LifeMax},
		{"width", p.Width},
		{"height", p.Height},
		{"seed", strconv.FormatUint(p.Seed, 10)},
	}
	for i := range params {
		if err = f.SetSheetRow(paramsSheet, fmt.Sprintf("A%d", i+1), &params[i]); err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return err
}

// WriteChart renders the learning curve as a standalone HTML page.
func WriteChart(w io.Writer, title string, records []reinforcement.EvalRecord) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: title,
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: "shine",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "#step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Evaluated summed reward"}),
	)

	steps := make([]string, 0, len(records))
	items := make([]opts.LineData, 0, len(records))
	for _, r := range records {
		steps = append(steps, strconv.Itoa(r.Step))
		items = append(items, opts.LineData{Value: r.RewardSum})
	}
	line.SetXAxis(steps).AddSeries("eval_rewards", items)

	page := components.NewPage()
	page.AddCharts(line)
	return page.Render(w)
}

// Artifacts are the paths written by Export.
type Artifacts struct {
	QTable  string
	CSV     string
	Params  string
	Book    string
	Chart   string
	Written []string
}

// Export writes every artifact of a run into dir, which is created if needed. The Q-table
// path is only derived here; saving the table is left to the agent.
func Export(dir string, p RunParams, records []reinforcement.EvalRecord) (Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, err
	}

	stem := strings.TrimSuffix(QTableName(p), ".qtab")
	a := Artifacts{
		QTable: filepath.Join(dir, QTableName(p)),
		CSV:    filepath.Join(dir, stem+"_eval.csv"),
		Params: filepath.Join(dir, stem+"_params.yaml"),
		Book:   filepath.Join(dir, stem+".xlsx"),
		Chart:  filepath.Join(dir, stem+"_curve.html"),
	}

	writers := []struct {
		path  string
		write func(io.Writer) error
	}{
		{a.CSV, func(w io.Writer) error { return WriteCSV(w, records) }},
		{a.Params, func(w io.Writer) error { return WriteHyperParams(w, p) }},
		{a.Book, func(w io.Writer) error { return WriteWorkbook(w, p, records) }},
		{a.Chart, func(w io.Writer) error { return WriteChart(w, stem, records) }},
	}
	for _, wr := range writers {
		if err := writeFile(wr.path, wr.write); err != nil {
			return a, err
		}
		a.Written = append(a.Written, wr.path)
	}
	return a, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}
