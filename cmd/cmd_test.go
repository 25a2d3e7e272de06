package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gridchase/environment"
	"gridchase/grid_world"
	"gridchase/persistence"

	"github.com/logrusorgru/aurora"
	. "github.com/smartystreets/goconvey/convey"
)

const smallConfig = `kind: training
def:
  hyperParams:
    - key: alpha
      val: 0.5
    - key: epsilon
      val: 0.2
  environment:
    width: 4
    height: 3
    lifeMin: 5
    lifeMax: 8
  training:
    steps: 300
    evalInterval: 100
    evalSteps: 10
    plotInterval: 150
    plotSteps: 5
`

func writeConfig(dir string) string {
	path := filepath.Join(dir, "config.yaml")
	So(os.WriteFile(path, []byte(smallConfig), 0o644), ShouldBeNil)
	return path
}

func TestColorize(t *testing.T) {
	Convey("When colorizing a render", t, func() {
		render := "A T .\n. * .\nAgent: (0,0)  Target: (1,0)  Life: 3\nStale: agent"
		out := colorize(render)
		lines := strings.Split(out, "\n")

		Convey("Grid rows are highlighted", func() {
			So(lines[0], ShouldContainSubstring, aurora.Blue("A").Bold().String())
			So(lines[0], ShouldContainSubstring, aurora.Red("T").Bold().String())
			So(lines[1], ShouldContainSubstring, aurora.Magenta("*").Bold().String())
		})

		Convey("Status lines are left alone", func() {
			So(lines[2], ShouldEqual, "Agent: (0,0)  Target: (1,0)  Life: 3")
			So(lines[3], ShouldEqual, "Stale: agent")
		})
	})
}

func TestRunStatus(t *testing.T) {
	Convey("Training outcomes map to run statuses", t, func() {
		So(runStatus(nil), ShouldEqual, persistence.StatusCompleted)
		So(runStatus(context.Canceled), ShouldEqual, persistence.StatusInterrupted)
		So(runStatus(context.DeadlineExceeded), ShouldEqual, persistence.StatusInterrupted)
		So(runStatus(errors.New("boom")), ShouldEqual, persistence.StatusFailed)
	})
}

func TestTrainAndAdapt(t *testing.T) {
	Convey("Given a small training config", t, func() {
		dir := t.TempDir()
		cfgPath := writeConfig(dir)
		outDir := filepath.Join(dir, "out")
		dbPath := filepath.Join(dir, "runs.db")
		var out bytes.Buffer

		opts := trainOptions{
			config:  cfgPath,
			seed:    42,
			dbPath:  dbPath,
			outDir:  outDir,
			refresh: 10 * time.Millisecond,
		}

		Convey("Training exports the table and log and records the run", func() {
			So(runTrain(context.Background(), &out, opts), ShouldBeNil)

			tables, err := filepath.Glob(filepath.Join(outDir, "*.qtab"))
			So(err, ShouldBeNil)
			So(len(tables), ShouldEqual, 1)
			for _, ext := range []string{"_eval.csv", "_params.yaml", ".xlsx", "_curve.html"} {
				matches, _ := filepath.Glob(filepath.Join(outDir, "*"+ext))
				So(len(matches), ShouldEqual, 1)
			}

			db, err := persistence.Open(dbPath)
			So(err, ShouldBeNil)
			defer db.Close()
			runs, err := db.ListRuns(10)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 1)
			So(runs[0].Status, ShouldEqual, persistence.StatusCompleted)
			So(runs[0].QTable, ShouldEqual, tables[0])
			So(runs[0].Params.Seed, ShouldEqual, uint64(42))
			So(runs[0].Params.Width, ShouldEqual, 4)

			_, records, err := db.LoadRun(runs[0].ID)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 4)

			Convey("The trained table drives the loopback cube", func() {
				var adaptOut bytes.Buffer
				err := runAdapt(context.Background(), &adaptOut, adaptOptions{
					config:       cfgPath,
					seed:         7,
					qPath:        tables[0],
					steps:        20,
					moveLatency:  time.Millisecond,
					reportPeriod: 10 * time.Millisecond,
				})
				So(err, ShouldBeNil)
				So(adaptOut.String(), ShouldContainSubstring, "summed reward")
			})

			Convey("A table of another shape is refused", func() {
				other := filepath.Join(dir, "other.yaml")
				So(os.WriteFile(other, []byte(strings.Replace(smallConfig, "width: 4", "width: 5", 1)), 0o644), ShouldBeNil)
				err := runAdapt(context.Background(), &bytes.Buffer{}, adaptOptions{
					config:       other,
					seed:         7,
					qPath:        tables[0],
					steps:        5,
					moveLatency:  time.Millisecond,
					reportPeriod: 10 * time.Millisecond,
				})
				So(errors.Is(err, grid_world.ErrConfiguration), ShouldBeTrue)
			})
		})

		Convey("An interrupted run still exports its table and is recorded as such", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			So(runTrain(ctx, &out, opts), ShouldBeNil)

			db, err := persistence.Open(dbPath)
			So(err, ShouldBeNil)
			defer db.Close()
			runs, err := db.ListRuns(10)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 1)
			So(runs[0].Status, ShouldEqual, persistence.StatusInterrupted)
		})

		Convey("The commands are reachable from the root command", func() {
			root := RootCommand()
			root.SetOut(&out)
			root.SetErr(&bytes.Buffer{})
			root.SetArgs([]string{"train", "--config", cfgPath, "--out", outDir, "--steps", "100", "--seed", "5"})
			So(root.ExecuteContext(context.Background()), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "q-table")

			params, err := os.ReadFile(filepath.Join(outDir, "q_epsilon0_2_step100_reward1_0_params.yaml"))
			So(err, ShouldBeNil)
			So(string(params), ShouldContainSubstring, "seed: 5")
		})
	})
}

func TestNewCubes(t *testing.T) {
	Convey("The agent cube starts on the mat cell of grid (0,0)", t, func() {
		pc := environment.DefaultPhysicalConfig()
		agent, target := newCubes(pc, adaptOptions{}, 1)
		So(target, ShouldBeNil)
		So(agent.Name(), ShouldEqual, "agent")

		_, target = newCubes(pc, adaptOptions{physicalTarget: true}, 1)
		So(target, ShouldNotBeNil)
	})
}
