package persistence

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gridchase/reinforcement"
	"gridchase/report"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDB(t *testing.T) {
	Convey("Given a fresh run database", t, func() {
		db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
		So(err, ShouldBeNil)
		defer db.Close()

		params := report.RunParams{
			Alpha: 0.1, Gamma: 0.9, Epsilon: 0.1, Steps: 5000, GoalReward: 1,
			LifeMin: 35, LifeMax: 36, Width: 7, Height: 5, Seed: 1234567890123,
		}
		records := []reinforcement.EvalRecord{
			{Step: 2000, RewardSum: 4, Elapsed: 2 * time.Second},
			{Step: 1000, RewardSum: 1, Elapsed: 1500 * time.Millisecond},
		}
		started := time.UnixMilli(time.Now().UnixMilli())

		Convey("A saved run gets an id and loads back", func() {
			id, err := db.SaveRun(Run{
				StartedAt: started,
				Params:    params,
				QTable:    "out/q.qtab",
				Status:    StatusCompleted,
			}, records)
			So(err, ShouldBeNil)
			_, err = uuid.Parse(id)
			So(err, ShouldBeNil)

			run, loaded, err := db.LoadRun(id)
			So(err, ShouldBeNil)
			So(run.ID, ShouldEqual, id)
			So(run.StartedAt.Equal(started), ShouldBeTrue)
			So(run.Params, ShouldResemble, params)
			So(run.Status, ShouldEqual, StatusCompleted)
			So(loaded, ShouldResemble, []reinforcement.EvalRecord{records[1], records[0]})

			Convey("Saving again under the same id replaces the curve", func() {
				_, err := db.SaveRun(Run{ID: id, StartedAt: started, Params: params, Status: StatusInterrupted}, records[:1])
				So(err, ShouldBeNil)
				run, loaded, err := db.LoadRun(id)
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, StatusInterrupted)
				So(len(loaded), ShouldEqual, 1)
			})
		})

		Convey("Runs are listed newest first", func() {
			older, err := db.SaveRun(Run{StartedAt: started.Add(-time.Hour), Params: params, Status: StatusCompleted}, nil)
			So(err, ShouldBeNil)
			newer, err := db.SaveRun(Run{StartedAt: started, Params: params, Status: StatusFailed}, nil)
			So(err, ShouldBeNil)

			runs, err := db.ListRuns(10)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 2)
			So(runs[0].ID, ShouldEqual, newer)
			So(runs[1].ID, ShouldEqual, older)

			runs, err = db.ListRuns(1)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 1)
		})

		Convey("Unknown runs are reported", func() {
			_, _, err := db.LoadRun(uuid.NewString())
			So(errors.Is(err, ErrRunNotFound), ShouldBeTrue)
		})
	})
}
