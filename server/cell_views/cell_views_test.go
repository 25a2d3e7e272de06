package cell_views

import (
	"bytes"
	"html/template"
	"strings"
	"testing"

	"gridchase/grid_world"
	"gridchase/models"

	. "github.com/smartystreets/goconvey/convey"
)

func testSnapshot() models.QSnapshot {
	grid := grid_world.Grid{Width: 3, Height: 2}
	snap := models.Empty(grid)
	snap.Agent = grid_world.Cell{X: 1, Y: 0}
	snap.Target = grid_world.Cell{X: 2, Y: 1}

	atOrigin := grid.Encode(grid_world.Cell{X: 0, Y: 0}, snap.Target)
	snap.Table.Set(atOrigin, int(grid_world.Right), 1)
	snap.Table.Set(atOrigin, int(grid_world.Left), -1)
	return snap
}

func testTemplate() *template.Template {
	return template.New("test").Funcs(template.FuncMap{
		"add":  func(i, j int) int { return i + j },
		"sub":  func(i, j int) int { return i - j },
		"mult": func(i, j int) int { return i * j },
		"div":  func(i, j int) int { return i / j },
	})
}

func render(t *template.Template, name string, data any) (string, error) {
	if _, err := t.Parse(`{{ template "` + name + `" . }}`); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err := t.Execute(&buf, data)
	return buf.String(), err
}

func TestConvert(t *testing.T) {
	Convey("When converting a snapshot to cells", t, func() {
		cells := Convert(testSnapshot())

		Convey("Cells are indexed by x then y", func() {
			So(len(cells), ShouldEqual, 3)
			So(len(cells[0]), ShouldEqual, 2)
			So(cells[2][1].X, ShouldEqual, 2)
			So(cells[2][1].Y, ShouldEqual, 1)
		})

		Convey("Values are read against the current target", func() {
			origin := cells[0][0]
			So(origin.Q, ShouldResemble, [grid_world.NumActions]float64{0, 0, -1, 1})
			So(origin.Max, ShouldEqual, 1.0)
			So(cells[1][1].Max, ShouldEqual, 0.0)
		})

		Convey("Colors run from green at the minimum to red at the maximum", func() {
			origin := cells[0][0]
			So(origin.Fills[grid_world.Left], ShouldEqual, "rgb(0,255,0)")
			So(origin.Fills[grid_world.Up], ShouldEqual, "rgb(255,255,0)")
			So(origin.Fills[grid_world.Right], ShouldEqual, "rgb(255,0,0)")
		})

		Convey("The agent and target cells are framed", func() {
			So(cells[1][0].Frame, ShouldEqual, agentFrame)
			So(cells[2][1].Frame, ShouldEqual, targetFrame)
			So(cells[0][1].Frame, ShouldEqual, plainFrame)
		})

		Convey("A flat table is all green", func() {
			flat := Convert(models.Empty(grid_world.Grid{Width: 3, Height: 1}))
			So(flat[1][0].Fills[grid_world.Down], ShouldEqual, "rgb(0,255,0)")
		})
	})
}

func TestQValues(t *testing.T) {
	Convey("Given a q-values view", t, func() {
		done := make(chan struct{})
		defer close(done)
		qv := NewQValues(done, make(chan [][]Cell))
		cells := Convert(testSnapshot())

		Convey("Each cell updates four triangles, four labels and its frame", func() {
			ops := qv.onUpdate(cells)
			So(len(ops), ShouldEqual, 6*(4*2+1))

			byId := map[string]string{}
			for _, op := range ops {
				byId[op.EleId] = op.Ops[0].Value
			}
			So(byId["0-0-q-right"], ShouldEqual, "rgb(255,0,0)")
			So(byId["0-0-q-left-text"], ShouldEqual, "-1.00")
			So(byId["1-0-frame"], ShouldEqual, agentFrame)
		})

		Convey("Triangles meet at the cell center", func() {
			So(trianglePoints(1, 0, grid_world.Up), ShouldEqual, "80,0 160,0 120,40")
			So(trianglePoints(0, 1, grid_world.Right), ShouldEqual, "80,80 80,160 40,120")
		})

		Convey("The template renders every element an update refers to", func() {
			tmpl := testTemplate()
			name, err := qv.Parse(tmpl)
			So(err, ShouldBeNil)
			html, err := render(tmpl, name, cells)
			So(err, ShouldBeNil)
			for _, op := range qv.onUpdate(cells) {
				So(html, ShouldContainSubstring, `id="`+op.EleId+`"`)
			}
		})
	})
}

func TestValueSurface(t *testing.T) {
	Convey("Given a value surface view", t, func() {
		done := make(chan struct{})
		defer close(done)
		vs := NewValueSurface(done, make(chan [][]Cell))
		cells := Convert(testSnapshot())

		Convey("One polygon per four adjacent cells, plus the group transform", func() {
			ops := vs.onUpdate(cells)
			So(len(ops), ShouldEqual, 2*1+1)
			So(ops[len(ops)-1].EleId, ShouldEqual, "valuesurface-group")
			So(ops[len(ops)-1].Ops[0].Value, ShouldStartWith, "scale(")
		})

		Convey("The highest cell is raised above the flat plane", func() {
			proj := newProjection(cells)
			_, raised := proj.project(cells[0][0])
			_, flat := projection{xyscale: cellDim}.project(cells[0][0])
			So(raised, ShouldBeLessThan, flat)
		})

		Convey("A single row has no surface", func() {
			flat := Convert(models.Empty(grid_world.Grid{Width: 3, Height: 1}))
			So(vs.onUpdate(flat), ShouldBeEmpty)
		})

		Convey("The template renders every polygon", func() {
			tmpl := testTemplate()
			name, err := vs.Parse(tmpl)
			So(err, ShouldBeNil)
			html, err := render(tmpl, name, cells)
			So(err, ShouldBeNil)
			So(strings.Count(html, "<polygon"), ShouldEqual, 2)
			So(html, ShouldContainSubstring, `id="0-0-value-polygon"`)
		})
	})
}
