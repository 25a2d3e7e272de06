package cell_views

import (
	"fmt"
	"html/template"
	"math"

	"gridchase/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ValueSurface provides a view of the greedy state values, given the current target, as a
// 2d isometric projection of the 3d function (x, y, max_a Q).
type ValueSurface struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewValueSurface(
	done <-chan struct{},
	cells <-chan [][]Cell,
) (vs *ValueSurface) {
	vs = &ValueSurface{id: "valuesurface"}
	vs.updates = channerics.Convert(done, cells, vs.onUpdate)
	return
}

func (vs *ValueSurface) Updates() <-chan []fastview.EleUpdate {
	return vs.updates
}

// angle of the x and y axes
const ang = math.Pi / 6

var sinAng, cosAng = math.Sin(ang), math.Cos(ang)

// projection maps cells into the svg plane. Heights are normalized to [lo, hi] so that the
// tallest peak rises a fixed fraction of a cell, whatever the reward scale.
type projection struct {
	xyscale, zscale float64
	lo, hi          float64
}

func newProjection(cells [][]Cell) projection {
	p := projection{
		xyscale: cellDim,
		zscale:  cellDim * 1.5,
		lo:      math.MaxFloat64,
		hi:      -math.MaxFloat64,
	}
	for _, row := range cells {
		for _, cell := range row {
			p.lo = math.Min(p.lo, cell.Max)
			p.hi = math.Max(p.hi, cell.Max)
		}
	}
	return p
}

func (p projection) height(z float64) float64 {
	if p.hi <= p.lo {
		return 0
	}
	return (z - p.lo) / (p.hi - p.lo)
}

// project applies an isometric projection to the passed point.
func (p projection) project(cell Cell) (float64, float64) {
	x, y := float64(cell.X), float64(cell.Y)
	sx := (x - y) * cosAng * p.xyscale
	sy := (x+y)*sinAng*p.xyscale - p.height(cell.Max)*p.zscale
	return sx, sy
}

// polygon returns the quad spanning four adjacent cells. Cell-A is bottom left, Cell-B is top
// left, Cell-C is top right, and Cell-D is bottom right.
func (p projection) polygon(id string, a, b, c, d Cell) (fp *funcPolygon) {
	fp = &funcPolygon{Id: id}
	fp.ax, fp.ay = p.project(a)
	fp.bx, fp.by = p.project(b)
	fp.cx, fp.cy = p.project(c)
	fp.dx, fp.dy = p.project(d)
	return
}

type funcPolygon struct {
	Id     string
	ax, ay float64
	bx, by float64
	cx, cy float64
	dx, dy float64
}

// String returns a string suitable for the svg-polygon 'points' attribute.
func (fp *funcPolygon) String() string {
	return fmt.Sprintf("%d,%d %d,%d %d,%d %d,%d",
		int(fp.ax), int(fp.ay),
		int(fp.bx), int(fp.by),
		int(fp.cx), int(fp.cy),
		int(fp.dx), int(fp.dy),
	)
}

func (fp *funcPolygon) MinX() float64 {
	return math.Min(math.Min(fp.ax, fp.bx), math.Min(fp.cx, fp.dx))
}

func (fp *funcPolygon) MinY() float64 {
	return math.Min(math.Min(fp.ay, fp.by), math.Min(fp.cy, fp.dy))
}

func (fp *funcPolygon) MaxX() float64 {
	return math.Max(math.Max(fp.ax, fp.bx), math.Max(fp.cx, fp.dx))
}

func (fp *funcPolygon) MaxY() float64 {
	return math.Max(math.Max(fp.ay, fp.by), math.Max(fp.cy, fp.dy))
}

func polygonId(cell Cell) string {
	return fmt.Sprintf("%d-%d-value-polygon", cell.X, cell.Y)
}

// Returns the set of view updates needed for the view to reflect current values.
func (vs *ValueSurface) onUpdate(
	cells [][]Cell,
) (ops []fastview.EleUpdate) {
	if len(cells) < 2 || len(cells[0]) < 2 {
		return
	}
	proj := newProjection(cells)

	// First build up the polygons, so we can later center their svg coordinates within the view.
	xmin, ymin := math.MaxFloat64, math.MaxFloat64
	xmax, ymax := -math.MaxFloat64, -math.MaxFloat64
	for xi, col := range cells[:len(cells)-1] {
		for yi, cell := range col[:len(col)-1] {
			cellA := cells[xi+1][yi]
			cellB := cells[xi][yi]
			cellC := cells[xi][yi+1]
			cellD := cells[xi+1][yi+1]
			polygon := proj.polygon(polygonId(cell), cellA, cellB, cellC, cellD)

			xmin = math.Min(xmin, polygon.MinX())
			xmax = math.Max(xmax, polygon.MaxX())
			ymin = math.Min(ymin, polygon.MinY())
			ymax = math.Max(ymax, polygon.MaxY())

			avgVal := (cellA.Max + cellB.Max + cellC.Max + cellD.Max) / 4
			ops = append(ops, fastview.EleUpdate{
				EleId: polygon.Id,
				Ops: []fastview.Op{
					{Key: "points", Value: polygon.String()},
					{Key: "fill", Value: getFill(avgVal, proj.lo, proj.hi)},
				},
			})
		}
	}

	// Shift by the min x and y, and scale down only if the plot does not fit.
	width, height := surfaceSize(cells)
	scaler := math.Min(
		math.Min(
			math.Abs(width/(xmax-xmin)),
			math.Abs(height/(ymax-ymin)),
		),
		1.0,
	)
	ops = append(ops, fastview.EleUpdate{
		EleId: vs.id + "-group",
		Ops: []fastview.Op{
			{
				Key:   "transform",
				Value: fmt.Sprintf("scale(%f) translate(%d %d)", scaler, int(-xmin), int(-ymin)),
			},
		},
	})
	return
}

func surfaceSize(cells [][]Cell) (width, height float64) {
	return float64(len(cells)) * cellDim * 2, float64(len(cells[0])) * cellDim * 2
}

// Parse returns an svg of polygons plotting the value surface as a 2D projection.
func (vs *ValueSurface) Parse(
	t *template.Template,
) (name string, err error) {
	name = vs.id
	addedMap := template.FuncMap{
		// only used for the first render, before any update has set the real heights
		"surfacePoints": func(a, b, c, d Cell) string {
			return projection{xyscale: cellDim}.polygon("", a, b, c, d).String()
		},
		"polygonId": polygonId,
	}
	// The order of polygon creation forms a visual surface by obscuring prior polygons: order matters.
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:40px;">
			{{ $x_cells := len . }}
			{{ $y_cells := len (index . 0) }}
			{{ $num_x_polys := sub $x_cells 1 }}
			{{ $num_y_polys := sub $y_cells 1 }}
			{{ $cell_dim := ` + fmt.Sprintf("%d", cellDim) + ` }}
			<svg id="` + vs.id + `" xmlns='http://www.w3.org/2000/svg'
				width="{{ mult (mult $cell_dim $x_cells) 2 }}px"
				height="{{ mult (mult $cell_dim $y_cells) 2 }}px"
				style="shape-rendering: crispEdges; stroke: lightgrey; stroke-opacity: 1.0; stroke-width: 3;">
				<g id="` + vs.id + "-group" + `" transform="translate({{ mult $cell_dim $y_cells }} 0)">
				{{ $cells := . }}
				{{ range $xi, $col := $cells }}
					{{ if lt $xi $num_x_polys }}
						{{ range $j, $unused := $col }}
							{{ $yi := sub (sub (len $col) $j) 1 }}
							{{ $cell := index $col $yi }}
							{{ if lt $yi $num_y_polys }}
								<polygon id="{{ polygonId $cell }}"
									fill="black" fill-opacity="1.0"
									{{ $cell_a := index $cells (add $xi 1) $yi }}
									{{ $cell_b := index $cells $xi $yi }}
									{{ $cell_c := index $cells $xi (add $yi 1) }}
									{{ $cell_d := index $cells (add $xi 1) (add $yi 1) }}
									points="{{ surfacePoints $cell_a $cell_b $cell_c $cell_d }}" />
							{{ end }}
						{{ end }}
					{{ end }}
				{{ end }}
				</g>
			</svg>
		</div>
		{{ end }}`)
	return
}
