package cell_views

import (
	"fmt"
	"html/template"

	"gridchase/grid_world"
	"gridchase/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// cellDim is the cell height/width in pixels.
const cellDim = 80

// QValues draws every cell as four triangles, one per action, pointing from the cell's
// edges toward its center. Each triangle is colored and labelled by its action value, and
// the agent and target cells are framed.
type QValues struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewQValues(
	done <-chan struct{},
	cells <-chan [][]Cell,
) (qv *QValues) {
	qv = &QValues{id: "qvalues"}
	qv.updates = channerics.Convert(done, cells, qv.onUpdate)
	return
}

func (qv *QValues) Updates() <-chan []fastview.EleUpdate {
	return qv.updates
}

func triangleId(x, y int, a grid_world.Action) string {
	return fmt.Sprintf("%d-%d-q-%s", x, y, a)
}

func frameId(x, y int) string {
	return fmt.Sprintf("%d-%d-frame", x, y)
}

// trianglePoints returns the svg points of the triangle of action a in cell (x, y).
func trianglePoints(x, y int, a grid_world.Action) string {
	x0, y0 := x*cellDim, y*cellDim
	x1, y1 := x0+cellDim, y0+cellDim
	cx, cy := x0+cellDim/2, y0+cellDim/2

	var ax, ay, bx, by int
	switch a {
	case grid_world.Up:
		ax, ay, bx, by = x0, y0, x1, y0
	case grid_world.Down:
		ax, ay, bx, by = x0, y1, x1, y1
	case grid_world.Left:
		ax, ay, bx, by = x0, y0, x0, y1
	case grid_world.Right:
		ax, ay, bx, by = x1, y0, x1, y1
	}
	return fmt.Sprintf("%d,%d %d,%d %d,%d", ax, ay, bx, by, cx, cy)
}

// textPosition places an action's label midway between the cell center and its edge.
func textPosition(x, y int, a grid_world.Action) (int, int) {
	dx, dy := a.Delta()
	return x*cellDim + cellDim/2 + dx*cellDim/4,
		y*cellDim + cellDim/2 + dy*cellDim/4
}

func formatQ(q float64) string {
	return fmt.Sprintf("%.2f", q)
}

func (qv *QValues) onUpdate(
	cells [][]Cell,
) (ops []fastview.EleUpdate) {
	for _, row := range cells {
		for _, cell := range row {
			for _, a := range grid_world.Actions {
				id := triangleId(cell.X, cell.Y, a)
				ops = append(ops,
					fastview.EleUpdate{
						EleId: id,
						Ops:   []fastview.Op{{Key: "fill", Value: cell.Fills[a]}},
					},
					fastview.EleUpdate{
						EleId: id + "-text",
						Ops:   []fastview.Op{{Key: "textContent", Value: formatQ(cell.Q[a])}},
					})
			}
			ops = append(ops, fastview.EleUpdate{
				EleId: frameId(cell.X, cell.Y),
				Ops:   []fastview.Op{{Key: "stroke", Value: cell.Frame}},
			})
		}
	}
	return
}

// Parse defines the template of the svg grid of triangles, executed with the initial [][]Cell.
func (qv *QValues) Parse(
	t *template.Template,
) (name string, err error) {
	name = qv.id
	addedMap := template.FuncMap{
		"actions":        func() [grid_world.NumActions]grid_world.Action { return grid_world.Actions },
		"triangleId":     triangleId,
		"frameId":        frameId,
		"trianglePoints": trianglePoints,
		"textX": func(x, y int, a grid_world.Action) int {
			tx, _ := textPosition(x, y, a)
			return tx
		},
		"textY": func(x, y int, a grid_world.Action) int {
			_, ty := textPosition(x, y, a)
			return ty
		},
		"formatQ": formatQ,
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		{{ $cell_dim := ` + fmt.Sprintf("%d", cellDim) + ` }}
		{{ $width := mult $cell_dim (len .) }}
		{{ $height := mult $cell_dim (len (index . 0)) }}
		<div style="padding:20px;">
			<svg id="` + qv.id + `" xmlns='http://www.w3.org/2000/svg'
				width="{{ add $width 2 }}px" height="{{ add $height 2 }}px"
				style="shape-rendering: crispEdges;">
				<g transform="translate(1 1)">
				{{ range $row := . }}
					{{ range $cell := $row }}
						{{ range $a := actions }}
							<polygon id="{{ triangleId $cell.X $cell.Y $a }}"
								points="{{ trianglePoints $cell.X $cell.Y $a }}"
								fill="{{ index $cell.Fills $a }}" stroke="grey" stroke-width="1" />
							<text id="{{ triangleId $cell.X $cell.Y $a }}-text"
								x="{{ textX $cell.X $cell.Y $a }}" y="{{ textY $cell.X $cell.Y $a }}"
								font-size="10" text-anchor="middle" dominant-baseline="middle">{{ formatQ (index $cell.Q $a) }}</text>
						{{ end }}
						<rect id="{{ frameId $cell.X $cell.Y }}"
							x="{{ mult $cell.X $cell_dim }}" y="{{ mult $cell.Y $cell_dim }}"
							width="{{ $cell_dim }}" height="{{ $cell_dim }}"
							fill="none" stroke="{{ $cell.Frame }}" stroke-width="2" />
					{{ end }}
				{{ end }}
				</g>
			</svg>
		</div>
		{{ end }}`)
	return
}
