package root_view

import (
	"context"
	"html/template"
	"time"

	"gridchase/models"
	"gridchase/server/cell_views"
	"gridchase/server/fastview"
)

// batchRate bounds how often the aggregated views emit.
const batchRate = 20 * time.Millisecond

// RootView is the main page's index.html, which is the container for all the
// view components and the wiring for their channels.
type RootView struct {
	views   []fastview.ViewComponent
	updates <-chan []fastview.EleUpdate
}

// NewRootView creates the main page and the views it contains, all fed by snapshots.
func NewRootView(
	ctx context.Context,
	snapshots <-chan models.QSnapshot,
) (*RootView, error) {
	views, err := fastview.NewViewBuilder[models.QSnapshot, [][]cell_views.Cell]().
		WithContext(ctx).
		WithModel(snapshots, cell_views.Convert).
		WithView(func(
			done <-chan struct{},
			cellUpdates <-chan [][]cell_views.Cell) fastview.ViewComponent {
			return cell_views.NewQValues(done, cellUpdates)
		}).
		WithView(func(
			done <-chan struct{},
			cellUpdates <-chan [][]cell_views.Cell) fastview.ViewComponent {
			return cell_views.NewValueSurface(done, cellUpdates)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &RootView{
		views:   views,
		updates: fastview.Aggregate(ctx.Done(), views, batchRate),
	}, nil
}

// Updates returns the main ele-update channel for all the views.
func (rv *RootView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// Parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map that the child components depend on.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
			"max": func(i, j int) int {
				if i > j {
					return i
				}
				return j
			},
		})

	viewTemplates := []string{}
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			err = parseErr
			return
		}
		viewTemplates = append(viewTemplates, tname)
	}

	var bodySpec string
	for _, tname := range viewTemplates {
		bodySpec += `{{ template "` + tname + `" . }}`
	}

	// The main template bootstraps the rest: sets up client websocket and updates, aggregates views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<title>gridchase</title>
			<!--The server pushes new data to the view via websocket.-->
			<script>
				const scheme = location.protocol === "https:" ? "wss://" : "ws://";
				const ws = new WebSocket(scheme + location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// When the server pushes view updates, find these eles and update them.
				ws.onmessage = function (event) {
					const items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (ele === null) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}
			</script>
		</head>
		<body style="display:flex; flex-wrap:wrap;">
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}
