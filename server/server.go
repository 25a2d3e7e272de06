package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gridchase/grid_world"
	"gridchase/models"
	"gridchase/server/cell_views"
	"gridchase/server/fastview"
	"gridchase/server/root_view"

	"github.com/gorilla/mux"
)

const shutdownGracePeriod = 2 * time.Second

// ErrGridMismatch is returned when a snapshot does not match the grid the server was built for.
var ErrGridMismatch = errors.New("snapshot does not match the served grid")

// Server serves a single page, to a single client, over a single websocket. The views'
// ele-update channel is drained by one client at a time; a second page competes with the
// first for updates.
type Server struct {
	addr      string
	grid      grid_world.Grid
	rootView  *root_view.RootView
	snapshots chan models.QSnapshot

	mu   sync.Mutex
	last models.QSnapshot
}

// NewServer initializes all of the views and returns a server for the given grid.
func NewServer(
	ctx context.Context,
	addr string,
	grid grid_world.Grid,
) (*Server, error) {
	snapshots := make(chan models.QSnapshot, 1)
	rootView, err := root_view.NewRootView(ctx, snapshots)
	if err != nil {
		return nil, fmt.Errorf("views: %w", err)
	}

	return &Server{
		addr:      addr,
		grid:      grid,
		rootView:  rootView,
		snapshots: snapshots,
		last:      models.Empty(grid),
	}, nil
}

// Publish hands a snapshot to the views without ever blocking the caller: a snapshot that
// the views have not consumed yet is replaced by the newer one.
// Publish must not be called concurrently.
func (server *Server) Publish(snap models.QSnapshot) error {
	if snap.Grid != server.grid || !snap.Valid() {
		return ErrGridMismatch
	}

	server.mu.Lock()
	server.last = snap
	server.mu.Unlock()

	select {
	case <-server.snapshots:
	default:
	}
	select {
	case server.snapshots <- snap:
	default:
	}
	return nil
}

func (server *Server) latest() models.QSnapshot {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.last
}

// Handler returns the routes of the server.
func (server *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	router.HandleFunc("/ws", server.serveWebsocket)
	return router
}

// Serve listens until the context is cancelled, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "err", err)
		}
	}()

	slog.Info("serving views", "addr", server.addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-shutdownDone
	return nil
}

// serveWebsocket publishes view updates to the client until it disconnects.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(server.rootView.Updates(), w, r)
	if err != nil {
		slog.Warn("websocket upgrade", "err", err)
		return
	}
	if err := cli.Sync(); err != nil {
		slog.Warn("websocket sync", "err", err)
	}
}

// Serve the index.html main page, rendered with the latest snapshot.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	var page bytes.Buffer
	cells := cell_views.Convert(server.latest())
	if err := renderTemplate(&page, server.rootView, cells); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = page.WriteTo(w)
}

func renderTemplate(
	w io.Writer,
	vc fastview.ViewComponent,
	data any,
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}
	return t.Execute(w, data)
}
