package fastview

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	. "github.com/smartystreets/goconvey/convey"
)

// echoView emits one update per view-model item, keyed by its own id.
type echoView struct {
	id      string
	updates <-chan []EleUpdate
}

func newEchoView(id string) ViewBuilderFunc[string] {
	return func(done <-chan struct{}, models <-chan string) ViewComponent {
		ev := &echoView{id: id}
		ev.updates = channerics.Convert(done, models, func(s string) []EleUpdate {
			return []EleUpdate{{EleId: ev.id, Ops: []Op{{Key: "textContent", Value: s}}}}
		})
		return ev
	}
}

func (ev *echoView) Updates() <-chan []EleUpdate {
	return ev.updates
}

func (ev *echoView) Parse(t *template.Template) (string, error) {
	_, err := t.Parse(`{{ define "` + ev.id + `" }}<p id="` + ev.id + `">{{ . }}</p>{{ end }}`)
	return ev.id, err
}

func TestViewBuilder(t *testing.T) {
	Convey("When building views", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Convey("Missing views or models are reported", func() {
			_, err := NewViewBuilder[int, string]().Build()
			So(err, ShouldEqual, ErrNoViews)

			_, err = NewViewBuilder[int, string]().WithView(newEchoView("a")).Build()
			So(err, ShouldEqual, ErrNoModel)
		})

		Convey("Every view sees every converted model", func() {
			input := make(chan int)
			views, err := NewViewBuilder[int, string]().
				WithContext(ctx).
				WithModel(input, func(i int) string { return fmt.Sprintf("v%d", i) }).
				WithView(newEchoView("a")).
				WithView(newEchoView("b")).
				Build()
			So(err, ShouldBeNil)
			So(len(views), ShouldEqual, 2)

			go func() { input <- 7 }()
			merged := channerics.Merge(ctx.Done(), views[0].Updates(), views[1].Updates())
			seen := map[string]string{}
			for len(seen) < 2 {
				select {
				case updates := <-merged:
					seen[updates[0].EleId] = updates[0].Ops[0].Value
				case <-time.After(time.Second):
					t.Fatal("no update")
				}
			}
			So(seen, ShouldResemble, map[string]string{"a": "v7", "b": "v7"})
		})
	})
}

func TestBatch(t *testing.T) {
	Convey("When batching ele-updates", t, func() {
		done := make(chan struct{})
		defer close(done)
		source := make(chan []EleUpdate)
		out := Batch(done, source, 20*time.Millisecond)

		source <- []EleUpdate{
			{EleId: "x", Ops: []Op{{Key: "fill", Value: "red"}}},
			{EleId: "y", Ops: []Op{{Key: "fill", Value: "blue"}}},
			{EleId: "x", Ops: []Op{{Key: "fill", Value: "green"}}},
		}

		Convey("Only the latest value per element is sent, in first-seen order", func() {
			select {
			case batch := <-out:
				So(len(batch), ShouldEqual, 2)
				So(batch[0].EleId, ShouldEqual, "x")
				So(batch[0].Ops[0].Value, ShouldEqual, "green")
				So(batch[1].EleId, ShouldEqual, "y")
			case <-time.After(time.Second):
				t.Fatal("no batch")
			}
		})
	})
}

func TestClient(t *testing.T) {
	Convey("Given a websocket client fed by a channel", t, func() {
		updates := make(chan []EleUpdate)
		synced := make(chan error, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cli, err := NewClient(updates, w, r)
			if err != nil {
				synced <- err
				return
			}
			cli.Resolution = 0
			synced <- cli.Sync()
		}))
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		Convey("Updates arrive as json and closing the feed ends the sync", func() {
			go func() {
				updates <- []EleUpdate{{EleId: "cell", Ops: []Op{{Key: "textContent", Value: "0.50"}}}}
			}()

			var got []EleUpdate
			So(conn.SetReadDeadline(time.Now().Add(2*time.Second)), ShouldBeNil)
			So(conn.ReadJSON(&got), ShouldBeNil)
			So(got, ShouldResemble, []EleUpdate{{EleId: "cell", Ops: []Op{{Key: "textContent", Value: "0.50"}}}})

			close(updates)
			// keep reading so the close handshake completes
			go func() {
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}()
			select {
			case err := <-synced:
				So(err, ShouldBeNil)
			case <-time.After(3 * time.Second):
				t.Fatal("sync did not return")
			}
		})
	})
}
