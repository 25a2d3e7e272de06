package robot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gridchase/grid_world"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDecode(t *testing.T) {
	Convey("When decoding id notifications", t, func() {
		Convey("Position payloads round-trip", func() {
			report, err := Decode(EncodePosition(310, 190, 90))
			So(err, ShouldBeNil)
			So(report.Kind, ShouldEqual, KindPosition)
			So(report.X, ShouldEqual, 310)
			So(report.Y, ShouldEqual, 190)
			So(report.Angle, ShouldEqual, 90)
			So(report.SensorX, ShouldEqual, 310)
		})

		Convey("Standard id payloads are decoded", func() {
			report, err := Decode([]byte{0x02, 0x01, 0x00, 0x00, 0x00, 0x5a, 0x00})
			So(err, ShouldBeNil)
			So(report.Kind, ShouldEqual, KindStandard)
			So(report.StandardID, ShouldEqual, 1)
			So(report.Angle, ShouldEqual, 90)
		})

		Convey("Missed, short and unknown payloads are signal loss", func() {
			for _, payload := range [][]byte{
				nil,
				EncodeMissed(),
				{byte(KindStandardMissed)},
				{byte(KindPosition), 0x01, 0x02},
				{0x7f},
			} {
				_, err := Decode(payload)
				So(errors.Is(err, ErrUndecodable), ShouldBeTrue)
			}
		})
	})

	Convey("When mapping mat coordinates", t, func() {
		mat := DefaultMat
		for cx := -3; cx <= 3; cx++ {
			for cy := -2; cy <= 2; cy++ {
				x, y := mat.CellCenter(cx, cy)
				gx, gy := mat.CellOf(x, y)
				So(gx, ShouldEqual, cx)
				So(gy, ShouldEqual, cy)
				// a point slightly off center still lands in the same cell
				gx, gy = mat.CellOf(x+int(mat.CellSize/3), y-int(mat.CellSize/3))
				So(gx, ShouldEqual, cx)
				So(gy, ShouldEqual, cy)
			}
		}
	})
}

// collector records every payload delivered to a handler.
type collector struct {
	mu       sync.Mutex
	payloads [][]byte
	arrived  chan struct{}
}

func newCollector() *collector {
	return &collector{arrived: make(chan struct{}, 64)}
}

func (c *collector) handle(payload []byte) {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	select {
	case c.arrived <- struct{}{}:
	default:
	}
}

func (c *collector) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads[len(c.payloads)-1]
}

func TestLoopback(t *testing.T) {
	Convey("When driving a loopback cube", t, func() {
		ctx := context.Background()
		cube := NewLoopback(LoopbackConfig{
			Name:        "cube-a",
			StartX:      -3,
			StartY:      -2,
			MoveLatency: time.Millisecond,
			Rand:        grid_world.NewRand(7),
		})

		Convey("Commands fail before connecting", func() {
			err := cube.MoveToCell(ctx, 0, 0, 100)
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
			err = cube.RegisterPositionHandler(ctx, func([]byte) {})
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
		})

		Convey("A failing connect surfaces the error once", func() {
			boom := errors.New("radio off")
			cube.FailConnect(boom)
			So(errors.Is(cube.Connect(ctx), boom), ShouldBeTrue)
			So(cube.Connect(ctx), ShouldBeNil)
			So(cube.Disconnect(ctx), ShouldBeNil)
		})

		Convey("Registering a handler delivers the current position", func() {
			So(cube.Connect(ctx), ShouldBeNil)
			defer cube.Disconnect(ctx)
			col := newCollector()
			So(cube.RegisterPositionHandler(ctx, col.handle), ShouldBeNil)

			select {
			case <-col.arrived:
			case <-time.After(time.Second):
				t.Fatal("no report")
			}
			report, err := Decode(col.last())
			So(err, ShouldBeNil)
			cx, cy := DefaultMat.CellOf(report.X, report.Y)
			So(cx, ShouldEqual, -3)
			So(cy, ShouldEqual, -2)

			Convey("A move is acknowledged and reported", func() {
				So(cube.MoveToCell(ctx, 1, 2, 100), ShouldBeNil)
				x, y := cube.Position()
				So(x, ShouldEqual, 1)
				So(y, ShouldEqual, 2)
				report, err := Decode(col.last())
				So(err, ShouldBeNil)
				cx, cy := DefaultMat.CellOf(report.X, report.Y)
				So(cx, ShouldEqual, 1)
				So(cy, ShouldEqual, 2)
			})

			Convey("A stuck cube blocks until the deadline", func() {
				cube.SetStuck(true)
				tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				err := cube.MoveToCell(tctx, 1, 2, 100)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})

			Convey("A full miss rate only produces missed notifications", func() {
				cube.SetMissRate(1)
				So(cube.MoveToCell(ctx, 0, 0, 100), ShouldBeNil)
				_, err := Decode(col.last())
				So(errors.Is(err, ErrUndecodable), ShouldBeTrue)
			})
		})

		Convey("Periodic reports arrive without commands", func() {
			ticking := NewLoopback(LoopbackConfig{
				Name:         "cube-b",
				ReportPeriod: 5 * time.Millisecond,
				Rand:         grid_world.NewRand(3),
			})
			So(ticking.Connect(ctx), ShouldBeNil)
			defer ticking.Disconnect(ctx)
			col := newCollector()
			So(ticking.RegisterPositionHandler(ctx, col.handle), ShouldBeNil)
			for i := 0; i < 3; i++ {
				select {
				case <-col.arrived:
				case <-time.After(time.Second):
					t.Fatal("no periodic report")
				}
			}
		})
	})
}
