package robot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridchase/grid_world"

	channerics "github.com/niceyeti/channerics/channels"
)

// LoopbackConfig describes a virtual cube.
type LoopbackConfig struct {
	Name string
	Mat  MatGeometry
	// StartX, StartY is the mat cell the cube sits on when connected.
	StartX, StartY int
	// MoveLatency is how long a move takes before it is acknowledged.
	MoveLatency time.Duration
	// ReportPeriod is the cadence of unsolicited position reports; zero disables them.
	ReportPeriod time.Duration
	// MissRate is the probability that a report is a missed-marker notification.
	MissRate float64
	Rand     grid_world.Rand
}

// Loopback is an in-process cube. It speaks the same payload format as the hardware and
// delivers reports from a background routine, so it exercises the same code paths as a
// wireless cube without a radio.
type Loopback struct {
	cfg LoopbackConfig

	mu        sync.Mutex
	connected bool
	stuck     bool
	failNext  error
	cx, cy    int
	handler   func([]byte)
	done      chan struct{}
}

var _ Driver = (*Loopback)(nil)

// NewLoopback returns a disconnected virtual cube.
func NewLoopback(cfg LoopbackConfig) *Loopback {
	if cfg.Rand == nil {
		cfg.Rand = grid_world.NewRand(0)
	}
	if cfg.Mat.CellSize == 0 {
		cfg.Mat = DefaultMat
	}
	return &Loopback{
		cfg: cfg,
		cx:  cfg.StartX,
		cy:  cfg.StartY,
	}
}

func (lb *Loopback) Name() string {
	return lb.cfg.Name
}

// FailConnect makes the next Connect return err.
func (lb *Loopback) FailConnect(err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.failNext = err
}

// SetStuck makes moves hang until their context ends, as when acknowledgments are lost.
func (lb *Loopback) SetStuck(stuck bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.stuck = stuck
}

// SetMissRate changes the probability of missed-marker reports.
func (lb *Loopback) SetMissRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.cfg.MissRate = rate
}

// Place moves the cube by hand, like a person repositioning it on the mat, and reports it.
func (lb *Loopback) Place(x, y int) {
	lb.mu.Lock()
	lb.cx, lb.cy = x, y
	lb.mu.Unlock()
	lb.report()
}

// Position is the mat cell the cube is on.
func (lb *Loopback) Position() (x, y int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.cx, lb.cy
}

func (lb *Loopback) Connect(ctx context.Context) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.failNext; err != nil {
		lb.failNext = nil
		return fmt.Errorf("connect %s: %w", lb.cfg.Name, err)
	}
	if lb.connected {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lb.connected = true
	lb.done = make(chan struct{})
	if lb.cfg.ReportPeriod > 0 {
		go func(done <-chan struct{}) {
			for range channerics.NewTicker(done, lb.cfg.ReportPeriod) {
				lb.report()
			}
		}(lb.done)
	}
	slog.Debug("cube connected", "cube", lb.cfg.Name)
	return nil
}

func (lb *Loopback) Disconnect(_ context.Context) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if !lb.connected {
		return nil
	}
	close(lb.done)
	lb.connected = false
	lb.handler = nil
	slog.Debug("cube disconnected", "cube", lb.cfg.Name)
	return nil
}

// RegisterPositionHandler installs the handler and sends one report right away.
func (lb *Loopback) RegisterPositionHandler(_ context.Context, handler func(payload []byte)) error {
	lb.mu.Lock()
	if !lb.connected {
		lb.mu.Unlock()
		return fmt.Errorf("register handler on %s: %w", lb.cfg.Name, ErrNotConnected)
	}
	lb.handler = handler
	lb.mu.Unlock()

	go lb.report()
	return nil
}

func (lb *Loopback) MoveToCell(ctx context.Context, x, y, speed int) error {
	lb.mu.Lock()
	connected, stuck := lb.connected, lb.stuck
	lb.mu.Unlock()

	if !connected {
		return fmt.Errorf("move %s: %w", lb.cfg.Name, ErrNotConnected)
	}
	if speed <= 0 {
		return fmt.Errorf("move %s: speed must be positive, got %d", lb.cfg.Name, speed)
	}
	if stuck {
		<-ctx.Done()
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(lb.cfg.MoveLatency):
	}

	lb.mu.Lock()
	lb.cx, lb.cy = x, y
	lb.mu.Unlock()
	lb.report()
	return nil
}

// report sends the current position, or a missed notification, to the handler.
func (lb *Loopback) report() {
	lb.mu.Lock()
	handler := lb.handler
	var payload []byte
	if lb.cfg.MissRate > 0 && lb.cfg.Rand.Float64() < lb.cfg.MissRate {
		payload = EncodeMissed()
	} else {
		x, y := lb.cfg.Mat.CellCenter(lb.cx, lb.cy)
		payload = EncodePosition(x, y, 0)
	}
	lb.mu.Unlock()

	if handler != nil {
		handler(payload)
	}
}
