package fastview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// The rate at which ele-updates will be sent to the client, so as not to overburden.
	pubResolution  = time.Millisecond * 100
	pingResolution = time.Millisecond * 200
	// The number of pings to tolerate losing before concluding the peer is gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// Client publishes updates unidirectionally to one browser over a websocket. Items on the
// updates chan must be idempotent: updates arriving faster than the publication rate are
// discarded and only the latest is needed to bring the page up to date.
type Client[T any] struct {
	updates <-chan T
	ws      *websock
	rootCtx context.Context
	// Resolution is the minimum time between two publications.
	Resolution time.Duration
}

// NewClient upgrades the request to a websocket and returns a publisher of updates to it.
func NewClient[T any](
	updates <-chan T,
	w http.ResponseWriter,
	r *http.Request,
) (*Client[T], error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the request
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	return &Client[T]{
		updates:    updates,
		ws:         newWebSocket(ws),
		rootCtx:    r.Context(),
		Resolution: pubResolution,
	}, nil
}

// Sync publishes incoming updates until the client disconnects, the updates chan closes, or
// the request context ends. It returns nil on a clean disconnect.
func (cli *Client[T]) Sync() error {
	defer cli.ws.Close()
	group, groupCtx := errgroup.WithContext(cli.rootCtx)

	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		// unblock the reader once any routine has finished
		<-groupCtx.Done()
		return cli.ws.Conn().SetReadDeadline(time.Now())
	})
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		err := cli.publish(groupCtx)
		if err == nil {
			// publishing ended, so tear down the readers as well
			err = errPublishDone
		}
		return err
	})

	err := group.Wait()
	if errors.Is(err, errPublishDone) || isClosure(err) {
		return nil
	}
	return err
}

var errPublishDone = errors.New("publishing finished")

var ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")

// Runs the ping-pong for the client liveness check.
// NOTE: This function requires that readMessages is running to ensure the pong handler is called.
func (cli *Client[T]) pingPong(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}

			if err := cli.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *Client[T]) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if isError(err) {
					err = fmt.Errorf("ping failed: %T %w", err, err)
				}
			}
			return
		})
}

// readMessages drains messages from the client, which keeps control frames (pongs, close)
// flowing. Errors returned by websocket Read methods are permanent, hence any error
// must trigger full teardown.
func (cli *Client[T]) readMessages(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, _, err := cli.ws.Conn().ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (cli *Client[T]) publish(ctx context.Context) error {
	var lastSync time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case updates, ok := <-cli.updates:
			// Graceful input channel closure
			if !ok {
				return nil
			}
			// Drop updates when receiving too quickly.
			if time.Since(lastSync) < cli.Resolution {
				break
			}

			lastSync = time.Now()
			err := cli.ws.Write(
				ctx,
				func(ws *websocket.Conn) (writeErr error) {
					if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
						return fmt.Errorf("failed to set deadline: %T %w", writeErr, writeErr)
					}
					if writeErr = ws.WriteJSON(updates); writeErr != nil && isError(writeErr) {
						writeErr = fmt.Errorf("publish failed: %T %w", writeErr, writeErr)
					}
					return
				})
			if err != nil {
				return err
			}
		}
	}
}

func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	writeDeadline    = time.Second
	closeGracePeriod = 500 * time.Millisecond
)

// websock serializes writes to the websocket, which allows one concurrent writer at a time.
type websock struct {
	// This is merely a mutex, but channel semantics allow a bounded wait.
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebSocket(ws *websocket.Conn) *websock {
	return &websock{
		writeSem: make(chan struct{}, 1),
		ws:       ws,
	}
}

// Returns the underlying websocket.
// This should only be used non-concurrently for setup, e.g. adding handlers, and by the
// single reader.
func (sock *websock) Conn() *websocket.Conn {
	return sock.ws
}

// Close sends a close frame and closes the connection once the writers are done.
func (sock *websock) Close() {
	sock.writeSem <- struct{}{}

	_ = sock.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sock.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err == nil {
		time.Sleep(closeGracePeriod)
	}
	if err := sock.ws.Close(); err != nil {
		slog.Debug("websocket close", "err", err)
	}
}

// Write serializes write operations to the websocket.
func (sock *websock) Write(
	ctx context.Context,
	writeFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.ws)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}
