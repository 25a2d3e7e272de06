// robot holds the boundary to the hardware that carries the agent and, optionally, the
// target around the mat: the driver contract, the position-report wire format, and the
// mapping between raw mat coordinates and mat cells.
package robot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Driver is a single cube on the mat. Implementations deliver position reports on their
// own schedule by calling the registered handler from a background routine.
type Driver interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// MoveToCell blocks until the cube acknowledges arrival at the mat cell or ctx is done.
	MoveToCell(ctx context.Context, x, y, speed int) error
	RegisterPositionHandler(ctx context.Context, handler func(payload []byte)) error
}

var (
	// ErrNotConnected is returned by commands issued before Connect or after Disconnect.
	ErrNotConnected = errors.New("cube not connected")
	// ErrUndecodable is a single unreadable position report: the cube could not see the
	// mat marker or the payload was malformed.
	ErrUndecodable = errors.New("undecodable position report")
)

// ReportKind is the first byte of an id-information notification.
type ReportKind byte

const (
	KindPosition       ReportKind = 0x01
	KindStandard       ReportKind = 0x02
	KindPositionMissed ReportKind = 0x03
	KindStandardMissed ReportKind = 0x04
)

const (
	positionLen = 13
	standardLen = 7
)

// Report is a decoded id-information notification. Coordinates are raw mat units.
type Report struct {
	Kind        ReportKind
	X, Y        int
	Angle       int
	SensorX     int
	SensorY     int
	SensorAngle int
	StandardID  uint32
}

// Decode parses a notification payload. Missed notifications, short payloads and unknown
// kinds all return an error wrapping ErrUndecodable.
func Decode(payload []byte) (Report, error) {
	if len(payload) == 0 {
		return Report{}, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	kind := ReportKind(payload[0])
	switch kind {
	case KindPosition:
		if len(payload) < positionLen {
			return Report{Kind: kind}, fmt.Errorf("%w: position payload of %d bytes", ErrUndecodable, len(payload))
		}
		u16 := func(i int) int { return int(binary.LittleEndian.Uint16(payload[i:])) }
		return Report{
			Kind:        kind,
			X:           u16(1),
			Y:           u16(3),
			Angle:       u16(5),
			SensorX:     u16(7),
			SensorY:     u16(9),
			SensorAngle: u16(11),
		}, nil
	case KindStandard:
		if len(payload) < standardLen {
			return Report{Kind: kind}, fmt.Errorf("%w: standard id payload of %d bytes", ErrUndecodable, len(payload))
		}
		return Report{
			Kind:       kind,
			StandardID: binary.LittleEndian.Uint32(payload[1:]),
			Angle:      int(binary.LittleEndian.Uint16(payload[5:])),
		}, nil
	case KindPositionMissed:
		return Report{Kind: kind}, fmt.Errorf("%w: position id missed", ErrUndecodable)
	case KindStandardMissed:
		return Report{Kind: kind}, fmt.Errorf("%w: standard id missed", ErrUndecodable)
	}
	return Report{Kind: kind}, fmt.Errorf("%w: unknown kind 0x%02x", ErrUndecodable, byte(kind))
}

// EncodePosition builds a position notification whose sensor fields mirror the center.
func EncodePosition(x, y, angle int) []byte {
	payload := make([]byte, positionLen)
	payload[0] = byte(KindPosition)
	for i, v := range []int{x, y, angle, x, y, angle} {
		binary.LittleEndian.PutUint16(payload[1+2*i:], uint16(v))
	}
	return payload
}

// EncodeMissed builds the notification sent when the cube loses sight of the mat.
func EncodeMissed() []byte {
	return []byte{byte(KindPositionMissed)}
}

// MatGeometry maps raw mat coordinates to signed mat cells whose (0,0) is the mat center.
type MatGeometry struct {
	CenterX  float64 `yaml:"centerX" mapstructure:"centerX"`
	CenterY  float64 `yaml:"centerY" mapstructure:"centerY"`
	CellSize float64 `yaml:"cellSize" mapstructure:"cellSize"`
}

// DefaultMat is the development mat used by the workshop setup.
var DefaultMat = MatGeometry{
	CenterX:  250,
	CenterY:  250,
	CellSize: 60,
}

// CellOf returns the mat cell containing the raw point.
func (mg MatGeometry) CellOf(x, y int) (cx, cy int) {
	cx = int(math.Round((float64(x) - mg.CenterX) / mg.CellSize))
	cy = int(math.Round((float64(y) - mg.CenterY) / mg.CellSize))
	return
}

// CellCenter is the raw point at the center of a mat cell.
func (mg MatGeometry) CellCenter(cx, cy int) (x, y int) {
	x = int(math.Round(mg.CenterX + float64(cx)*mg.CellSize))
	y = int(math.Round(mg.CenterY + float64(cy)*mg.CellSize))
	return
}
