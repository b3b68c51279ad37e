package peripheral

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// GATT identifiers of the box. Fixed by the firmware.
const (
	ServiceUUID        = "12345678-1234-5678-1234-56789abcdef0"
	CommandCharUUID    = "12345678-1234-5678-1234-56789abcdef1"
	handshakeSignature = "RiderBox"
)

var (
	ErrHandshakeMismatch = errors.New("peripheral handshake mismatch")
	ErrNotConnected      = errors.New("no box connected")
)

type State int32

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateHandshaking
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "SCANNING"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "DISCONNECTED"
	}
}

// Discovered is one advertisement seen during a scan.
type Discovered struct {
	ID   string
	Name string
}

// Transport is the radio. Scan blocks until ctx is cancelled or the radio
// fails; Connect yields a device already bound to the box's command
// characteristic.
type Transport interface {
	Scan(ctx context.Context, onFound func(Discovered)) error
	StopScan() error
	Connect(ctx context.Context, deviceID string) (Device, error)
}

type Device interface {
	ReadIdentification() ([]byte, error)
	WriteCommand(data []byte) error
	Disconnect() error
}

// Connection is a handshaken box link. One logical device at a time; owned
// by the session, not by the delivery controller.
type Connection struct {
	DeviceID string
	dev      Device
}

type Link struct {
	t     Transport
	state atomic.Int32

	mu   sync.Mutex
	conn *Connection
}

func NewLink(t Transport) *Link {
	return &Link{t: t}
}

func (l *Link) State() State {
	return State(l.state.Load())
}

func (l *Link) setState(s State) {
	l.state.Store(int32(s))
}

// Scan streams discovered boxes, deduplicated by device id, until ctx is
// cancelled or StopScan is called. Callers bound the scan duration via ctx.
// Radio failures arrive on the error channel; both channels settle when the
// scan ends.
func (l *Link) Scan(ctx context.Context) (<-chan Discovered, <-chan error) {
	out := make(chan Discovered, 8)
	errc := make(chan error, 1)
	l.setState(StateScanning)

	go func() {
		defer close(out)
		defer close(errc)
		seen := make(map[string]struct{})
		err := l.t.Scan(ctx, func(d Discovered) {
			if _, ok := seen[d.ID]; ok {
				return
			}
			seen[d.ID] = struct{}{}
			select {
			case out <- d:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			errc <- errors.Wrap(err, "scan")
		}
		if l.State() == StateScanning {
			l.setState(StateDisconnected)
		}
	}()

	return out, errc
}

func (l *Link) StopScan() {
	if err := l.t.StopScan(); err != nil {
		slog.Warn("stop scan", "error", err.Error())
	}
	if l.State() == StateScanning {
		l.setState(StateDisconnected)
	}
}

// Connect establishes the link and performs the handshake: the
// identification characteristic must decode to UTF-8 text containing the
// box signature, otherwise the link is torn down and the caller must retry.
// On success the rider id is announced immediately; that write failing is a
// warning, not a connection failure.
func (l *Link) Connect(ctx context.Context, deviceID, riderID string) (*Connection, error) {
	l.StopScan()
	l.setState(StateConnecting)

	dev, err := l.t.Connect(ctx, deviceID)
	if err != nil {
		l.setState(StateFailed)
		return nil, errors.Wrap(err, "connect")
	}
	if dev == nil {
		l.setState(StateFailed)
		return nil, errors.New("transport returned no device")
	}

	l.setState(StateHandshaking)
	raw, err := dev.ReadIdentification()
	if err != nil {
		_ = dev.Disconnect()
		l.setState(StateFailed)
		return nil, errors.Wrap(err, "read identification")
	}
	if !strings.Contains(string(raw), handshakeSignature) {
		_ = dev.Disconnect()
		l.setState(StateFailed)
		return nil, ErrHandshakeMismatch
	}

	conn := &Connection{DeviceID: deviceID, dev: dev}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.setState(StateConnected)
	slog.Info("box connected", "device_id", deviceID)

	if err := l.SendCommand(conn, RiderIDCommand(riderID)); err != nil {
		slog.Warn("rider id announce failed", "device_id", deviceID, "error", err.Error())
	}

	return conn, nil
}

// SendCommand writes a text command wrapped in the base64 envelope the
// firmware expects. Failure is advisory; it never propagates past this
// boundary as anything but an error value.
func (l *Link) SendCommand(conn *Connection, text string) error {
	if conn == nil || conn.dev == nil {
		return ErrNotConnected
	}
	payload := []byte(base64.StdEncoding.EncodeToString([]byte(text)))
	if err := conn.dev.WriteCommand(payload); err != nil {
		return errors.Wrap(err, "write command")
	}
	return nil
}

// SendTopic points the box at the telemetry topic for the active order.
func (l *Link) SendTopic(topic string) error {
	return l.SendCommand(l.current(), TopicCommand(topic))
}

// SendOrderCompleted emits the completion record for a delivered order.
func (l *Link) SendOrderCompleted(orderID string, totalPrice float64, clientID string) error {
	return l.SendCommand(l.current(), OrderCompletedCommand(orderID, totalPrice, clientID))
}

func (l *Link) current() *Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// Disconnect releases the held connection, if any.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil && conn.dev != nil {
		if err := conn.dev.Disconnect(); err != nil {
			slog.Warn("box disconnect", "device_id", conn.DeviceID, "error", err.Error())
		}
	}
	l.setState(StateDisconnected)
}
