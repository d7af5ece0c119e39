package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"openfms/framekit/internal/framing"
	"openfms/framekit/internal/model"
	"openfms/framekit/internal/protocol"
)

// Session represents a device connection
type Session struct {
	ID          string
	GatewayID   string
	ClientIP    string
	Fingerprint string
	PortName    string
	ConnectedAt time.Time

	conn     net.Conn
	protocol *protocol.Protocol
	framer   *framing.StreamFramer
	strategy atomic.Value // protocol.Strategy, readable from the frame handler
	writeMu  sync.Mutex

	lastActive atomic.Int64 // unix millis
	rxBytes    atomic.Uint64
	txBytes    atomic.Uint64
	frames     atomic.Uint64
}

// SessionInfo is the JSON view of a session
type SessionInfo struct {
	ID          string                 `json:"id"`
	GatewayID   string                 `json:"gateway_id"`
	ClientIP    string                 `json:"client_ip"`
	Fingerprint string                 `json:"device_fingerprint"`
	Protocol    string                 `json:"protocol"`
	Framing     protocol.FramingConfig `json:"framing"`
	Buffered    int                    `json:"buffered"`
	RXBytes     uint64                 `json:"rx_bytes"`
	TXBytes     uint64                 `json:"tx_bytes"`
	Frames      uint64                 `json:"frames"`
	ConnectedAt time.Time              `json:"connected_at"`
	LastActive  time.Time              `json:"last_active"`
}

func newSession(id, gatewayID string, conn net.Conn) *Session {
	now := time.Now()
	remote := conn.RemoteAddr().String()
	s := &Session{
		ID:          id,
		GatewayID:   gatewayID,
		ClientIP:    remote,
		Fingerprint: model.DeviceFingerprint(remote),
		PortName:    conn.LocalAddr().String(),
		ConnectedAt: now,
		conn:        conn,
	}
	s.lastActive.Store(now.UnixMilli())
	return s
}

// Protocol returns the protocol resolved for the connection, or nil before detection
func (s *Session) Protocol() *protocol.Protocol {
	return s.protocol
}

func (s *Session) ProtocolName() string {
	if s.protocol == nil {
		return ""
	}
	return s.protocol.Name
}

func (s *Session) Strategy() protocol.Strategy {
	v, _ := s.strategy.Load().(protocol.Strategy)
	return v
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixMilli())
}

// Write sends data to the device. Concurrent writers are serialized.
func (s *Session) Write(data []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	n, err := s.conn.Write(data)
	s.txBytes.Add(uint64(n))
	if err != nil {
		return err
	}
	s.touch()
	return nil
}

func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:          s.ID,
		GatewayID:   s.GatewayID,
		ClientIP:    s.ClientIP,
		Fingerprint: s.Fingerprint,
		Protocol:    s.ProtocolName(),
		RXBytes:     s.rxBytes.Load(),
		TXBytes:     s.txBytes.Load(),
		Frames:      s.frames.Load(),
		ConnectedAt: s.ConnectedAt,
		LastActive:  time.UnixMilli(s.lastActive.Load()),
	}
	if s.framer != nil {
		info.Framing = s.framer.Config()
		info.Buffered = s.framer.Buffered()
	}
	return info
}

const (
	EventSessionOpened = "session_opened"
	EventSessionClosed = "session_closed"
)

// Reasons a session was closed
const (
	ClosePeer            = "peer_closed"
	CloseTimeout         = "timeout"
	CloseReadError       = "read_error"
	CloseShutdown        = "shutdown"
	CloseUnknownProtocol = "unknown_protocol"
)

// SessionEvent announces a session being opened or closed
type SessionEvent struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	Gateway     string    `json:"gateway"`
	Protocol    string    `json:"protocol"`
	ClientIP    string    `json:"client_ip"`
	Fingerprint string    `json:"device_fingerprint"`
	PortName    string    `json:"port_name"`
	Reason      string    `json:"reason,omitempty"`
	RXBytes     uint64    `json:"rx_bytes"`
	Frames      uint64    `json:"frames"`
	ConnectedAt time.Time `json:"connected_at"`
	Timestamp   time.Time `json:"timestamp"`
}

func newSessionEvent(typ string, s *Session, reason string) SessionEvent {
	return SessionEvent{
		Type:        typ,
		SessionID:   s.ID,
		Gateway:     s.GatewayID,
		Protocol:    s.ProtocolName(),
		ClientIP:    s.ClientIP,
		Fingerprint: s.Fingerprint,
		PortName:    s.PortName,
		Reason:      reason,
		RXBytes:     s.rxBytes.Load(),
		Frames:      s.frames.Load(),
		ConnectedAt: s.ConnectedAt,
		Timestamp:   time.Now(),
	}
}
