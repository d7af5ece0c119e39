package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"openfms/framekit/internal/message"
	"openfms/framekit/internal/model"
	"openfms/framekit/internal/protocol"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrWriteFailed     = errors.New("write to device failed")
)

// CommandResult describes a command that was built and written to a device
type CommandResult struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	SentAt    time.Time `json:"sent_at"`
	*message.BuildResult
}

// SendCommand builds a saved command of the session's protocol and writes it
// to the device.
func (s *TCPServer) SendCommand(ctx context.Context, sessionID, name string, params map[string]any, payload []byte) (*CommandResult, error) {
	session, ok := s.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	built, err := s.build(ctx, session.Protocol(), name, params, payload)
	if err != nil {
		return nil, err
	}

	if err := session.Write(built.Data, commandWriteTimeout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	res := &CommandResult{
		MessageID:   uuid.NewString(),
		SessionID:   session.ID,
		Command:     name,
		SentAt:      time.Now(),
		BuildResult: built,
	}
	s.metrics.RecordBytes("tx", len(built.Data))
	s.traffic.record(trafficEntry(session, model.DirectionTX, res.MessageID, built.Data, res.SentAt))

	s.log.Info().
		Str("session", session.ID).
		Str("command", name).
		Str("message_id", res.MessageID).
		Int("bytes", len(built.Data)).
		Msg("Command sent")
	return res, nil
}

// Preview builds a saved command without sending it
func (s *TCPServer) Preview(ctx context.Context, protoName, name string, params map[string]any, payload []byte) (*message.BuildResult, error) {
	proto, err := s.project.Protocol(protoName)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, proto, name, params, payload)
}

// Describe decodes a frame against one of a protocol's structures
func (s *TCPServer) Describe(protoName, structure string, frame []byte) (*message.Description, error) {
	proto, err := s.project.Protocol(protoName)
	if err != nil {
		return nil, err
	}
	st, err := proto.Structure(structure)
	if err != nil {
		return nil, err
	}
	return message.Describe(st, frame)
}

// SetFraming switches a live session to a new framing configuration
func (s *TCPServer) SetFraming(ctx context.Context, sessionID string, cfg protocol.FramingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	session, ok := s.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	session.strategy.Store(cfg.Strategy)
	session.framer.SetConfig(ctx, cfg)
	return nil
}

// Flush forces out a session's buffered bytes
func (s *TCPServer) Flush(ctx context.Context, sessionID string) error {
	session, ok := s.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	session.framer.Flush(ctx)
	return nil
}

func (s *TCPServer) build(ctx context.Context, proto *protocol.Protocol, name string, params map[string]any, payload []byte) (*message.BuildResult, error) {
	cmd, err := proto.Command(name)
	if err != nil {
		return nil, err
	}
	st, err := proto.Structure(cmd.Structure)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, st, cmd.Options(params, payload))
}

func (s *TCPServer) downlinkSubject() string {
	return fmt.Sprintf("%s.downlink.%s", s.config.SubjectPrefix, s.config.GatewayID)
}

func (s *TCPServer) startDownlinkConsumer() {
	if s.nats == nil {
		return
	}
	subject := s.downlinkSubject()
	sub, err := s.nats.Subscribe(subject, func(msg *nats.Msg) {
		s.handleDownlink(msg.Data)
	})
	if err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("Failed to subscribe to downlink")
		return
	}
	s.log.Info().Str("subject", subject).Msg("Downlink consumer started")

	<-s.ctx.Done()
	sub.Unsubscribe()
}

func (s *TCPServer) handleDownlink(data []byte) {
	var req protocol.CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn().Err(err).Msg("Failed to unmarshal command")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, commandWriteTimeout)
	defer cancel()
	if _, err := s.SendCommand(ctx, req.SessionID, req.Command, req.Params, req.Payload); err != nil {
		s.log.Warn().Err(err).
			Str("session", req.SessionID).
			Str("command", req.Command).
			Msg("Failed to send downlink command")
	}
}
