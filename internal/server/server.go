package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"openfms/framekit/internal/config"
	"openfms/framekit/internal/framing"
	"openfms/framekit/internal/message"
	"openfms/framekit/internal/metrics"
	"openfms/framekit/internal/model"
	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/script"
)

const commandWriteTimeout = 10 * time.Second

// publisher is the part of *nats.Conn used for uplink
type publisher interface {
	Publish(subject string, data []byte) error
}

// TCPServer accepts device connections, frames their streams and sends
// commands back to them.
type TCPServer struct {
	config    *config.Config
	project   *protocol.Project
	resolver  protocol.Detector
	fallback  string
	extractor *framing.Extractor
	builder   *message.Builder

	nats     *nats.Conn
	uplink   publisher
	registry *Registry
	hub      *Hub
	store    TrafficStore
	traffic  *trafficRecorder
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	log      zerolog.Logger

	listener net.Listener
	router   *gin.Engine
	sessions sync.Map // map[string]*Session
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

type Option func(*TCPServer)

func WithLogger(log zerolog.Logger) Option {
	return func(s *TCPServer) { s.log = log }
}

func WithRedis(client *redis.Client) Option {
	return func(s *TCPServer) { s.registry = NewRegistry(client, s.log) }
}

func WithNATS(nc *nats.Conn) Option {
	return func(s *TCPServer) {
		if nc != nil {
			s.nats = nc
			s.uplink = nc
		}
	}
}

func WithStore(store TrafficStore) Option {
	return func(s *TCPServer) { s.store = store }
}

// WithMetrics records into m and serves g on /metrics
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *TCPServer) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewTCPServer creates a gateway serving the protocols in project
func NewTCPServer(cfg *config.Config, project *protocol.Project, exec script.Executor, opts ...Option) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPServer{
		config:  cfg,
		project: project,
		log:     zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "gateway").Str("gateway_id", cfg.GatewayID).Logger()

	s.fallback = defaultProtocol(cfg, project)
	s.resolver = protocol.Resolver{Project: project, Fallback: s.fallback}
	s.extractor = framing.NewExtractor(exec, s.log, s.metrics)
	s.extractor.ScriptTimeout = cfg.ScriptTimeout
	s.builder = message.NewBuilder(exec, s.log, s.metrics)
	s.builder.TransformTimeout = cfg.ScriptTimeout
	s.hub = NewHub(s.log)
	if s.registry == nil {
		s.registry = NewRegistry(nil, s.log)
	}
	if s.store != nil {
		s.traffic = newTrafficRecorder(s.store, s.log)
	}
	s.router = s.routes()
	return s
}

// defaultProtocol picks the fallback for connections no match prefix identifies.
// A project with a single protocol uses it for everything.
func defaultProtocol(cfg *config.Config, project *protocol.Project) string {
	if cfg.DefaultProtocol != "" {
		return cfg.DefaultProtocol
	}
	if len(project.Protocols) == 1 {
		return project.Protocols[0].Name
	}
	return ""
}

// Start starts the TCP listener, HTTP API and downlink consumer
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.GatewayPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.log.Info().Str("addr", addr).Int("protocols", len(s.project.Protocols)).
		Str("fallback", s.fallback).Msg("TCP server listening")

	s.startBackground()
	go s.startHTTPServer()
	go s.startDownlinkConsumer()
	go s.acceptLoop()
	return nil
}

func (s *TCPServer) startBackground() {
	go s.hub.Run(s.ctx)
	if s.traffic != nil {
		go s.traffic.run(s.ctx)
	}
}

// Stop closes the listener and every device connection
func (s *TCPServer) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.sessions.Range(func(_, value any) bool {
		if sess, ok := value.(*Session); ok {
			sess.conn.Close()
		}
		return true
	})
	s.wg.Wait()
}

func (s *TCPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("Accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	session := newSession(uuid.NewString(), s.config.GatewayID, conn)
	log := s.log.With().Str("session", session.ID).Str("client_ip", session.ClientIP).Logger()
	log.Info().Msg("New connection")

	reason := CloseUnknownProtocol
	defer func() {
		s.cleanupSession(session, reason)
		conn.Close()
		log.Info().
			Str("reason", reason).
			Uint64("rx_bytes", session.rxBytes.Load()).
			Uint64("frames", session.frames.Load()).
			Msg("Connection closed")
	}()

	if !s.resolver.NeedsHeader() && !s.attach(session, nil, log) {
		return
	}

	buffer := make([]byte, 4096)
	for {
		select {
		case <-s.ctx.Done():
			reason = CloseShutdown
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		n, err := conn.Read(buffer)
		if n > 0 {
			now := time.Now()
			data := append([]byte(nil), buffer[:n]...)
			if session.framer == nil && !s.attach(session, data, log) {
				return
			}
			session.rxBytes.Add(uint64(n))
			session.touch()
			s.metrics.RecordBytes("rx", n)
			s.traffic.record(trafficEntry(session, model.DirectionRX, "", data, now))
			session.framer.Push(s.ctx, protocol.TimedChunk{Data: data, Timestamp: now})
		}
		if err != nil {
			reason = s.closeReason(err)
			if reason == CloseReadError {
				log.Warn().Err(err).Msg("Read error")
			}
			if session.framer != nil {
				session.framer.Flush(s.ctx)
			}
			return
		}
	}
}

// attach resolves the session's protocol from its first bytes and creates its
// framer. The session becomes visible to the API only after this succeeds.
func (s *TCPServer) attach(session *Session, header []byte, log zerolog.Logger) bool {
	proto, ok := s.resolver.Match(header)
	if !ok {
		log.Warn().Str("header", protocol.FormatHex(header)).Msg("Unknown protocol, closing connection")
		return false
	}
	session.protocol = proto
	session.strategy.Store(proto.Framing.Strategy)
	session.framer = framing.New(proto.Framing, s.extractor,
		func(frames []protocol.TimedChunk) { s.handleFrames(session, frames) },
		framing.WithLogger(log),
		framing.WithContext(s.ctx),
	)

	s.sessions.Store(session.ID, session)
	s.metrics.SessionOpened(proto.Name)
	s.registry.Register(s.ctx, session)
	s.sessionEvent(newSessionEvent(EventSessionOpened, session, ""))
	log.Info().Str("protocol", proto.Name).Str("strategy", string(proto.Framing.Strategy)).Msg("Protocol detected")
	return true
}

// handleFrames runs under the session framer's lock
func (s *TCPServer) handleFrames(session *Session, frames []protocol.TimedChunk) {
	sizes := make([]int, len(frames))
	for i, f := range frames {
		sizes[i] = len(f.Data)
	}
	s.metrics.RecordFrames(session.ProtocolName(), string(session.Strategy()), sizes...)
	session.frames.Add(uint64(len(frames)))

	for _, f := range frames {
		msg := protocol.NewFrameMessage(session.ID, session.GatewayID, session.ProtocolName(), session.ClientIP, f)
		s.publish(msg)
		s.hub.Publish(msg)
	}
	s.registry.Touch(s.ctx, session)

	s.log.Debug().Str("session", session.ID).Int("frames", len(frames)).Msg("Frames extracted")
}

func (s *TCPServer) publish(msg protocol.FrameMessage) {
	if s.uplink == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal frame")
		return
	}
	prefix := s.config.SubjectPrefix
	if err := s.uplink.Publish(fmt.Sprintf("%s.uplink.%s", prefix, msg.Protocol), data); err != nil {
		s.log.Warn().Err(err).Str("session", msg.SessionID).Msg("Failed to publish frame")
		return
	}
	if err := s.uplink.Publish(prefix+".uplink.all", data); err != nil {
		s.log.Warn().Err(err).Str("session", msg.SessionID).Msg("Failed to publish frame")
	}
}

// closeReason classifies the error that ended a connection's read loop
func (s *TCPServer) closeReason(err error) string {
	var netErr net.Error
	switch {
	case s.ctx.Err() != nil:
		return CloseShutdown
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ClosePeer
	case errors.As(err, &netErr) && netErr.Timeout():
		return CloseTimeout
	default:
		return CloseReadError
	}
}

func (s *TCPServer) cleanupSession(session *Session, reason string) {
	if session.framer == nil {
		return
	}
	session.framer.Reset()
	s.sessions.Delete(session.ID)
	s.metrics.SessionClosed()
	s.registry.Remove(context.Background(), session)
	s.sessionEvent(newSessionEvent(EventSessionClosed, session, reason))
}

// sessionEvent announces a session lifecycle change to monitors and on
// <prefix>.events.<type>
func (s *TCPServer) sessionEvent(evt SessionEvent) {
	s.hub.PublishSession(evt)
	if s.uplink == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal session event")
		return
	}
	subject := fmt.Sprintf("%s.events.%s", s.config.SubjectPrefix, evt.Type)
	if err := s.uplink.Publish(subject, data); err != nil {
		s.log.Warn().Err(err).Str("session", evt.SessionID).Str("subject", subject).Msg("Failed to publish session event")
	}
}

// Session finds a live session by id
func (s *TCPServer) Session(id string) (*Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Sessions lists live sessions
func (s *TCPServer) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0)
	s.sessions.Range(func(_, value any) bool {
		if sess, ok := value.(*Session); ok {
			out = append(out, sess.Info())
		}
		return true
	})
	return out
}
