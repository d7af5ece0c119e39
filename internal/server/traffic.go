package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"openfms/framekit/internal/model"
)

// TrafficStore persists the traffic log
type TrafficStore interface {
	Insert(ctx context.Context, entry *model.TrafficLog) error
	BySession(ctx context.Context, sessionID string, limit, offset int) ([]model.TrafficLog, error)
	ByDevice(ctx context.Context, fingerprint string, limit, offset int) ([]model.TrafficLog, error)
}

// trafficRecorder writes log entries from a single goroutine so slow inserts
// never stall a connection's read loop. Entries are dropped when the queue is full.
type trafficRecorder struct {
	store TrafficStore
	queue chan *model.TrafficLog
	log   zerolog.Logger
}

func newTrafficRecorder(store TrafficStore, log zerolog.Logger) *trafficRecorder {
	return &trafficRecorder{
		store: store,
		queue: make(chan *model.TrafficLog, 1024),
		log:   log.With().Str("component", "traffic").Logger(),
	}
}

func (r *trafficRecorder) record(entry *model.TrafficLog) {
	if r == nil {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.log.Warn().Str("session", entry.SessionID).Str("direction", entry.Direction).Msg("Traffic queue full, dropping entry")
	}
}

func (r *trafficRecorder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.queue:
			insertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.store.Insert(insertCtx, entry); err != nil {
				r.log.Warn().Err(err).Str("session", entry.SessionID).Msg("Failed to store traffic")
			}
			cancel()
		}
	}
}

func trafficEntry(s *Session, direction, messageID string, data []byte, ts time.Time) *model.TrafficLog {
	return &model.TrafficLog{
		DeviceFingerprint: s.Fingerprint,
		SessionID:         s.ID,
		Protocol:          s.ProtocolName(),
		PortName:          s.PortName,
		Direction:         direction,
		MessageID:         messageID,
		Data:              append([]byte(nil), data...),
		Timestamp:         ts,
	}
}
