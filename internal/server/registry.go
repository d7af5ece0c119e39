package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	sessionTTL = 300 * time.Second
	shadowTTL  = 24 * time.Hour
)

// Registry mirrors live sessions into Redis so other services can find
// which gateway holds a device. A nil client turns every call into a no-op.
type Registry struct {
	redis *redis.Client
	log   zerolog.Logger
}

func NewRegistry(client *redis.Client, log zerolog.Logger) *Registry {
	return &Registry{redis: client, log: log.With().Str("component", "registry").Logger()}
}

func sessionKey(id string) string { return fmt.Sprintf("fms:sess:%s", id) }
func shadowKey(id string) string  { return fmt.Sprintf("fms:shadow:%s", id) }

func (r *Registry) Register(ctx context.Context, s *Session) {
	if r.redis == nil {
		return
	}
	value := fmt.Sprintf("%s:%s:%s", s.GatewayID, s.ProtocolName(), s.ClientIP)
	if err := r.redis.Set(ctx, sessionKey(s.ID), value, sessionTTL).Err(); err != nil {
		r.log.Warn().Err(err).Str("session", s.ID).Msg("Failed to register session")
		return
	}
	r.log.Debug().Str("session", s.ID).Str("value", value).Msg("Session registered")
}

// Touch extends the session TTL and updates the device shadow
func (r *Registry) Touch(ctx context.Context, s *Session) {
	if r.redis == nil {
		return
	}
	pipe := r.redis.Pipeline()
	pipe.Expire(ctx, sessionKey(s.ID), sessionTTL)
	pipe.HSet(ctx, shadowKey(s.ID),
		"ts", time.Now().Unix(),
		"protocol", s.ProtocolName(),
		"frames", s.frames.Load(),
		"rx_bytes", s.rxBytes.Load(),
	)
	pipe.Expire(ctx, shadowKey(s.ID), shadowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn().Err(err).Str("session", s.ID).Msg("Failed to update session TTL")
	}
}

func (r *Registry) Remove(ctx context.Context, s *Session) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Del(ctx, sessionKey(s.ID)).Err(); err != nil {
		r.log.Warn().Err(err).Str("session", s.ID).Msg("Failed to remove session")
	}
}
