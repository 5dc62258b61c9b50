// Package transcript ships conversation turns to Redis asynchronously so
// downstream consumers can read a session's transcript after it ends.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yuzu/concierge/internal/conversation"
)

var ErrClosed = errors.New("transcript sink closed")

const queueSize = 1024

type item struct {
	sessionID string
	turn      conversation.Turn
	flushed   chan struct{}
}

// RedisSink appends each turn as JSON to the list transcript:<session>.
// Record never blocks the conversation; a full queue drops the turn.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan item
	done   chan struct{}
}

func NewRedisSink(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RedisSink{
		client: client,
		prefix: "transcript",
		ttl:    ttl,
		logger: logger.Named("transcript"),
		queue:  make(chan item, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RedisSink) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, sessionID)
}

func (s *RedisSink) Record(sessionID string, t conversation.Turn) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- item{sessionID: sessionID, turn: t}:
	default:
		metricDropped.Inc()
		s.logger.Warn("transcript queue full, dropping turn", zap.String("session_id", sessionID))
	}
}

func (s *RedisSink) run() {
	defer close(s.done)
	for it := range s.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		if err := s.write(it); err != nil {
			metricWriteErrors.Inc()
			s.logger.Warn("transcript write failed", zap.String("session_id", it.sessionID), zap.Error(err))
		}
	}
}

func (s *RedisSink) write(it item) error {
	b, err := json.Marshal(it.turn)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	key := s.key(it.sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, b)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	if err == nil {
		metricWritten.Inc()
	}
	return err
}

// Flush waits until every turn recorded before the call has been written.
func (s *RedisSink) Flush(ctx context.Context) error {
	marker := item{flushed: make(chan struct{})}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- marker:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()
	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load returns a session's stored transcript in order.
func (s *RedisSink) Load(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Turn, 0, len(raw))
	for _, r := range raw {
		var t conversation.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode transcript entry: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Close drains the queue and closes the Redis client.
func (s *RedisSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.client.Close()
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
