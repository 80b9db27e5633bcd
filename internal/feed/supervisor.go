package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/metrics"
	"github.com/Tidy1/TidyTapBit/internal/safety"
)

// Conn is one live stream connection. Events() is closed when the connection
// dies; Err() then reports why.
type Conn interface {
	Subscribe(ctx context.Context, sub Subscription) error
	Events() <-chan Event
	Err() error
	Close() error
}

// Dialer opens a fresh connection, including any private login handshake.
type Dialer func(ctx context.Context) (Conn, error)

const defaultReconnectBackoff = 5 * time.Second

// Supervisor owns the desired-subscription set and keeps one connection
// alive. After every successful redial it replays all subscriptions, private
// channels first, before dispatching any event, so consumers never observe a
// half-subscribed stream.
type Supervisor struct {
	dial     Dialer
	handlers Handlers
	backoff  time.Duration
	breaker  *safety.Breaker
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	subs   []Subscription
	conn   Conn
	closed bool
}

func NewSupervisor(dial Dialer, handlers Handlers, breaker *safety.Breaker, m *metrics.Metrics, logger *zap.Logger) *Supervisor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		dial:     dial,
		handlers: handlers,
		backoff:  defaultReconnectBackoff,
		breaker:  breaker,
		metrics:  m,
		logger:   logger,
	}
}

func (s *Supervisor) SetBackoff(d time.Duration) {
	if d > 0 {
		s.backoff = d
	}
}

// Subscribe records the subscription for replay and issues it immediately if
// a connection is live. Duplicate subscriptions are ignored.
func (s *Supervisor) Subscribe(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	for _, existing := range s.subs {
		if existing == sub {
			s.mu.Unlock()
			return nil
		}
	}
	s.subs = append(s.subs, sub)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Subscribe(ctx, sub)
}

// Run connects and dispatches events until the context is canceled.
// Disconnects are never fatal: the supervisor redials with a fixed backoff
// indefinitely.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.breaker.AllowReconnect(); err != nil {
			s.logger.Warn("reconnect gated by circuit breaker", zap.Error(err))
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		conn, err := s.dial(ctx)
		if trip := s.breaker.RecordReconnect(err); trip != nil {
			err = trip
		}
		if err != nil {
			s.logger.Warn("feed dial failed", zap.Error(err))
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		s.metrics.FeedReconnects.Inc()

		if err := s.replay(ctx, conn); err != nil {
			s.logger.Warn("subscription replay failed", zap.Error(err))
			_ = conn.Close()
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		if s.handlers.OnConnected != nil {
			s.handlers.OnConnected()
		}

		s.pump(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		if s.handlers.OnDisconnected != nil {
			s.handlers.OnDisconnected(conn.Err())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Info("feed disconnected, will reconnect",
			zap.Duration("backoff", s.backoff),
			zap.Error(conn.Err()))
		if !s.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// replay reissues every desired subscription on the fresh connection,
// private channels before public ones.
func (s *Supervisor) replay(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	subs := make([]Subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		if !sub.Private {
			continue
		}
		if err := conn.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	for _, sub := range subs {
		if sub.Private {
			continue
		}
		if err := conn.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) pump(ctx context.Context, conn Conn) {
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			s.handlers.dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	select {
	case <-time.After(s.backoff):
		return true
	case <-ctx.Done():
		return false
	}
}
