package safety

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/alert"
	"github.com/Tidy1/TidyTapBit/internal/order"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const (
	defaultReconnectCooldown          = 30 * time.Second
	defaultReconnectHalfOpenSuccesses = 1
)

type circuit struct {
	maxFailures     int
	failures        int
	state           circuitState
	openedAt        time.Time
	openErr         error
	halfOpenSuccess int
}

// Breaker trips independent circuits for order placement, order cancellation
// and feed reconnects after consecutive failures, so a degraded exchange does
// not get hammered by every monitoring loop at once.
type Breaker struct {
	enabled bool

	mu        sync.Mutex
	place     circuit
	cancel    circuit
	reconnect circuit

	reconnectCooldown          time.Duration
	reconnectHalfOpenSuccesses int

	logger  *zap.Logger
	alerter alert.Alerter
}

func NewBreaker(enabled bool, maxPlaceFailures, maxCancelFailures, maxReconnectFailures int, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		enabled:                    enabled,
		place:                      circuit{maxFailures: maxPlaceFailures, state: circuitClosed},
		cancel:                     circuit{maxFailures: maxCancelFailures, state: circuitClosed},
		reconnect:                  circuit{maxFailures: maxReconnectFailures, state: circuitClosed},
		reconnectCooldown:          defaultReconnectCooldown,
		reconnectHalfOpenSuccesses: defaultReconnectHalfOpenSuccesses,
		logger:                     logger,
	}
}

func (b *Breaker) SetReconnectRecovery(cooldown time.Duration, halfOpenSuccesses int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cooldown <= 0 {
		cooldown = defaultReconnectCooldown
	}
	if halfOpenSuccesses < 1 {
		halfOpenSuccesses = defaultReconnectHalfOpenSuccesses
	}
	b.reconnectCooldown = cooldown
	b.reconnectHalfOpenSuccesses = halfOpenSuccesses
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

func (b *Breaker) RecordPlace(err error) error {
	if b == nil {
		return nil
	}
	return b.record("place order", &b.place, err)
}

func (b *Breaker) RecordCancel(err error) error {
	if b == nil {
		return nil
	}
	return b.record("cancel order", &b.cancel, err)
}

func (b *Breaker) RecordReconnect(err error) error {
	if b == nil {
		return nil
	}
	return b.record("reconnect", &b.reconnect, err)
}

// AllowReconnect gates reconnect attempts while the reconnect circuit cools
// down, moving it to half-open once the cooldown has elapsed.
func (b *Breaker) AllowReconnect() error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	if b.reconnect.state != circuitOpen {
		b.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	if b.reconnectCooldown > 0 && now.Sub(b.reconnect.openedAt) < b.reconnectCooldown {
		err := b.reconnect.openErr
		if err == nil {
			err = fmt.Errorf("%w: reconnect circuit is open", ErrCircuitOpen)
		}
		b.mu.Unlock()
		return err
	}
	b.reconnect.state = circuitHalfOpen
	b.reconnect.halfOpenSuccess = 0
	b.reconnect.failures = 0
	b.reconnect.openErr = nil
	alerter := b.alerter
	b.mu.Unlock()
	b.logger.Info("circuit breaker half open",
		zap.String("action", "reconnect"),
		zap.Duration("cooldown", b.reconnectCooldown))
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"action":       "reconnect",
			"cooldown_sec": strconv.FormatInt(int64(b.reconnectCooldown/time.Second), 10),
		})
	}
	return nil
}

func (b *Breaker) ReconnectCooldownRemaining() time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reconnect.state != circuitOpen || b.reconnectCooldown <= 0 {
		return 0
	}
	elapsed := time.Since(b.reconnect.openedAt)
	if elapsed >= b.reconnectCooldown {
		return 0
	}
	return b.reconnectCooldown - elapsed
}

func (b *Breaker) record(name string, c *circuit, err error) error {
	if b == nil || !b.enabled || c == nil {
		return nil
	}

	b.mu.Lock()
	if c.maxFailures < 1 {
		b.mu.Unlock()
		return nil
	}

	if err == nil {
		prevFailures := c.failures
		prevState := c.state
		recovered := false
		switch c.state {
		case circuitHalfOpen:
			c.halfOpenSuccess++
			if c.halfOpenSuccess >= b.reconnectHalfOpenSuccesses || name != "reconnect" {
				recovered = true
				c.state = circuitClosed
				c.failures = 0
				c.openErr = nil
				c.openedAt = time.Time{}
				c.halfOpenSuccess = 0
			}
		case circuitOpen:
			// Only the reconnect path probes from open; everything else
			// waits for a half-open transition.
		case circuitClosed:
			if c.failures > 0 {
				recovered = true
				c.failures = 0
			}
		}
		alerter := b.alerter
		b.mu.Unlock()
		if recovered {
			b.logger.Info("circuit breaker recovered",
				zap.String("action", name),
				zap.Int("previous_consecutive_failures", prevFailures),
				zap.String("from_state", string(prevState)))
			if alerter != nil {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"action":                        name,
					"previous_consecutive_failures": strconv.Itoa(prevFailures),
					"from_state":                    string(prevState),
				})
			}
		}
		return nil
	}

	if c.state == circuitOpen {
		openErr := c.openErr
		if openErr == nil {
			openErr = fmt.Errorf("%w: %s circuit is open", ErrCircuitOpen, name)
			c.openErr = openErr
		}
		b.mu.Unlock()
		return openErr
	}

	if c.state == circuitHalfOpen {
		openErr := b.tripLocked(name, c, err, 1, "half_open_probe_failed")
		alerter := b.alerter
		b.mu.Unlock()
		b.logger.Error("circuit breaker trip",
			zap.String("action", name),
			zap.String("phase", "half_open"),
			zap.Int("threshold", c.maxFailures),
			zap.Error(err))
		if alerter != nil {
			alerter.Important("circuit_breaker_trip", map[string]string{
				"action":     name,
				"phase":      "half_open",
				"threshold":  strconv.Itoa(c.maxFailures),
				"last_error": err.Error(),
			})
		}
		return openErr
	}

	c.failures++
	failures := c.failures
	limit := c.maxFailures
	alerter := b.alerter
	if failures < limit {
		nearTrip := shouldWarnNearTrip(name, failures, limit)
		b.mu.Unlock()
		if nearTrip {
			b.logger.Warn("circuit breaker near trip",
				zap.String("action", name),
				zap.Int("consecutive_failures", failures),
				zap.Int("threshold", limit),
				zap.Error(err))
			if alerter != nil {
				alerter.Important("circuit_breaker_near_trip", map[string]string{
					"action":               name,
					"consecutive_failures": strconv.Itoa(failures),
					"threshold":            strconv.Itoa(limit),
					"last_error":           err.Error(),
				})
			}
		}
		return nil
	}

	openErr := b.tripLocked(name, c, err, failures, "consecutive_failures")
	b.mu.Unlock()
	b.logger.Error("circuit breaker trip",
		zap.String("action", name),
		zap.Int("consecutive_failures", failures),
		zap.Int("threshold", limit),
		zap.Error(err))
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":               name,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(limit),
			"last_error":           err.Error(),
		})
	}
	return openErr
}

func (b *Breaker) tripLocked(name string, c *circuit, err error, failures int, reason string) error {
	if failures < 1 {
		failures = c.maxFailures
	}
	c.state = circuitOpen
	c.openedAt = time.Now().UTC()
	c.halfOpenSuccess = 0
	c.failures = failures
	if name == "reconnect" && b.reconnectCooldown > 0 {
		c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, cooldown=%s, reason=%s, last error: %v", ErrCircuitOpen, name, failures, b.reconnectCooldown.String(), reason, err)
	} else {
		c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, reason=%s, last error: %v", ErrCircuitOpen, name, failures, reason, err)
	}
	return c.openErr
}

func shouldWarnNearTrip(action string, failures, limit int) bool {
	if limit <= 1 || failures != limit-1 {
		return false
	}
	return action == "place order" || action == "cancel order"
}

// GuardedClient wraps the REST client so every placement and cancellation
// feeds the breaker. Once a circuit opens, calls fail fast with the circuit
// error until recovery.
type GuardedClient struct {
	inner   order.Client
	breaker *Breaker
}

func NewGuardedClient(inner order.Client, breaker *Breaker) *GuardedClient {
	return &GuardedClient{inner: inner, breaker: breaker}
}

func (g *GuardedClient) PlaceOrder(ctx context.Context, req order.PlaceRequest) (string, error) {
	id, err := g.inner.PlaceOrder(ctx, req)
	if trip := g.breaker.RecordPlace(err); trip != nil {
		return id, trip
	}
	return id, err
}

func (g *GuardedClient) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	err := g.inner.CancelOrders(ctx, symbol, orderIDs)
	if trip := g.breaker.RecordCancel(err); trip != nil {
		return trip
	}
	return err
}

func (g *GuardedClient) AccountAvailable(ctx context.Context) (decimal.Decimal, error) {
	return g.inner.AccountAvailable(ctx)
}
