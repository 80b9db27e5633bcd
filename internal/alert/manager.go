package alert

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultAlertQueueSize     = 128
	defaultDropReportInterval = time.Minute
)

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
	Logger             *zap.Logger
}

// Manager delivers important events to the notifier asynchronously through a
// bounded queue. When the queue is full the event is dropped and accounted
// for rather than blocking the trading path.
type Manager struct {
	mode                 string
	label                string
	notifier             Notifier
	logger               *zap.Logger
	queue                chan alertEvent
	stop                 chan struct{}
	done                 chan struct{}
	dropReportInterval   time.Duration
	droppedTotal         uint64
	droppedSinceReported uint64
	wg                   sync.WaitGroup
	mu                   sync.RWMutex
	closed               bool
}

type alertEvent struct {
	event  string
	fields map[string]string
}

func NewManager(mode, label string, notifier Notifier) *Manager {
	return NewManagerWithOptions(mode, label, notifier, ManagerOptions{
		QueueSize:          defaultAlertQueueSize,
		DropReportInterval: defaultDropReportInterval,
	})
}

func NewManagerWithOptions(mode, label string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultAlertQueueSize
	}
	reportInterval := opts.DropReportInterval
	if reportInterval < 0 {
		reportInterval = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		mode:               mode,
		label:              label,
		notifier:           notifier,
		logger:             logger,
		queue:              make(chan alertEvent, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: reportInterval,
	}
	m.wg.Add(1)
	go m.loop()
	if m.dropReportInterval > 0 {
		m.wg.Add(1)
		go m.dropReportLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Manager) Important(event string, fields map[string]string) {
	if m == nil || m.notifier == nil {
		return
	}
	ev := alertEvent{
		event:  event,
		fields: cloneFields(fields),
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	select {
	case m.queue <- ev:
		m.mu.RUnlock()
		return
	default:
		droppedTotal := atomic.AddUint64(&m.droppedTotal, 1)
		droppedInWindow := atomic.AddUint64(&m.droppedSinceReported, 1)
		m.mu.RUnlock()
		// Report first dropped alert in a window immediately; periodic summary emits total drops in window.
		if droppedInWindow == 1 {
			m.logger.Warn("alert queue dropped event",
				zap.String("target_event", event),
				zap.String("reason", "queue_full"),
				zap.Uint64("dropped_total", droppedTotal),
				zap.Int("queue_len", len(m.queue)),
				zap.Int("queue_cap", cap(m.queue)))
		}
	}
}

func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					m.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDroppedSummary()
		case <-m.stop:
			m.reportDroppedSummary()
			return
		}
	}
}

func (m *Manager) reportDroppedSummary() {
	dropped := atomic.SwapUint64(&m.droppedSinceReported, 0)
	if dropped == 0 {
		return
	}
	droppedTotal := atomic.LoadUint64(&m.droppedTotal)
	m.logger.Warn("alert queue drop summary",
		zap.Uint64("dropped_since_last", dropped),
		zap.Uint64("dropped_total", droppedTotal),
		zap.Duration("report_interval", m.dropReportInterval),
		zap.Int("queue_len", len(m.queue)),
		zap.Int("queue_cap", cap(m.queue)))
}

func (m *Manager) droppedStats() (uint64, uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.droppedTotal), atomic.LoadUint64(&m.droppedSinceReported)
}

func (m *Manager) send(ev alertEvent) {
	msg := m.buildMessage(ev.event, ev.fields)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.logger.Error("alert notify failed",
			zap.String("target_event", ev.event),
			zap.Error(err))
	}
}

func (m *Manager) buildMessage(event string, fields map[string]string) string {
	lines := []string{
		"[tidytapbit] important",
		"time: " + time.Now().UTC().Format(time.RFC3339),
		"mode: " + m.mode,
		"account: " + m.label,
		"event: " + event,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+fields[k])
	}
	return strings.Join(lines, "\n")
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
