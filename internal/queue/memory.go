package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MemoryConfig configures a Memory queue's delivery semantics.
type MemoryConfig struct {
	// Concurrency is how many Handler invocations Consume runs in parallel.
	Concurrency int
	// VisibilityTimeout is how long a delivered-but-unacked message is held
	// invisible before being redelivered.
	VisibilityTimeout time.Duration
	// MaxDeliveries caps redelivery attempts before a message is dropped to
	// DeadLetter (if set) instead of being redelivered again.
	MaxDeliveries int
	// DeadLetter, if non-nil, receives messages that exhausted MaxDeliveries.
	DeadLetter func(ctx context.Context, msg Message, lastErr error)
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	return c
}

type inFlight struct {
	msg      Message
	deadline time.Time
	attempts int
	lastErr  error
}

// Memory is an in-process Queue backed by a buffered channel, with a
// visibility-timeout sweeper that redelivers messages a handler never acked.
// It has no durability across process restarts — intended for tests and
// single-process deployments, not a production broker replacement.
type Memory struct {
	cfg MemoryConfig

	mu       sync.Mutex
	ready    chan Message
	flight   map[string]*inFlight
	closed   bool
	closedCh chan struct{}
}

// NewMemory builds a Memory queue with the given buffer capacity and
// delivery config.
func NewMemory(bufferSize int, cfg MemoryConfig) *Memory {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Memory{
		cfg:      cfg.withDefaults(),
		ready:    make(chan Message, bufferSize),
		flight:   make(map[string]*inFlight),
		closedCh: make(chan struct{}),
	}
}

func (m *Memory) nextID() string {
	return uuid.New().String()
}

// Send enqueues body for immediate delivery.
func (m *Memory) Send(ctx context.Context, body []byte) error {
	return m.SendDelayed(ctx, body, 0)
}

// SendBatch enqueues each body for immediate delivery.
func (m *Memory) SendBatch(ctx context.Context, bodies [][]byte) error {
	for _, b := range bodies {
		if err := m.Send(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// SendDelayed enqueues body, becoming visible after delaySeconds. Negative
// values are clamped to zero.
func (m *Memory) SendDelayed(ctx context.Context, body []byte, delaySeconds int) error {
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	msg := Message{ID: m.nextID(), Body: body, DelaySeconds: delaySeconds}

	if delaySeconds == 0 {
		return m.enqueue(ctx, msg)
	}

	go func() {
		select {
		case <-time.After(time.Duration(delaySeconds) * time.Second):
			_ = m.enqueue(context.Background(), msg)
		case <-m.closedCh:
		}
	}()
	return nil
}

func (m *Memory) enqueue(ctx context.Context, msg Message) error {
	select {
	case m.ready <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume launches cfg.Concurrency workers pulling from the queue until ctx
// is canceled, plus a sweeper goroutine that redelivers messages whose
// visibility timeout elapsed without an ack. It returns once all workers and
// the sweeper have stopped.
func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.sweep(ctx)
		return nil
	})

	for i := 0; i < m.cfg.Concurrency; i++ {
		g.Go(func() error {
			return m.worker(ctx, handler)
		})
	}

	err := g.Wait()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	close(m.closedCh)
	return err
}

func (m *Memory) worker(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-m.ready:
			if !ok {
				return nil
			}
			m.track(msg)
			err := handler(ctx, msg)
			if err == nil {
				m.untrack(msg.ID)
				continue
			}
			m.handleFailure(ctx, msg, err)
		}
	}
}

func (m *Memory) track(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flight[msg.ID]
	if !ok {
		f = &inFlight{msg: msg}
		m.flight[msg.ID] = f
	}
	f.attempts++
	f.deadline = time.Now().Add(m.cfg.VisibilityTimeout)
}

func (m *Memory) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flight, id)
}

func (m *Memory) handleFailure(ctx context.Context, msg Message, err error) {
	m.mu.Lock()
	f := m.flight[msg.ID]
	if f != nil {
		f.lastErr = err
	}
	exhausted := f != nil && f.attempts >= m.cfg.MaxDeliveries
	m.mu.Unlock()

	if exhausted {
		m.untrack(msg.ID)
		if m.cfg.DeadLetter != nil {
			m.cfg.DeadLetter(ctx, msg, err)
		}
		return
	}

	// Make immediately redeliverable rather than waiting out the full
	// visibility timeout; a handler that errors synchronously already knows
	// it failed. The in-flight entry is kept so its attempt count carries
	// over to the next delivery.
	_ = m.enqueue(ctx, msg)
}

// sweep redelivers messages whose visibility timeout elapsed without being
// untracked (e.g. a worker that panicked or was killed mid-handler).
func (m *Memory) sweep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.VisibilityTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.redeliverExpired(ctx)
		}
	}
}

func (m *Memory) redeliverExpired(ctx context.Context) {
	now := time.Now()
	var expired []Message
	var deadLettered []*inFlight

	m.mu.Lock()
	for id, f := range m.flight {
		if now.Before(f.deadline) {
			continue
		}
		if f.attempts >= m.cfg.MaxDeliveries {
			deadLettered = append(deadLettered, f)
			delete(m.flight, id)
		} else {
			// Keep the entry so the attempt count carries over, and push
			// the deadline out so the next tick does not enqueue it again.
			f.deadline = now.Add(m.cfg.VisibilityTimeout)
			expired = append(expired, f.msg)
		}
	}
	m.mu.Unlock()

	for _, msg := range expired {
		_ = m.enqueue(ctx, msg)
	}
	for _, f := range deadLettered {
		if m.cfg.DeadLetter != nil {
			m.cfg.DeadLetter(ctx, f.msg, f.lastErr)
		}
	}
}
