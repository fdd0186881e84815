// Package bus provides event bus implementations for Fraudwatch.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// ChannelBus is an in-process EventBus backed by buffered channels.
// Delivery is at-most-once: a subscriber whose buffer is full misses the
// message, and Close abandons whatever is still buffered. Unsubscribe
// delivers the buffered messages first.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string][]*channelSubscription
	closed     bool
	wg         sync.WaitGroup
	dropped    atomic.Int64
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewChannelBus creates a channel bus with the given per-subscriber buffer.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string][]*channelSubscription),
	}
}

// Publish fans a message out to every subscriber of topic without blocking.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	msg := newMessage(topic, payload)
	for _, sub := range b.topics[topic] {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber buffer full, message dropped",
				"topic", topic,
				"subscription", sub.id,
			)
		}
	}
	return nil
}

// Subscribe starts a goroutine that delivers messages for topic to handler
// until the subscription, its context or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	b.topics[topic] = append(b.topics[topic], sub)

	b.wg.Add(1)
	go sub.run(&b.wg)

	return sub, nil
}

func (s *channelSubscription) run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stop:
			s.drain()
			return
		case msg := <-s.msgCh:
			s.deliver(msg)
		}
	}
}

// drain delivers what is left in the buffer. Nothing new arrives once the
// subscription has been removed from the bus.
func (s *channelSubscription) drain() {
	for s.ctx.Err() == nil {
		select {
		case msg := <-s.msgCh:
			s.deliver(msg)
		default:
			return
		}
	}
}

func (s *channelSubscription) deliver(msg *domain.Message) {
	if err := s.handler(s.ctx, msg); err != nil {
		slog.Error("handler error",
			"topic", s.topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops all subscriptions and waits for in-flight handlers.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = make(map[string][]*channelSubscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.topics[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[sub.topic]) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Unsubscribe stops receiving new messages, hands the ones already
// buffered to the handler and returns when it is done. It must not be
// called from the subscription's own handler.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
