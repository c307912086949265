package invalidate

import (
	"context"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Broker = (*RedisBroker)(nil)

// RedisBroker is a Broker over Redis PUBLISH/SUBSCRIBE. The caller owns
// the client lifecycle.
type RedisBroker struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// NewRedisBroker creates a RedisBroker.
func NewRedisBroker(client goredis.UniversalClient, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, logger: logger}
}

// Publish sends payload on channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub connection and waits for the subscription to
// be confirmed before returning.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s := &redisSub{
		ps:   ps,
		ch:   make(chan []byte, DefaultBufferSize),
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.forward(b.logger, channel)
	return s, nil
}

type redisSub struct {
	ps   *goredis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *redisSub) Messages() <-chan []byte { return s.ch }

// forward copies pub/sub payloads onto ch until Close.
func (s *redisSub) forward(logger *slog.Logger, channel string) {
	defer s.wg.Done()
	defer close(s.ch)

	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			default:
				logger.Warn("invalidation message dropped, subscriber buffer full",
					slog.String("channel", channel),
				)
			}
		}
	}
}

// Close ends the subscription. Safe to call multiple times.
func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.wg.Wait()
	})
	return err
}
