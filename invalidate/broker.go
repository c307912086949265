package invalidate

import "context"

// Broker is a publish/subscribe transport.
type Broker interface {
	// Publish delivers payload to every current subscriber of channel,
	// including the publisher's own subscriptions.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts receiving channel. The subscription is live when
	// Subscribe returns.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is one live subscriber.
type Subscription interface {
	// Messages is closed after Close.
	Messages() <-chan []byte
	Close() error
}
