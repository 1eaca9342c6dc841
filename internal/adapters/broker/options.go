package broker

// Default broker configuration constants.
const (
	defaultSubscriberBuffer = 64
)

// Option applies a configuration option to the Broker.
type Option func(*Broker)

// WithSubscriberBuffer sets each subscription's channel buffer.
func WithSubscriberBuffer(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.subBuffer = size
		}
	}
}
