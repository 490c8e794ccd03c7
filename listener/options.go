package listener

import (
	"dtlsassoc/logging"
	"dtlsassoc/peerassoc"
)

// DefaultMaxPendingAssociations bounds how many cookie-verified peers may sit
// in the pending queue awaiting Accept before Listen blocks acquiring a
// semaphore slot. Named and defaulted exactly like the teacher's
// MaxConcurrentRegistrations: a generous ceiling that only matters under
// sustained abuse, since ordinary Accept loops drain the queue immediately.
const DefaultMaxPendingAssociations = 1000

type options struct {
	maxPendingAssociations int
	queueCapacity          int
	assocOpts              []peerassoc.Option
	logger                 logging.Logger
	dscp                   *int
}

func defaultOptions() options {
	return options{
		maxPendingAssociations: DefaultMaxPendingAssociations,
		logger:                 logging.NewLogLogger(),
	}
}

func resolveOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Listener at construction.
type Option func(*options)

// WithMaxPendingAssociations overrides DefaultMaxPendingAssociations.
func WithMaxPendingAssociations(n int) Option {
	return func(o *options) { o.maxPendingAssociations = n }
}

// WithQueueCapacity sets the datagram queue capacity the Demux uses for the
// overflow queue and for the queue of each promoted peer; 0 keeps
// demux.DefaultQueueCapacity.
func WithQueueCapacity(n int) Option {
	return func(o *options) { o.queueCapacity = n }
}

// WithAssociationOptions passes through peerassoc.Option values applied to
// every Association Accept promotes.
func WithAssociationOptions(opts ...peerassoc.Option) Option {
	return func(o *options) { o.assocOpts = append(o.assocOpts, opts...) }
}

// WithLogger overrides the Listener's diagnostic logger, which otherwise
// defaults to logging.NewLogLogger(). Pass a no-op Logger to silence it.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDSCP marks the shared listening socket's outgoing datagrams with the
// given differentiated-services code point. Handshake traffic (HelloVerify,
// ServerHello, and the rest of the cookie exchange and record-layer
// handshake this Listener drives) is latency sensitive in a way bulk
// application data is not, so operators running on a DSCP-aware network can
// ask for it to be prioritized.
func WithDSCP(dscp int) Option {
	return func(o *options) { o.dscp = &dscp }
}
