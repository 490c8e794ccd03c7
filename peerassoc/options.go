package peerassoc

import "time"

// options holds the functional-options state resolved at construction.
// This is the Go realization of the positional (do_handshake_on_connect,
// suppress_ragged_eofs, ...) trailer a standard TLS-socket constructor
// takes: Go has no clean positional-optional-argument convention for this
// many fields, so each becomes an Option.
type options struct {
	doHandshakeOnConnect bool
	suppressRaggedEOFs   bool
	readDeadline         time.Duration
	writeDeadline        time.Duration
}

// defaultOptions mirrors the platform TLS-socket module's own defaults:
// suppress_ragged_eofs defaults to true, do_handshake_on_connect to false
// is the exception — most DTLS callers want the handshake to happen
// synchronously at connect time, so this engine defaults it on; callers
// doing non-blocking handshakes opt out explicitly.
func defaultOptions() options {
	return options{
		doHandshakeOnConnect: true,
		suppressRaggedEOFs:   true,
	}
}

func resolveOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures an Association at construction.
type Option func(*options)

// WithDoHandshakeOnConnect controls whether Connect (client) or Accept
// (listener, applied to the promoted Association) drives the handshake to
// completion synchronously. Defaults to true.
func WithDoHandshakeOnConnect(v bool) Option {
	return func(o *options) { o.doHandshakeOnConnect = v }
}

// WithSuppressRaggedEOFs controls whether Read on an orderly-closed
// Association returns an empty read (true, the default) or surfaces the
// underlying io.EOF-shaped error (false).
func WithSuppressRaggedEOFs(v bool) Option {
	return func(o *options) { o.suppressRaggedEOFs = v }
}

// WithTimeout sets both the read and write deadline applied to each I/O
// operation; zero (the default) blocks indefinitely. A finite timeout is
// what drives an Association's BIOs into non-blocking mode before each
// operation (§5's blocking-mode tracking).
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readDeadline = d
		o.writeDeadline = d
	}
}
