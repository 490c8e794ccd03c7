package peerassoc

import (
	"fmt"

	"dtlsassoc/dtlscrypto"
	"dtlsassoc/unwrap"
)

// Shutdown sends a close-notify and waits for the peer's, then returns an
// "unwrapped" socket retaining the same transport path (demux-routed for a
// RoleAccepted association, the association's own connected socket for
// RoleClient) so the application can keep talking to an already-classified
// peer in plaintext.
//
// The first underlying Shutdown call transitions the crypto layer from
// established to sent-close-notify; per §9's open question (confirmed
// against this module's one reference crypto implementation, which is the
// only contract available to port against here), if it reports
// dtlscrypto.ShutdownSent this method calls Shutdown again immediately,
// without disabling read-ahead in between, to consume the peer's
// close-notify if it's already in flight rather than leave it to surface
// as a spurious error on the next operation.
func (a *Association) Shutdown() (unwrap.Conn, error) {
	a.syncBlockingMode()

	result, err := a.session.Shutdown()
	if err != nil {
		return nil, fmt.Errorf("peerassoc: shutdown: %w", err)
	}
	if result == dtlscrypto.ShutdownSent {
		if result, err = a.session.Shutdown(); err != nil {
			return nil, fmt.Errorf("peerassoc: shutdown (second call): %w", err)
		}
	}
	_ = result

	switch a.role {
	case RoleAccepted:
		return unwrap.New(a.demuxSocket, a.queue, a.peer), nil
	default:
		return unwrap.NewDirect(a.conn, a.peer), nil
	}
}
