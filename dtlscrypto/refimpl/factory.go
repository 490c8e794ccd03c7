package refimpl

import (
	"fmt"

	"dtlsassoc/dtlscrypto"
)

// Factory constructs refimpl Sessions bound to a refimpl Context.
type Factory struct{}

var _ dtlscrypto.Factory = Factory{}

// NewSession builds a Session in listener state when serverSide is true and
// in client state otherwise; callers can change the role via
// SetConnectState/SetAcceptState once the datagram exchange determines it.
func (Factory) NewSession(ctx dtlscrypto.Context, serverSide bool) (dtlscrypto.Session, error) {
	rctx, ok := ctx.(*Context)
	if !ok {
		return nil, fmt.Errorf("refimpl: NewSession requires a *refimpl.Context, got %T", ctx)
	}
	r := roleClient
	if serverSide {
		r = roleListener
	}
	return newSession(rctx, r), nil
}
