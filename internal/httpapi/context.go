package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on shutdown so long polls end with the server.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context consulted by waiting polls.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req a context that also ends when base does.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
