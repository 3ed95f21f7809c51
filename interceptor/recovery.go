package interceptor

import (
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
)

// Recovery converts a panic inside the handler chain into an INTERNAL
// status instead of crashing the connection's goroutine, grounded on the
// teacher's RecoveryInterceptor. It should be registered outermost so it
// catches panics from every interceptor behind it too (spec §5: "recovery
// wraps the whole chain").
type Recovery struct {
	Logger *zap.Logger
}

// NewRecovery builds a Recovery interceptor; a nil logger logs nothing.
func NewRecovery(logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{Logger: logger}
}

func (r *Recovery) Intercept(ctx *rpcctx.Context, method string, next Next) (st *status.Status) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("rpc panic recovered", zap.String("method", method), zap.Any("panic", rec))
			st = status.Newf(codes.Internal, "panic recovered: %v", rec)
		}
	}()
	return next(ctx)
}
