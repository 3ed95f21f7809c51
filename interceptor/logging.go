package interceptor

import (
	"time"

	"go.uber.org/zap"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
)

// Logging logs one structured line per RPC, grounded on the teacher's
// LoggingInterceptor but using zap instead of log.Logger, matching the
// rest of the runtime's ambient logging stack.
type Logging struct {
	Logger *zap.Logger
}

// NewLogging builds a Logging interceptor. A nil logger falls back to
// zap.NewNop so callers never need a nil check.
func NewLogging(logger *zap.Logger) *Logging {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logging{Logger: logger}
}

func (l *Logging) Intercept(ctx *rpcctx.Context, method string, next Next) *status.Status {
	start := time.Now()
	l.Logger.Debug("rpc started",
		zap.String("method", method),
		zap.String("request_id", ctx.RequestID),
	)

	st := next(ctx)

	duration := time.Since(start)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("request_id", ctx.RequestID),
		zap.Duration("duration", duration),
	}
	code := status.FromError(st.Err()).Code()
	if st != nil && st.Err() != nil {
		l.Logger.Warn("rpc failed", append(fields, zap.String("code", code.String()), zap.String("message", st.Message()))...)
	} else {
		l.Logger.Info("rpc completed", append(fields, zap.String("code", code.String()))...)
	}

	return st
}
