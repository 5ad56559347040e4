package filter

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/juju/ratelimit"
	"google.golang.org/grpc/codes"
)

// Logging logs every call with its status and duration.
func Logging(logger *logging.Logger) Filter {
	errs := errors.NewDefaultHandler(logger.Logger)

	return Func(func(ic *invocation.Context, next invocation.Endpoint) error {
		err := next(ic)

		attrs := []any{
			slog.String("method", ic.Method.FullName()),
			slog.String("call_id", ic.CallID.String()),
			slog.Duration("elapsed", ic.Elapsed()),
		}
		if ic.ConnectionID != "" {
			attrs = append(attrs, slog.String("connection_id", ic.ConnectionID))
		}

		if err != nil {
			errs.Handle(ic.Context(), err, attrs...)
			return err
		}

		logger.DebugContext(ic.Context(), "call completed", attrs...)
		return nil
	})
}

// Recover converts a panic in the rest of the chain into an Internal status.
func Recover() Filter {
	return Func(func(ic *invocation.Context, next invocation.Endpoint) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.New(errors.ErrorTypeInternal, codes.Internal, "handler panicked").
					WithDetails(fmt.Sprintf("%v\n%s", r, debug.Stack()))
			}
		}()
		return next(ic)
	})
}

// RateLimit rejects calls with ResourceExhausted while bucket is empty.
func RateLimit(bucket *ratelimit.Bucket) Filter {
	return Func(func(ic *invocation.Context, next invocation.Endpoint) error {
		if bucket.TakeAvailable(1) == 0 {
			return errors.Statusf(codes.ResourceExhausted, "rate limit exceeded for %s", ic.Method.FullName())
		}
		return next(ic)
	})
}

// Timeout bounds the call's context with d.
func Timeout(d time.Duration) Filter {
	return Func(func(ic *invocation.Context, next invocation.Endpoint) error {
		parent := ic.Context()
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		ic.SetContext(ctx)
		defer ic.SetContext(parent)

		return next(ic)
	})
}
