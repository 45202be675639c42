package intercept

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor enforces the guard on unary gRPC calls. BLOCK maps
// to codes.ResourceExhausted; rate limit values travel as header metadata
// under the lowercase HTTP header names.
func (g *Guard) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	keyFunc := g.cfg.GRPCKeyFunc
	if keyFunc == nil {
		keyFunc = PeerAddress
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		identifier := keyFunc(ctx, info.FullMethod)
		out := g.Evaluate(ctx, identifier)

		if out.HasMetadata() {
			md := metadata.Pairs(
				"x-ratelimit-limit", strconv.FormatInt(g.cfg.Policy.MaxRequests, 10),
				"x-ratelimit-remaining", strconv.FormatInt(out.Decision.Remaining, 10),
				"x-ratelimit-reset", out.Decision.ResetTime.UTC().Format(ResetLayout),
				"x-ratelimit-window", strconv.FormatInt(g.cfg.Policy.WindowMillis(), 10),
			)
			if out.State == StateBlock {
				md.Set("retry-after", strconv.FormatInt(retryAfterSeconds(out.RetryAfter), 10))
			}
			if err := grpc.SetHeader(ctx, md); err != nil {
				log.Debug().Err(err).Str("method", info.FullMethod).Msg("failed to set rate limit header metadata")
			}
		}

		if out.State == StateBlock {
			return nil, status.Errorf(codes.ResourceExhausted, "too many requests, retry after %ds", retryAfterSeconds(out.RetryAfter))
		}
		return handler(withOutcome(ctx, out), req)
	}
}
