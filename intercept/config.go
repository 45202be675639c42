package intercept

import (
	"context"
	"net/http"

	"github.com/toolink/admit/limiter"
)

// KeyFunc derives the caller identifier from an HTTP request. An empty result
// exempts the request from limiting.
type KeyFunc func(r *http.Request) string

// GRPCKeyFunc derives the caller identifier for a unary gRPC call.
type GRPCKeyFunc func(ctx context.Context, fullMethod string) string

// LimitHandler takes over the response when a request is blocked.
type LimitHandler func(w http.ResponseWriter, r *http.Request, identifier string)

// Config binds a policy to an endpoint class.
type Config struct {
	Name    string         // preset name, used in logs, metrics and events
	Policy  limiter.Policy // window, limit and algorithm
	KeyFunc KeyFunc        // required for HTTP

	// GRPCKeyFunc is used by UnaryServerInterceptor; PeerAddress when nil.
	// ForwardedPeerAddress opts in to x-forwarded-for metadata.
	GRPCKeyFunc GRPCKeyFunc

	// OnLimitReached, when set, owns the response on BLOCK instead of the
	// standard 429 body. Rate limit headers are already set when it runs.
	OnLimitReached LimitHandler
}

func (c Config) validate() error {
	if c.Name == "" {
		return &limiter.ValidationError{Scope: c.Policy.Scope, Field: "name", Message: "must not be empty"}
	}
	if c.KeyFunc == nil {
		return &limiter.ValidationError{Scope: c.Policy.Scope, Field: "key_func", Message: "must be set"}
	}
	return nil
}
