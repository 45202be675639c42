package intercept

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/limiter"
)

// Response headers
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderWindow     = "X-RateLimit-Window"
	HeaderRetryAfter = "Retry-After"
)

// ResetLayout is ISO-8601 in UTC with millisecond precision.
const ResetLayout = "2006-01-02T15:04:05.000Z07:00"

const limitExceededMessage = "Too many requests, please try again later."

// errorBody is the JSON body of a 429 response.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// Middleware enforces the guard on every request passing through it.
// Headers are set on PASS and BLOCK alike, and omitted when the store is
// unavailable rather than filled with made-up values.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := g.cfg.KeyFunc(r)
		out := g.Evaluate(r.Context(), identifier)
		r = r.WithContext(withOutcome(r.Context(), out))

		if out.HasMetadata() {
			setHeaders(w.Header(), g.cfg.Policy, out.Decision)
		}

		if out.State == StateBlock {
			if g.cfg.OnLimitReached != nil {
				g.cfg.OnLimitReached(w, r, identifier)
				return
			}
			writeTooManyRequests(w, out)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setHeaders(h http.Header, policy limiter.Policy, d limiter.Decision) {
	h.Set(HeaderLimit, strconv.FormatInt(policy.MaxRequests, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(HeaderReset, d.ResetTime.UTC().Format(ResetLayout))
	h.Set(HeaderWindow, strconv.FormatInt(policy.WindowMillis(), 10))
}

func writeTooManyRequests(w http.ResponseWriter, out Outcome) {
	secs := retryAfterSeconds(out.RetryAfter)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(secs, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	body := errorBody{
		Error:      http.StatusText(http.StatusTooManyRequests),
		Message:    limitExceededMessage,
		RetryAfter: secs,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Str("identifier", out.Identifier).Msg("failed to write rate limit response")
	}
}
