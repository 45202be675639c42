package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// maxAccountBody bounds how much of a request body is read to find the account.
const maxAccountBody = 64 << 10

// accountFields are tried in order when looking for the submitted account.
var accountFields = []string{"email", "username"}

// RemoteIP keys on the connection's address, ignoring proxy headers.
func RemoteIP(r *http.Request) string {
	return hostOnly(r.RemoteAddr)
}

// ClientIP keys on the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address. Only use it behind a proxy that overwrites those headers;
// otherwise clients can pick their own identifier.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// ForwardedAddress keys on the last value of the named header, which is the
// address the proxy in front of this process appended or set. It falls back to
// the connection address when the header is missing. Use it only when every
// request arrives through that proxy.
func ForwardedAddress(header string) KeyFunc {
	return func(r *http.Request) string {
		values := strings.Split(r.Header.Get(header), ",")
		if ip := strings.TrimSpace(values[len(values)-1]); ip != "" {
			return ip
		}
		return RemoteIP(r)
	}
}

// AccountFunc extracts the account a request acts on, or "" when there is none.
type AccountFunc func(r *http.Request) string

// HeaderAccount reads the account from a header set by a trusted proxy,
// such as X-Forwarded-User on forward-auth subrequests, which carry no body.
func HeaderAccount(header string) AccountFunc {
	return func(r *http.Request) string {
		return strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
	}
}

// WithAccount composes address with the account found by account
// (SubmittedAccount when nil), so that one address can not lock out every
// account and one account is limited per address. Falls back to address
// alone when no account is found.
func WithAccount(address KeyFunc, account AccountFunc) KeyFunc {
	if account == nil {
		account = SubmittedAccount
	}
	return func(r *http.Request) string {
		addr := address(r)
		acct := account(r)
		if acct == "" {
			return addr
		}
		return addr + ":" + acct
	}
}

// SubmittedAccount returns the lowercased email or username from a form or
// JSON body. The body is restored for the next handler.
func SubmittedAccount(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	body := r.Body
	raw, err := io.ReadAll(io.LimitReader(body, maxAccountBody))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(raw), body), Closer: body}
	if err != nil || len(raw) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var fields map[string]any
		if json.Unmarshal(raw, &fields) != nil {
			return ""
		}
		for _, name := range accountFields {
			if v, ok := fields[name].(string); ok && strings.TrimSpace(v) != "" {
				return strings.ToLower(strings.TrimSpace(v))
			}
		}
	case "application/x-www-form-urlencoded":
		clone := r.Clone(r.Context())
		clone.Body = io.NopCloser(bytes.NewReader(raw))
		if clone.ParseForm() != nil {
			return ""
		}
		for _, name := range accountFields {
			if v := strings.TrimSpace(clone.PostForm.Get(name)); v != "" {
				return strings.ToLower(v)
			}
		}
	}
	return ""
}

// PeerAddress keys a gRPC call on the peer's address. Incoming metadata is
// ignored since the client controls it.
func PeerAddress(ctx context.Context, _ string) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return hostOnly(p.Addr.String())
	}
	return ""
}

// ForwardedPeerAddress keys a gRPC call on the first x-forwarded-for value in
// the incoming metadata, else on the peer's address. Only use it behind a
// proxy that overwrites that metadata.
func ForwardedPeerAddress(ctx context.Context, fullMethod string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("x-forwarded-for"); len(values) > 0 {
			first, _, _ := strings.Cut(values[0], ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	return PeerAddress(ctx, fullMethod)
}

// replayBody serves the bytes already read before the rest of the original body.
type replayBody struct {
	io.Reader
	io.Closer
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
