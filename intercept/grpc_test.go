package intercept

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func peerContext(addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(context.Background(), &peer.Peer{Addr: tcp})
}

func TestUnaryServerInterceptor(t *testing.T) {
	e, _ := newEngine(t)
	g, err := NewGuard(e, testConfig(time.Minute, 2))
	require.NoError(t, err)
	intercept := g.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/link.Service/Resolve"}

	var seen []Outcome
	handler := func(ctx context.Context, req any) (any, error) {
		out, ok := OutcomeFromContext(ctx)
		require.True(t, ok)
		seen = append(seen, out)
		return "ok", nil
	}

	ctx := peerContext("192.0.2.20:4242")
	for i := 0; i < 2; i++ {
		resp, err := intercept(ctx, nil, info, handler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	}
	require.Len(t, seen, 2)
	assert.Equal(t, "192.0.2.20", seen[0].Identifier)
	assert.Equal(t, int64(0), seen[1].Decision.Remaining)

	_, err = intercept(ctx, nil, info, handler)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Len(t, seen, 2, "handler must not run on BLOCK")
}

func TestUnaryServerInterceptor_FailOpen(t *testing.T) {
	e, mr := newEngine(t)
	g, err := NewGuard(e, testConfig(time.Minute, 1))
	require.NoError(t, err)
	intercept := g.UnaryServerInterceptor()
	mr.SetError("ERR simulated outage")

	calls := 0
	handler := func(ctx context.Context, req any) (any, error) {
		calls++
		return nil, nil
	}
	for i := 0; i < 5; i++ {
		_, err := intercept(peerContext("192.0.2.21:1"), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"}, handler)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, calls)
}

func TestPeerAddress(t *testing.T) {
	assert.Equal(t, "192.0.2.30", PeerAddress(peerContext("192.0.2.30:9"), ""))

	md := metadata.Pairs("x-forwarded-for", "203.0.113.1, 10.0.0.1")
	ctx := metadata.NewIncomingContext(peerContext("10.0.0.1:9"), md)
	assert.Equal(t, "10.0.0.1", PeerAddress(ctx, ""), "metadata is client controlled")
	assert.Equal(t, "203.0.113.1", ForwardedPeerAddress(ctx, ""))

	assert.Equal(t, "10.0.0.2", ForwardedPeerAddress(peerContext("10.0.0.2:9"), ""))
	assert.Empty(t, PeerAddress(context.Background(), ""))
	assert.Empty(t, ForwardedPeerAddress(context.Background(), ""))
}

func TestUnaryServerInterceptor_IgnoresForwardedMetadata(t *testing.T) {
	e, _ := newEngine(t)
	g, err := NewGuard(e, testConfig(time.Minute, 2))
	require.NoError(t, err)
	intercept := g.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/x/y"}
	handler := func(ctx context.Context, req any) (any, error) { return nil, nil }

	passed := 0
	for i := 0; i < 50; i++ {
		md := metadata.Pairs("x-forwarded-for", fmt.Sprintf("10.0.0.%d", i))
		ctx := metadata.NewIncomingContext(peerContext("192.0.2.20:4242"), md)
		if _, err := intercept(ctx, nil, info, handler); err == nil {
			passed++
		} else {
			assert.Equal(t, codes.ResourceExhausted, status.Code(err))
		}
	}
	assert.Equal(t, 2, passed)
}
