package intercept

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:1", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.8"}, "10.0.0.1:1", "203.0.113.8"},
		{"ipv6", nil, "[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestRemoteIP_IgnoresHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "192.0.2.1", RemoteIP(r))
}

func TestWithAccount(t *testing.T) {
	key := WithAccount(RemoteIP, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"json email", "application/json", `{"email":" Alice@Example.com ","password":"x"}`, "192.0.2.1:alice@example.com"},
		{"json username", "application/json; charset=utf-8", `{"username":"Bob"}`, "192.0.2.1:bob"},
		{"form", "application/x-www-form-urlencoded", "email=carol%40example.com&password=x", "192.0.2.1:carol@example.com"},
		{"no account", "application/json", `{"password":"x"}`, "192.0.2.1"},
		{"bad json", "application/json", `{`, "192.0.2.1"},
		{"other type", "text/plain", "email=x", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))
			r.RemoteAddr = "192.0.2.1:5"
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, key(r))

			rest, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(rest), "body must be readable downstream")
		})
	}
}

func TestWithAccount_NoBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5"
	assert.Equal(t, "192.0.2.1", WithAccount(RemoteIP, nil)(r))
}

func TestForwardedAddress(t *testing.T) {
	key := ForwardedAddress("X-Forwarded-For")
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"single", "203.0.113.7", "203.0.113.7"},
		{"appended by proxy", "198.51.100.1, 203.0.113.7", "203.0.113.7"},
		{"missing", "", "10.0.0.1"},
		{"trailing comma", "203.0.113.7,", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "10.0.0.1:5555"
			if tt.header != "" {
				r.Header.Set("X-Forwarded-For", tt.header)
			}
			assert.Equal(t, tt.want, key(r))
		})
	}
}

func TestWithAccount_Header(t *testing.T) {
	key := WithAccount(ForwardedAddress("X-Forwarded-For"), HeaderAccount("X-Forwarded-User"))

	r := httptest.NewRequest(http.MethodGet, "/check/login", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("X-Forwarded-User", " Alice@Example.com ")
	assert.Equal(t, "203.0.113.7:alice@example.com", key(r))

	r.Header.Del("X-Forwarded-User")
	assert.Equal(t, "203.0.113.7", key(r))
}
