package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": "10.0.0.7, 172.16.0.1"}, remoteAddr: "127.0.0.1:5000", want: "10.0.0.7"},
		{name: "real ip header", headers: map[string]string{"X-Real-IP": " 10.0.0.8 "}, remoteAddr: "127.0.0.1:5000", want: "10.0.0.8"},
		{name: "ipv4 remote addr", remoteAddr: "192.168.1.20:443", want: "192.168.1.20"},
		{name: "ipv6 remote addr", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "remote addr without port", remoteAddr: "192.168.1.20", want: "192.168.1.20"},
		{name: "nothing known", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r))
		})
	}
}

func TestClientMetadataMiddleware(t *testing.T) {
	var got Client
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientFrom(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:1234"
	r.Header.Set("User-Agent", "lagerctl/1.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, Client{IP: "10.1.2.3", UserAgent: "lagerctl/1.0"}, got)
}
