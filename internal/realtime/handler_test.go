package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lagerkoll/internal/platform/logger"
	"lagerkoll/internal/platform/middleware"
)

type staticValidator struct {
	token  string
	userID uuid.UUID
}

func (v staticValidator) ValidateToken(token string) (*middleware.Claims, error) {
	if token != v.token {
		return nil, errors.New("bad token")
	}
	return &middleware.Claims{UserID: v.userID, Role: "worker"}, nil
}

func newTestServer(t *testing.T, opts ...HandlerOption) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(WithLogger(logger.Discard()), WithPingInterval(50*time.Millisecond))
	opts = append([]HandlerOption{WithHandlerLogger(logger.Discard())}, opts...)
	srv := httptest.NewServer(NewHandler(hub, opts...))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Close(ctx)
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func TestHandlerDeliversBroadcasts(t *testing.T) {
	hub, srv := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	articleID := uuid.New()
	hub.Broadcast(context.Background(), Deleted(ResourceArticle, articleID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
		Data struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "article_deleted", msg.Type)
	assert.Equal(t, articleID, msg.Data.ID)
}

func TestHandlerUnregistersOnClientClose(t *testing.T) {
	hub, srv := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerAuthentication(t *testing.T) {
	validator := staticValidator{token: "good", userID: uuid.New()}
	hub, srv := newTestServer(t, WithAuth(validator))

	t.Run("missing token is rejected before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=bad"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("query token is accepted", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=good"), nil)
		require.NoError(t, err)
		defer conn.Close()
		require.Eventually(t, func() bool { return hub.SessionCount() >= 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("bearer header is accepted", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer good"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
		require.NoError(t, err)
		defer conn.Close()
	})
}

func TestHandlerOriginCheck(t *testing.T) {
	_, srv := newTestServer(t, WithAllowedOrigins([]string{"https://lager.example.com"}))

	t.Run("foreign origin is refused", func(t *testing.T) {
		header := http.Header{"Origin": []string{"https://evil.example.com"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("allowlisted origin is accepted", func(t *testing.T) {
		header := http.Header{"Origin": []string{"https://lager.example.com/"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
		require.NoError(t, err)
		_ = conn.Close()
	})
}

func TestHandlerRefusesWhenFull(t *testing.T) {
	hub := NewHub(WithLogger(logger.Discard()), WithMaxSessions(1))
	srv := httptest.NewServer(NewHandler(hub, WithHandlerLogger(logger.Discard())))
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Equal(t, 1, hub.SessionCount())
}

func TestDescribeClient(t *testing.T) {
	assert.Equal(t, "unknown", describeClient(""))
	got := describeClient("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, got, "Chrome")
}
