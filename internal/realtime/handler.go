package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"lagerkoll/internal/platform/middleware"
	"lagerkoll/pkg/platform/middleware/metadata"
)

const (
	defaultWriteTimeout = 10 * time.Second
	// Clients never send application data; the limit only has to fit control
	// frames and the occasional stray message.
	maxInboundMessage = 4096
)

// Handler upgrades HTTP requests on /ws to WebSocket sessions registered with
// a Hub. The connection is push-only; inbound messages are read and dropped so
// pongs and close frames are processed.
type Handler struct {
	hub            *Hub
	validator      middleware.TokenValidator
	requireAuth    bool
	allowedOrigins map[string]struct{}
	writeTimeout   time.Duration
	pongWait       time.Duration
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAuth requires a valid token, passed as the "token" query parameter or a
// bearer header, before upgrading. Browsers cannot set headers on WebSocket
// requests, hence the query parameter.
func WithAuth(validator middleware.TokenValidator) HandlerOption {
	return func(h *Handler) {
		h.validator = validator
		h.requireAuth = validator != nil
	}
}

// WithAllowedOrigins restricts cross-origin upgrades to the listed origins.
// Requests whose Origin host matches the request host are always allowed.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		for _, o := range origins {
			h.allowedOrigins[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
		}
	}
}

// WithWriteTimeout bounds each frame write. Pongs are expected within twice
// the hub's ping interval.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithPongWait sets how long a silent connection survives. Zero disables the
// read deadline.
func WithPongWait(d time.Duration) HandlerOption {
	return func(h *Handler) { h.pongWait = d }
}

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:            hub,
		allowedOrigins: make(map[string]struct{}),
		writeTimeout:   defaultWriteTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := h.authenticate(r)
	if err != nil {
		h.logger.WarnContext(ctx, "realtime connection rejected",
			"request_id", middleware.GetRequestID(ctx),
			"remote_addr", metadata.ClientIPFromRequest(r),
			"error", err,
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxInboundMessage)

	sess := NewSession(&wsTransport{conn: conn, writeTimeout: h.writeTimeout},
		WithUserID(userID),
		WithClientInfo(metadata.ClientIPFromRequest(r), describeClient(r.UserAgent())),
	)
	if err := h.hub.Register(sess); err != nil {
		reason := "server shutting down"
		if errors.Is(err, ErrTooManySessions) {
			reason = "too many connections"
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason),
			time.Now().Add(h.writeTimeout))
		_ = conn.Close()
		h.logger.WarnContext(ctx, "realtime session refused", "error", err)
		return
	}

	go h.readLoop(conn, sess)
}

// readLoop drains inbound frames until the peer goes away, then unregisters
// the session. Unregistering stops the writer, which closes the connection.
func (h *Handler) readLoop(conn *websocket.Conn, sess *Session) {
	defer h.hub.Unregister(sess)

	if h.pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.pongWait))
		})
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("realtime read ended", "session_id", sess.ID(), "error", err)
			}
			return
		}
	}
}

func (h *Handler) authenticate(r *http.Request) (uuid.UUID, error) {
	if !h.requireAuth {
		return uuid.Nil, nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		bearer, ok := middleware.BearerToken(r)
		if !ok {
			return uuid.Nil, errors.New("missing token")
		}
		token = bearer
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims.UserID, nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := h.allowedOrigins[strings.TrimRight(strings.ToLower(origin), "/")]
	return ok
}

func describeClient(raw string) string {
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	if os := ua.OS(); os != "" {
		return fmt.Sprintf("%s %s (%s)", name, version, os)
	}
	return fmt.Sprintf("%s %s", name, version)
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) Write(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.writeTimeout))
	return t.conn.Close()
}
