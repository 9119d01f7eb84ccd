// Package gateway implements the operator gateway: a WebSocket RPC
// endpoint with a challenge handshake, scoped methods, per-connection
// rate limits and idempotent agent runs.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/clawgate/clawgate/internal/agent"
	"github.com/clawgate/clawgate/internal/config"
	"github.com/clawgate/clawgate/internal/gateway/idempotency"
	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/clawgate/clawgate/internal/metrics"
	"github.com/clawgate/clawgate/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server hosts the gateway endpoint plus the HTTP health and metrics
// surfaces on the same listener.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	service agent.Service
	guard   *security.TokenGuard
	idem    *idempotency.Cache

	// Protocol timings, defaulted in NewServer. Tests shrink them.
	handshakeTimeout  time.Duration
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	maxBuffered       int64

	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewServer wires the gateway around an agent service. The caller owns
// the service lifecycle; the server owns the idempotency cache.
func NewServer(cfg *config.Config, service agent.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		service: service,
		guard:   security.NewTokenGuard(cfg.Gateway.Auth.RequireAuth(), cfg.Gateway.Auth.Token),
		idem:    idempotency.New(protocol.IdempotencyTTL, protocol.IdempotencyMaxKeys),

		handshakeTimeout:  protocol.HandshakeTimeout,
		heartbeatInterval: protocol.HeartbeatInterval,
		writeTimeout:      defaultWriteTimeout,
		maxBuffered:       protocol.MaxBufferedBytes,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Connection),
	}
}

// Start binds the listener and begins serving. It returns once the
// listener is accepting; serve errors surface through the logger.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(protocol.Path, func(gc *gin.Context) {
		s.handleGateway(ctx, gc.Writer, gc.Request)
	})
	router.GET("/api/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.BindHost(), s.cfg.Gateway.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.http = &http.Server{
		Handler:     router,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("gateway listening",
		"addr", listener.Addr().String(),
		"auth", s.cfg.Gateway.Auth.Mode,
		"protocol", protocol.Version,
	)
	go func() {
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway serve failed", "error", err)
		}
	}()
	return nil
}

// Address reports the bound listener address, useful when the
// configured port is 0.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting, closes every live connection and drains the
// idempotency cache.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close("server shutdown")
	}
	s.idem.Close()
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(gc *gin.Context) {
	gc.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"protocol": protocol.Version,
	})
}

func (s *Server) handleGateway(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &Connection{
		id:        uuid.NewString(),
		conn:      ws,
		logger:    s.logger.With("conn", shortID(r.RemoteAddr)),
		service:   s.service,
		guard:     s.guard,
		idem:      s.idem,
		maxScopes: s.cfg.Gateway.GrantableScopes(),
		bucket:    security.NewBucket(protocol.RequestsPerMinute),
		nonce:     uuid.NewString(),

		heartbeat:    s.heartbeatInterval,
		writeTimeout: s.writeTimeout,
		maxBuffered:  s.maxBuffered,

		send:      make(chan []byte, sendQueueLen),
		ctx:       ctx,
		done:      make(chan struct{}),
		onClose:   s.dropConn,
	}

	c.handshakeTimer = time.AfterFunc(s.handshakeTimeout, func() {
		if c.state.Load() == stateAwaitingHandshake {
			c.logger.Warn("handshake timeout")
			c.close("handshake timeout")
		}
	})

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	metrics.ConnectionsActive.Inc()
	c.logger.Info("connection accepted", "remote", r.RemoteAddr)

	go c.run()
}

func (s *Server) dropConn(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func shortID(remote string) string {
	if len(remote) > 24 {
		return remote[:24]
	}
	return remote
}
