package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawgate/clawgate/internal/agent"
	"github.com/clawgate/clawgate/internal/gateway/idempotency"
	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/clawgate/clawgate/internal/metrics"
	"github.com/clawgate/clawgate/internal/security"
	"github.com/gorilla/websocket"
)

// Connection lifecycle. Closed is terminal; a reconnect is a new
// Connection.
const (
	stateAwaitingHandshake int32 = iota
	stateAuthenticated
	stateClosed
)

const (
	sendQueueLen        = 256
	defaultWriteTimeout = 10 * time.Second
)

// Connection owns one WebSocket and its state machine. Inbound frames
// are processed strictly in receipt order by the read loop; the write
// pump is the only goroutine touching the socket for writes.
type Connection struct {
	id      string
	conn    *websocket.Conn
	logger  *slog.Logger
	service agent.Service
	guard   *security.TokenGuard
	idem    *idempotency.Cache

	maxScopes protocol.ScopeSet
	bucket    *security.Bucket

	heartbeat    time.Duration
	writeTimeout time.Duration
	maxBuffered  int64

	state  atomic.Int32
	nonce  string
	client protocol.ClientInfo
	scopes protocol.ScopeSet

	handshakeTimer *time.Timer

	send   chan []byte
	queued atomic.Int64 // bytes enqueued but not yet written
	seq    int64        // tick sequence, writePump only

	ctx       context.Context // server lifetime, not connection lifetime
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Connection)
}

// run drives the connection: emit the challenge, then process inbound
// frames serially until the socket dies.
func (c *Connection) run() {
	defer c.close("read loop exit")

	c.conn.SetReadLimit(protocol.MaxPayloadBytes)
	go c.writePump()

	c.sendEvent(protocol.NewEvent(protocol.EventConnectChallenge,
		protocol.ChallengePayload{Nonce: c.nonce}))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}
		if !c.handleFrame(data) {
			c.drain(time.Second)
			return
		}
	}
}

// handleFrame processes one inbound message. Returning false closes the
// connection.
func (c *Connection) handleFrame(data []byte) bool {
	req, reqID, err := protocol.ParseRequest(data)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrMalformedEnvelope):
			c.logger.Warn("malformed frame, closing")
			return false
		case errors.Is(err, protocol.ErrNotRequest):
			// Stray response or event from the peer; ignore.
			return true
		}
		var perr *protocol.Error
		if errors.As(err, &perr) {
			c.respondError(reqID, perr)
			// Shape errors during the handshake are fatal.
			return c.state.Load() == stateAuthenticated
		}
		return true
	}

	switch c.state.Load() {
	case stateAwaitingHandshake:
		return c.handleConnect(req)
	case stateAuthenticated:
		c.handleRequest(req)
		return true
	default:
		return false
	}
}

// handleConnect processes the only request accepted before
// authentication. Any failure responds and then closes.
func (c *Connection) handleConnect(req *protocol.Request) bool {
	if req.Method != protocol.MethodConnect {
		c.respondError(req.ID, protocol.Errorf(protocol.CodeInvalidRequest,
			"connect required before %q", req.Method))
		return false
	}
	p, perr := protocol.ParseConnectParams(req.Params)
	if perr != nil {
		c.respondError(req.ID, perr)
		return false
	}
	if p.MinProtocol > protocol.Version || p.MaxProtocol < protocol.Version {
		c.respondError(req.ID, protocol.Errorf(protocol.CodeProtocolMismatch,
			"server speaks protocol %d, client supports [%d,%d]",
			protocol.Version, p.MinProtocol, p.MaxProtocol))
		return false
	}
	if p.Nonce != c.nonce {
		c.respondError(req.ID, protocol.Errorf(protocol.CodeInvalidRequest, "nonce mismatch"))
		return false
	}
	if c.guard.RequireAuth() {
		token := ""
		if p.Auth != nil {
			token = p.Auth.Token
		}
		if !c.guard.Verify(token) {
			c.respondError(req.ID, protocol.Errorf(protocol.CodeUnauthorized, "invalid token"))
			return false
		}
	}

	c.handshakeTimer.Stop()

	requested := protocol.DefaultScopes()
	if len(p.Scopes) > 0 {
		requested = protocol.NewScopeSet(p.Scopes...)
	}
	c.scopes = requested.Intersect(c.maxScopes)
	c.client = p.Client
	c.state.Store(stateAuthenticated)

	c.logger.Info("client authenticated",
		"client", p.Client.ID,
		"version", p.Client.Version,
		"platform", p.Client.Platform,
		"mode", p.Client.Mode,
		"scopes", c.scopes.List(),
	)
	c.respond(protocol.NewResponse(req.ID, protocol.ConnectResult{
		ProtocolVersion: protocol.Version,
		Scopes:          c.scopes.List(),
		ServerTime:      time.Now().UnixMilli(),
	}))
	return true
}

// handleRequest dispatches one authenticated call. Failures answer the
// request; they never close the connection.
func (c *Connection) handleRequest(req *protocol.Request) {
	perr := c.checkDispatch(req)
	if perr != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, perr.Code).Inc()
		c.respondError(req.ID, perr)
		return
	}

	payload, err := c.dispatch(req)
	if err != nil {
		perr = asProtocolError(err)
		metrics.RequestsTotal.WithLabelValues(req.Method, perr.Code).Inc()
		c.respondError(req.ID, perr)
		return
	}
	metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	c.respond(protocol.NewResponse(req.ID, payload))
}

// checkDispatch runs the pre-dispatch gauntlet: method known, scope
// held, rate limit token available.
func (c *Connection) checkDispatch(req *protocol.Request) *protocol.Error {
	if req.Method == protocol.MethodConnect {
		return protocol.Errorf(protocol.CodeInvalidRequest, "already connected")
	}
	scope, known := protocol.RequiredScope(req.Method)
	if !known {
		return protocol.Errorf(protocol.CodeInvalidRequest, "unknown method %q", req.Method)
	}
	if !c.scopes.Has(scope) {
		return protocol.Errorf(protocol.CodeForbidden, "%s requires scope %s", req.Method, scope)
	}
	if ok, retryAfter := c.bucket.Take(); !ok {
		return &protocol.Error{
			Code:         protocol.CodeRateLimited,
			Message:      "rate limit exceeded",
			Retryable:    true,
			RetryAfterMs: retryAfter.Milliseconds() + 1,
		}
	}
	return nil
}

func (c *Connection) dispatch(req *protocol.Request) (any, error) {
	switch req.Method {
	case protocol.MethodHealth:
		if perr := protocol.ParseEmptyParams(req.Method, req.Params); perr != nil {
			return nil, perr
		}
		return c.service.Health(c.ctx)
	case protocol.MethodAgentList:
		if perr := protocol.ParseEmptyParams(req.Method, req.Params); perr != nil {
			return nil, perr
		}
		return c.service.ListAgents(c.ctx)
	case protocol.MethodSessionList:
		if perr := protocol.ParseEmptyParams(req.Method, req.Params); perr != nil {
			return nil, perr
		}
		return c.service.ListSessions(c.ctx)
	case protocol.MethodSessionHistory:
		p, perr := protocol.ParseSessionHistoryParams(req.Params)
		if perr != nil {
			return nil, perr
		}
		return c.service.SessionHistory(c.ctx, agent.HistoryRequest{
			SessionKey: p.SessionKey,
			Limit:      p.Limit,
		})
	case protocol.MethodAgentRun:
		p, perr := protocol.ParseAgentRunParams(req.Params)
		if perr != nil {
			return nil, perr
		}
		return c.runAgent(p)
	}
	// checkDispatch already rejected unknown methods.
	return nil, protocol.Errorf(protocol.CodeInvalidRequest, "unknown method %q", req.Method)
}

// runAgent routes the call through the idempotency cache: the first
// claim on a key executes, everyone else shares that outcome. The run
// uses the server context so a vanishing caller does not abort an
// execution other retries may be waiting on.
func (c *Connection) runAgent(p *protocol.AgentRunParams) (any, error) {
	claim := c.idem.Begin(p.IdempotencyKey)
	if !claim.Owner() {
		if claim.Cached() {
			metrics.IdempotencyTotal.WithLabelValues("cached").Inc()
		} else {
			metrics.IdempotencyTotal.WithLabelValues("follower").Inc()
		}
		return claim.Await(c.ctx)
	}

	metrics.IdempotencyTotal.WithLabelValues("owner").Inc()
	res, err := c.service.RunAgent(c.ctx, agent.RunRequest{
		AgentID:         p.AgentID,
		SessionRef:      p.SessionRef,
		Message:         p.Message,
		ForceNewSession: p.ForceNewSession,
		DisableSession:  p.DisableSession,
		Cwd:             p.Cwd,
		Model:           p.Model,
	})
	claim.Complete(res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func asProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	return &protocol.Error{
		Code:      protocol.CodeUnavailable,
		Message:   err.Error(),
		Retryable: true,
	}
}

// writePump is the sole socket writer. It drains the send queue, keeps
// transport-level pings flowing, and emits application ticks on
// authenticated connections unless the send buffer is saturated.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.conn.WriteMessage(websocket.TextMessage, data)
			c.queued.Add(-int64(len(data)))
			if err != nil {
				c.logger.Warn("write error", "error", err)
				c.close("write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close("write error")
				return
			}
			if c.state.Load() != stateAuthenticated {
				continue
			}
			if c.queued.Load() > c.maxBuffered {
				// Backpressure: the peer is not draining; skip the tick.
				metrics.EventsDroppedTotal.Inc()
				continue
			}
			c.seq++
			tick := protocol.Event{Type: protocol.TypeEvent, Event: protocol.EventTick, Seq: c.seq}
			data, err := json.Marshal(tick)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close("write error")
				return
			}

		case <-c.done:
			return
		}
	}
}

// enqueue queues essential traffic (responses and the challenge). It is
// never dropped; a saturated queue defers the read loop instead.
func (c *Connection) enqueue(data []byte) {
	c.queued.Add(int64(len(data)))
	select {
	case c.send <- data:
	case <-c.done:
		c.queued.Add(-int64(len(data)))
	}
}

func (c *Connection) respond(res *protocol.Response) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("marshal response failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Connection) respondError(id string, perr *protocol.Error) {
	c.respond(protocol.NewErrorResponse(id, perr))
}

func (c *Connection) sendEvent(ev *protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("marshal event failed", "error", err)
		return
	}
	c.enqueue(data)
}

// drain waits for the write pump to flush queued frames, bounded by
// timeout. Used before a respond-then-close teardown.
func (c *Connection) drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for c.queued.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// close tears the connection down exactly once. In-flight idempotency
// entries this connection started belong to the cache and complete on
// their own.
func (c *Connection) close(reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		if c.handshakeTimer != nil {
			c.handshakeTimer.Stop()
		}
		close(c.done)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		metrics.ConnectionsActive.Dec()
		c.logger.Info("connection closed", "reason", reason)
	})
}
