// Package gateway carries tool calls from every front end into the
// executor. Dispatcher is the shared path; Gateway adds a JSON-RPC 2.0
// interface over WebSocket for agent loops that keep a connection open.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/harun/kitool/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Config holds gateway configuration
type Config struct {
	Dispatcher        *Dispatcher
	SharedSecret      string // empty disables the auth handshake
	RequestsPerMinute int
	MaxConcurrent     int
	Logger            zerolog.Logger
}

// Gateway serves JSON-RPC over WebSocket. Mount it on any route.
type Gateway struct {
	dispatcher        *Dispatcher
	requestsPerMinute int
	maxConcurrent     int
	upgrader          websocket.Upgrader
	clients           *clientSet
	methods           *methodTable
	auth              handshake
	logger            zerolog.Logger

	closeMu  sync.RWMutex
	closing  bool
	inFlight sync.WaitGroup
}

// NewGateway creates a gateway and registers the built-in methods
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	g := &Gateway{
		dispatcher:        cfg.Dispatcher,
		requestsPerMinute: cfg.RequestsPerMinute,
		maxConcurrent:     cfg.MaxConcurrent,
		clients:           newClientSet(),
		methods:           newMethodTable(cfg.Logger),
		auth:              handshake{secret: cfg.SharedSecret},
		logger:            cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if err := g.registerBuiltinMethods(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) isClosing() bool {
	g.closeMu.RLock()
	defer g.closeMu.RUnlock()
	return g.closing
}

// ServeHTTP upgrades the connection and serves it until the client leaves.
// Calls still running for the client are cancelled on disconnect.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isClosing() {
		http.Error(w, "Gateway is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}
	client := newClient(id, conn, r.RemoteAddr, NewClientRateLimiter(g.requestsPerMinute, g.maxConcurrent))
	logger := g.logger.With().Str("clientId", id).Logger()

	challenge, err := g.auth.open(client)
	if err == nil && challenge != "" {
		err = client.send(AuthChallenge{Event: "auth.challenge", Challenge: challenge})
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start auth handshake")
		_ = conn.Close()
		return
	}

	g.clients.add(client)
	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	ctx, cancel := context.WithCancel(tracing.NewRequestContext(context.Background(), r.Header.Get("X-Trace-ID")))
	defer func() {
		cancel()
		client.setState(StateDisconnected)
		_ = conn.Close()
		g.clients.remove(id)
		logger.Info().Msg("Client disconnected")
	}()
	g.readLoop(withOrigin(ctx, origin{clientID: id}), client, logger)
}

// readLoop handles frames until the connection closes or must be dropped
func (g *Gateway) readLoop(ctx context.Context, client *Client, logger zerolog.Logger) {
	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}
		client.touch()

		if answer, ok := isAuthFrame(frame); ok {
			if !g.handleAuth(client, answer, logger) {
				return
			}
			continue
		}
		g.handleRequest(ctx, client, frame, logger)
	}
}

// handleAuth answers a handshake frame. It returns false when the
// connection should be dropped.
func (g *Gateway) handleAuth(client *Client, answer AuthResponse, logger zerolog.Logger) bool {
	if !g.auth.enabled() {
		g.sendError(client, "", InvalidRequest, "Authentication is not enabled", logger)
		return true
	}

	result, keep := g.auth.answer(client, answer.Signature)
	if err := client.send(result); err != nil {
		logger.Error().Err(err).Msg("Failed to send auth result")
		return false
	}
	if result.Success {
		logger.Info().Msg("Client authenticated")
	} else {
		logger.Warn().Str("reason", result.Message).Msg("Authentication failed")
	}
	return keep
}

// handleRequest admits one request frame and serves it on its own
// goroutine. Ordering between tool calls comes from the session lanes.
func (g *Gateway) handleRequest(ctx context.Context, client *Client, frame []byte, logger zerolog.Logger) {
	if !client.Authenticated() {
		g.sendError(client, "", AuthenticationRequired, "Authentication required", logger)
		return
	}

	req, rpcErr := decodeRequest(frame)
	if rpcErr != nil {
		g.reply(client, &RPCResponse{JSONRPC: jsonrpcVersion, Error: rpcErr}, logger)
		return
	}

	g.closeMu.RLock()
	if g.closing {
		g.closeMu.RUnlock()
		g.sendError(client, req.ID, ShuttingDown, "Gateway is shutting down", logger)
		return
	}
	g.inFlight.Add(1)
	g.closeMu.RUnlock()

	if ok, reason := client.limiter.Acquire(); !ok {
		g.inFlight.Done()
		logger.Warn().Str("reason", reason).Str("method", req.Method).Msg("Request rejected by rate limiter")
		g.sendError(client, req.ID, rpcCodeForReason(reason), reason, logger)
		return
	}

	go func() {
		defer g.inFlight.Done()
		defer client.limiter.Release()

		reqLogger := tracing.LoggerFromContext(ctx, logger).With().
			Str("requestId", req.ID).
			Str("method", req.Method).
			Logger()
		reqLogger.Debug().Msg("Gateway received RPC request")

		g.reply(client, g.methods.dispatch(withIdempotency(ctx, req.IdempotencyKey), req), reqLogger)
	}()
}

func (g *Gateway) reply(client *Client, resp *RPCResponse, logger zerolog.Logger) {
	if err := client.send(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to send response")
	}
}

func (g *Gateway) sendError(client *Client, requestID string, code int, message string, logger zerolog.Logger) {
	g.reply(client, errorResponse(requestID, code, message), logger)
}

// RegisterMethod adds or replaces an RPC method
func (g *Gateway) RegisterMethod(name string, handler RequestHandler) error {
	return g.methods.register(name, handler)
}

// Methods lists the registered RPC methods, sorted
func (g *Gateway) Methods() []string {
	return g.methods.names()
}

// GetConnectedClients describes every connection, oldest first
func (g *Gateway) GetConnectedClients() []ClientInfo {
	return g.clients.infos()
}

// Close stops accepting requests, waits for in-flight ones until ctx is
// done and closes every connection.
func (g *Gateway) Close(ctx context.Context) error {
	g.closeMu.Lock()
	g.closing = true
	g.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inFlight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn().Msg("Gateway shutdown timeout reached, forcing close")
		err = ctx.Err()
	}

	for _, client := range g.clients.list() {
		client.goAway(websocket.CloseGoingAway, "shutting down")
	}
	return err
}
