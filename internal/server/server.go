// Package server exposes the tool registry over HTTP for an external agent loop.
//
// Every tool call answers 200 with the plain-text result, including
// "error:"-prefixed failures. Non-200 statuses are reserved for transport
// problems: malformed bodies, rate limits and shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/kitool/internal/tracing"
	"github.com/harun/kitool/pkg/commandqueue"
	"github.com/harun/kitool/pkg/gateway"
	"github.com/harun/kitool/pkg/history"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// HeaderSessionKey selects the FIFO lane a call runs in
	HeaderSessionKey = "X-Session-Key"
	// HeaderInvocationID carries the invocation id, echoed on the response
	HeaderInvocationID = "X-Invocation-ID"
	// HeaderIdempotencyKey replays the stored result of a retried call
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderTraceID correlates logs with the caller
	HeaderTraceID = "X-Trace-ID"
	// HeaderWorkingDir overrides the directory relative paths resolve against
	HeaderWorkingDir = "X-Working-Dir"
)

// Options configures the HTTP server
type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	MaxBodyBytes       int64
	RateLimitPerMinute int // 0 disables rate limiting
	MetricsPath        string
	GatewayPath        string

	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers are believed. Headers from any
	// other peer are ignored.
	TrustedProxies []string
}

// Server is the tool HTTP server
type Server struct {
	options        Options
	server         *http.Server
	dispatcher     *gateway.Dispatcher
	metrics        http.Handler
	ws             http.Handler
	rateLimiter    *RateLimiter
	proxies        []netip.Prefix
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a server. metrics and ws may be nil; ws is mounted at
// GatewayPath when set.
func NewServer(options Options, dispatcher *gateway.Dispatcher, metrics http.Handler, ws http.Handler, logger zerolog.Logger) (*Server, error) {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = 10 << 20
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 15 * time.Second
	}
	if options.MetricsPath == "" {
		options.MetricsPath = "/metrics"
	}
	if options.GatewayPath == "" {
		options.GatewayPath = "/v1/ws"
	}

	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	proxies, err := parseTrustedProxies(options.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		options:    options,
		dispatcher: dispatcher,
		metrics:    metrics,
		ws:         ws,
		proxies:    proxies,
		logger:     logger,
		startTime:  time.Now(),
	}
	if options.RateLimitPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(options.RateLimitPerMinute, time.Minute)
	}

	return s, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}", s.handleInvoke)
	mux.HandleFunc("DELETE /v1/sessions/{key}", s.handleClearSession)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	if s.metrics != nil {
		mux.Handle("GET "+s.options.MetricsPath, s.metrics)
	}
	if s.ws != nil {
		mux.Handle("GET "+s.options.GatewayPath, s.ws)
	}

	return s.withRequestContext(mux)
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting tool server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start tool server: %w", err)
	}

	return nil
}

// Stop rejects new calls, waits for in-flight ones and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down tool server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, forcing close")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Hijacked websocket connections outlive http.Server.Shutdown.
	if closer, ok := s.ws.(interface{ Close(context.Context) error }); ok {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		if err := closer.Close(closeCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Gateway did not drain before shutdown")
		}
		cancel()
	}

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown tool server: %w", err)
	}

	s.logger.Info().Msg("Tool server stopped")
	return nil
}

// withRequestContext attaches a trace id and a span to every request.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.NewRequestContext(r.Context(), r.Header.Get(HeaderTraceID))
		ctx, span := tracing.StartSpan(ctx, "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()

		w.Header().Set(HeaderTraceID, tracing.TraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	status := "ok"
	if s.isShuttingDown {
		status = "shutting_down"
	}
	s.shutdownMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"uptime":    time.Since(s.startTime).Seconds(),
		"tools":     s.dispatcher.ToolCount(),
		"lanes":     s.dispatcher.LaneStats(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleListTools lists tool descriptors in registration order
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.dispatcher.Descriptors(),
	})
}

// handleInvoke runs one tool call in the caller's session lane
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.inFlightReqs.Add(1)
	s.shutdownMu.RUnlock()
	defer s.inFlightReqs.Done()

	ip := s.clientIP(r)
	if s.rateLimiter != nil && !s.rateLimiter.Allow(ip) {
		retryAfter := s.rateLimiter.RetryAfter(ip)
		s.logger.Warn().
			Str("ip", ip).
			Str("path", r.URL.Path).
			Int("retryAfter", retryAfter).
			Msg("Rate limit exceeded")

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	toolName := r.PathValue("name")
	args, err := decodeArgs(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeText(w, status, toolexecutor.RenderError(toolexecutor.Validationf("invalid request body: %v", err)))
		return
	}

	sessionKey := strings.TrimSpace(r.Header.Get(HeaderSessionKey))
	logger := tracing.LoggerFromContext(r.Context(), s.logger)

	result, err := s.dispatcher.Call(r.Context(), gateway.CallRequest{
		Tool:           toolName,
		Args:           args,
		SessionKey:     sessionKey,
		InvocationID:   r.Header.Get(HeaderInvocationID),
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
		WorkingDir:     r.Header.Get(HeaderWorkingDir),
		Actor:          "http:" + ip,
	})
	w.Header().Set(HeaderInvocationID, result.InvocationID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, commandqueue.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, commandqueue.ErrLaneCleared):
			status = http.StatusConflict
		}
		logger.Error().Err(err).Str("tool", toolName).Str("session", sessionKey).Msg("Tool call was not executed")
		writeText(w, status, toolexecutor.RenderError(toolexecutor.ExecutionError(err)))
		return
	}

	logger.Info().
		Str("method", r.Method).
		Str("tool", toolName).
		Str("ip", ip).
		Str("invocation_id", result.InvocationID).
		Bool("error", result.IsError).
		Dur("duration", time.Since(startTime)).
		Msg("Tool request completed")

	writeText(w, http.StatusOK, result.Text)
}

// handleClearSession drops calls still queued for a session
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	cleared := s.dispatcher.ClearSession(r.PathValue("key"))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// handleHistory lists recorded calls, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	store := s.dispatcher.History()
	if store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is disabled"})
		return
	}

	query := r.URL.Query()
	q := history.Query{
		SessionKey: query.Get("session"),
		Tool:       query.Get("tool"),
		Status:     query.Get("status"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = limit
	}

	entries, err := store.List(r.Context(), q)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list history"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// decodeArgs reads a JSON object; an empty body means no arguments.
func decodeArgs(body io.Reader) (map[string]interface{}, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	args := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// clientIP is the address rate limits are keyed by. The
// forwarding headers only count when the peer is a trusted proxy; the
// nearest untrusted hop in X-Forwarded-For is the client.
func (s *Server) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !s.trusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && (!s.trusted(hop) || i == 0) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (s *Server) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseTrustedProxies accepts plain addresses ("10.0.0.1") and CIDR
// ranges ("10.0.0.0/8").
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
