package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// methodTable maps method names to handlers
type methodTable struct {
	mu       sync.RWMutex
	handlers map[string]RequestHandler
	logger   zerolog.Logger
}

func newMethodTable(logger zerolog.Logger) *methodTable {
	return &methodTable{
		handlers: make(map[string]RequestHandler),
		logger:   logger,
	}
}

// register adds or replaces the handler of name
func (t *methodTable) register(name string, handler RequestHandler) error {
	if name == "" {
		return fmt.Errorf("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s cannot be nil", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = handler
	return nil
}

func (t *methodTable) lookup(name string) (RequestHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handler, ok := t.handlers[name]
	return handler, ok
}

// names returns the registered methods, sorted
func (t *methodTable) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dispatch runs the handler of req.Method. A panicking handler answers
// InternalError and leaves the connection alive.
func (t *methodTable) dispatch(ctx context.Context, req *RPCRequest) (resp *RPCResponse) {
	handler, ok := t.lookup(req.Method)
	if !ok {
		return errorResponse(req.ID, MethodNotFound, "Method not found: "+req.Method)
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().
				Str("method", req.Method).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("RPC handler panicked")
			resp = errorResponse(req.ID, InternalError, "internal error")
		}
	}()

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return &RPCResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
		}
		return errorResponse(req.ID, InternalError, err.Error())
	}
	return resultResponse(req.ID, result)
}
