package gateway

import (
	"context"
	"errors"

	"github.com/harun/kitool/pkg/commandqueue"
	"github.com/harun/kitool/pkg/history"
)

func (g *Gateway) registerBuiltinMethods() error {
	methods := map[string]RequestHandler{
		"tools.list":      g.handleToolsList,
		"tools.call":      g.handleToolsCall,
		"sessions.clear":  g.handleSessionsClear,
		"history.list":    g.handleHistoryList,
		"gateway.clients": g.handleGatewayClients,
	}
	for name, handler := range methods {
		if err := g.methods.register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) handleToolsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"tools": g.dispatcher.Descriptors(),
	}, nil
}

// handleToolsCall answers with the tool text. Tool failures are results
// with error=true, not RPC errors.
func (g *Gateway) handleToolsCall(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tool, err := stringParam(params, "tool", true)
	if err != nil {
		return nil, err
	}
	sessionKey, err := stringParam(params, "session_key", false)
	if err != nil {
		return nil, err
	}
	invocationID, err := stringParam(params, "invocation_id", false)
	if err != nil {
		return nil, err
	}
	workingDir, err := stringParam(params, "working_dir", false)
	if err != nil {
		return nil, err
	}

	var args map[string]interface{}
	if raw, ok := params["args"]; ok && raw != nil {
		args, ok = raw.(map[string]interface{})
		if !ok {
			return nil, invalidParams("args must be an object")
		}
	}

	from := originFrom(ctx)
	result, err := g.dispatcher.Call(ctx, CallRequest{
		Tool:           tool,
		Args:           args,
		SessionKey:     sessionKey,
		InvocationID:   invocationID,
		IdempotencyKey: from.idempotencyKey,
		WorkingDir:     workingDir,
		Actor:          "ws:" + from.clientID,
	})
	if err != nil {
		if errors.Is(err, commandqueue.ErrQueueClosed) {
			return nil, &RPCError{Code: ShuttingDown, Message: err.Error()}
		}
		return nil, err
	}
	return result, nil
}

func (g *Gateway) handleSessionsClear(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionKey, err := stringParam(params, "session_key", true)
	if err != nil {
		return nil, err
	}
	return map[string]int{"cleared": g.dispatcher.ClearSession(sessionKey)}, nil
}

func (g *Gateway) handleHistoryList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	store := g.dispatcher.History()
	if store == nil {
		return nil, &RPCError{Code: InvalidRequest, Message: "history is disabled"}
	}

	var q history.Query
	var err error
	if q.SessionKey, err = stringParam(params, "session_key", false); err != nil {
		return nil, err
	}
	if q.Tool, err = stringParam(params, "tool", false); err != nil {
		return nil, err
	}
	if q.Status, err = stringParam(params, "status", false); err != nil {
		return nil, err
	}
	if raw, ok := params["limit"]; ok {
		limit, ok := raw.(float64)
		if !ok || limit < 0 || limit != float64(int(limit)) {
			return nil, invalidParams("limit must be a non-negative integer")
		}
		q.Limit = int(limit)
	}

	entries, err := store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return map[string]interface{}{"entries": entries}, nil
}

func (g *Gateway) handleGatewayClients(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients": g.GetConnectedClients(),
	}, nil
}

func stringParam(params map[string]interface{}, name string, required bool) (string, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		if required {
			return "", invalidParams("missing required parameter: %s", name)
		}
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", invalidParams("%s must be a string", name)
	}
	if required && value == "" {
		return "", invalidParams("missing required parameter: %s", name)
	}
	return value, nil
}
