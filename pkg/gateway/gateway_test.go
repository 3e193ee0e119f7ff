package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/kitool/pkg/history"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGateway(t *testing.T, cfg Config) (*Gateway, *dispatcherEnv, string) {
	t.Helper()
	env := newDispatcherEnv(t)
	cfg.Dispatcher = env.dispatcher
	cfg.Logger = zerolog.Nop()

	g, err := NewGateway(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, env, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func call(t *testing.T, conn *websocket.Conn, req map[string]interface{}) RPCResponse {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	return readResponse(t, conn)
}

func readResponse(t *testing.T, conn *websocket.Conn) RPCResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp RPCResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error")
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is %T", resp.Result)
	return m
}

func TestNewGateway_RequiresDispatcher(t *testing.T) {
	_, err := NewGateway(Config{})
	assert.Error(t, err)
}

func TestGateway_Methods(t *testing.T) {
	g, _, _ := startGateway(t, Config{})
	assert.Equal(t, []string{"gateway.clients", "history.list", "sessions.clear", "tools.call", "tools.list"}, g.Methods())
}

func TestGateway_ToolsList(t *testing.T) {
	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{"id": "1", "method": "tools.list"})
	assert.Equal(t, "1", resp.ID)
	tools := resultMap(t, resp)["tools"].([]interface{})
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].(map[string]interface{})["name"])
}

func TestGateway_ToolsCall(t *testing.T) {
	_, env, url := startGateway(t, Config{})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{
		"id":     "1",
		"method": "tools.call",
		"params": map[string]interface{}{
			"tool":          "echo",
			"args":          map[string]interface{}{"message": "over the wire"},
			"session_key":   "ws-session",
			"invocation_id": "inv-ws",
		},
	})
	result := resultMap(t, resp)
	assert.Equal(t, "over the wire", result["text"])
	assert.Equal(t, "inv-ws", result["invocation_id"])
	assert.Equal(t, false, result["error"])

	entries, err := env.history.List(context.Background(), history.Query{SessionKey: "ws-session"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Actor, "ws:"))
}

func TestGateway_ToolsCall_ToolFailureIsResult(t *testing.T) {
	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{
		"id":     "1",
		"method": "tools.call",
		"params": map[string]interface{}{"tool": "missing"},
	})
	result := resultMap(t, resp)
	assert.Equal(t, true, result["error"])
	assert.True(t, strings.HasPrefix(result["text"].(string), "error:"))
}

func TestGateway_ToolsCall_InvalidParams(t *testing.T) {
	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"missing tool", map[string]interface{}{}},
		{"tool not a string", map[string]interface{}{"tool": 5}},
		{"args not an object", map[string]interface{}{"tool": "echo", "args": "x"}},
		{"session not a string", map[string]interface{}{"tool": "echo", "session_key": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, conn, map[string]interface{}{"id": "1", "method": "tools.call", "params": tt.params})
			require.NotNil(t, resp.Error)
			assert.Equal(t, InvalidParams, resp.Error.Code)
		})
	}
}

func TestGateway_ToolsCall_IdempotencyKey(t *testing.T) {
	_, env, url := startGateway(t, Config{})
	conn := dial(t, url)

	for _, message := range []string{"first", "second"} {
		resp := call(t, conn, map[string]interface{}{
			"id":             message,
			"method":         "tools.call",
			"idempotencyKey": "retry-1",
			"params": map[string]interface{}{
				"tool": "echo",
				"args": map[string]interface{}{"message": message},
			},
		})
		assert.Equal(t, message, resp.ID)
		assert.Equal(t, "first", resultMap(t, resp)["text"])
	}
	assert.Equal(t, int32(1), env.calls.Load())
}

func TestGateway_SessionsClear(t *testing.T) {
	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{
		"id": "1", "method": "sessions.clear", "params": map[string]interface{}{"session_key": "idle"},
	})
	assert.Equal(t, float64(0), resultMap(t, resp)["cleared"])

	resp = call(t, conn, map[string]interface{}{"id": "2", "method": "sessions.clear"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestGateway_HistoryList(t *testing.T) {
	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	for i := 0; i < 3; i++ {
		call(t, conn, map[string]interface{}{
			"id": "c", "method": "tools.call",
			"params": map[string]interface{}{"tool": "echo", "args": map[string]interface{}{"message": "m"}, "session_key": "h"},
		})
	}

	resp := call(t, conn, map[string]interface{}{
		"id": "1", "method": "history.list", "params": map[string]interface{}{"session_key": "h", "limit": 2},
	})
	entries := resultMap(t, resp)["entries"].([]interface{})
	assert.Len(t, entries, 2)

	resp = call(t, conn, map[string]interface{}{
		"id": "2", "method": "history.list", "params": map[string]interface{}{"limit": 1.5},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestGateway_UnknownMethodAndBadJSON(t *testing.T) {
	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{"id": "1", "method": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	resp = readResponse(t, conn)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ParseError, resp.Error.Code)
}

func TestGateway_Auth(t *testing.T) {
	_, _, url := startGateway(t, Config{SharedSecret: "s3cret"})
	conn := dial(t, url)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, "auth.challenge", challenge.Event)
	require.Len(t, challenge.Challenge, 64)

	resp := call(t, conn, map[string]interface{}{"id": "1", "method": "tools.list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, AuthenticationRequired, resp.Error.Code)

	require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: Sign("s3cret", challenge.Challenge)}))
	var result AuthResult
	require.NoError(t, conn.ReadJSON(&result))
	assert.True(t, result.Success)

	resp = call(t, conn, map[string]interface{}{"id": "2", "method": "tools.list"})
	assert.Nil(t, resp.Error)
}

func TestGateway_AuthFailuresCloseConnection(t *testing.T) {
	_, _, url := startGateway(t, Config{SharedSecret: "s3cret"})
	conn := dial(t, url)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))

	for i := 0; i < maxAuthAttempts; i++ {
		require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: "bad"}))
		var result AuthResult
		require.NoError(t, conn.ReadJSON(&result))
		assert.False(t, result.Success)
	}

	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes the connection")
}

func TestGateway_RateLimited(t *testing.T) {
	_, _, url := startGateway(t, Config{RequestsPerMinute: 1})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{"id": "1", "method": "tools.list"})
	assert.Nil(t, resp.Error)

	resp = call(t, conn, map[string]interface{}{"id": "2", "method": "tools.list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, RateLimitExceeded, resp.Error.Code)
	assert.Equal(t, "2", resp.ID)
}

func TestGateway_ConnectedClients(t *testing.T) {
	g, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	resp := call(t, conn, map[string]interface{}{"id": "1", "method": "gateway.clients"})
	clients := resultMap(t, resp)["clients"].([]interface{})
	require.Len(t, clients, 1)
	assert.Equal(t, true, clients[0].(map[string]interface{})["authenticated"])
	assert.Equal(t, "authenticated", clients[0].(map[string]interface{})["state"])
	assert.Len(t, g.GetConnectedClients(), 1)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return len(g.GetConnectedClients()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestGateway_Close(t *testing.T) {
	g, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	call(t, conn, map[string]interface{}{"id": "1", "method": "tools.list"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Close(ctx))

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestResultEncoding(t *testing.T) {
	data, err := json.Marshal(CallResult{Text: "ok", InvocationID: "i"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"ok","invocation_id":"i","error":false}`, string(data))
}
