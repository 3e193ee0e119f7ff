package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// idleAfter marks a client idle in ClientInfo
const idleAfter = 5 * time.Minute

// ClientState is where a connection is in its lifecycle
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Client is one WebSocket connection
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn    *websocket.Conn
	limiter *ClientRateLimiter
	writeMu sync.Mutex // gorilla allows one writer at a time

	mu        sync.Mutex
	state     ClientState
	challenge string
	failures  int
	lastSeen  time.Time
}

func newClient(id string, conn *websocket.Conn, remoteAddr string, limiter *ClientRateLimiter) *Client {
	now := time.Now()
	return &Client{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		conn:        conn,
		limiter:     limiter,
		state:       StateConnecting,
		lastSeen:    now,
	}
}

// send writes one JSON frame
func (c *Client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// goAway sends a close frame with reason and drops the connection
func (c *Client) goAway(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

func (c *Client) setState(state ClientState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Authenticated() bool {
	return c.State() == StateAuthenticated
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// ClientInfo is the public view of a connection
type ClientInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Idle          bool      `json:"idle"`
	InFlight      int       `json:"inFlight"`
}

func (c *Client) info(now time.Time) ClientInfo {
	c.mu.Lock()
	state, lastSeen := c.state, c.lastSeen
	c.mu.Unlock()

	_, inFlight := c.limiter.GetStats()
	return ClientInfo{
		ID:            c.ID,
		State:         state.String(),
		Authenticated: state == StateAuthenticated,
		ConnectedAt:   c.ConnectedAt,
		LastActivity:  lastSeen,
		IPAddress:     c.RemoteAddr,
		Idle:          now.Sub(lastSeen) > idleAfter,
		InFlight:      inFlight,
	}
}

// clientSet holds the live connections
type clientSet struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[string]*Client)}
}

func (s *clientSet) add(c *Client) {
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()
}

func (s *clientSet) remove(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// list returns the connections, oldest first
func (s *clientSet) list() []*Client {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].ConnectedAt.Equal(clients[j].ConnectedAt) {
			return clients[i].ID < clients[j].ID
		}
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})
	return clients
}

func (s *clientSet) infos() []ClientInfo {
	now := time.Now()
	clients := s.list()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.info(now))
	}
	return infos
}
