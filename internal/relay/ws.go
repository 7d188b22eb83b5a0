package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ServeConn runs the background side of an agent connection until the socket
// closes. Requests are answered by handler; the tab is registered with hub so
// broadcasts reach it.
func ServeConn(ctx context.Context, conn *websocket.Conn, tabID, url string, hub *Hub, handler Handler) {
	var writeMu sync.Mutex
	write := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(env)
	}

	unregister := hub.Register(tabID, url, write)
	defer unregister()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error for tab %s: %v", tabID, err)
			}
			return
		}
		var req Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("Dropping malformed envelope from tab %s: %v", tabID, err)
			continue
		}
		req.TabID = tabID

		if req.Kind == KindTabURL {
			var nav TabURL
			if err := req.Decode(&nav); err == nil {
				hub.SetURL(tabID, nav.URL)
			}
			continue
		}

		go func(req Envelope) {
			resp, err := handle(ctx, handler, req)
			if err != nil {
				resp = ErrorEnvelope(req, err)
			}
			resp.ID = req.ID
			if req.ID == "" {
				return
			}
			if err := write(resp); err != nil {
				log.Printf("⚠️ Reply %s to tab %s failed: %v", req.Kind, tabID, err)
			}
		}(req)
	}
}

func handle(ctx context.Context, handler Handler, req Envelope) (resp Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, req)
}

// WSClient is the agent side of the websocket hop. It correlates responses by
// envelope id and hands pushed envelopes to onPush.
type WSClient struct {
	timeout time.Duration
	onPush  func(Envelope)

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Envelope
}

func DialWS(ctx context.Context, endpoint string, header http.Header, timeout time.Duration, onPush func(Envelope)) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewWSClient(conn, timeout, onPush), nil
}

func NewWSClient(conn *websocket.Conn, timeout time.Duration, onPush func(Envelope)) *WSClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if onPush == nil {
		onPush = func(Envelope) {}
	}
	c := &WSClient{
		timeout: timeout,
		onPush:  onPush,
		conn:    conn,
		pending: make(map[string]chan Envelope),
	}
	go c.readLoop(conn)
	return c
}

func (c *WSClient) Request(ctx context.Context, env Envelope) (Envelope, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return Envelope{}, fmt.Errorf("%s: %w", env.Kind, ErrNoListener)
	}

	env.ID = uuid.NewString()
	ch := make(chan Envelope, 1)
	c.pendingMu.Lock()
	c.pending[env.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(conn, env); err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", env.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case resp, ok := <-ch:
		if !ok {
			return Envelope{}, fmt.Errorf("%s: %w", env.Kind, ErrNoListener)
		}
		return Unwrap(resp)
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("%s: %w", env.Kind, ctx.Err())
	}
}

// Notify sends env without waiting for a reply.
func (c *WSClient) Notify(env Envelope) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", env.Kind, ErrNoListener)
	}
	env.ID = ""
	return c.write(conn, env)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *WSClient) write(conn *websocket.Conn, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if env.ID == "" {
			c.onPush(env)
			continue
		}
		c.pendingMu.Lock()
		ch := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		if ch != nil {
			ch <- env
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}
