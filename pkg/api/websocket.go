package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"plasticpilot/pkg/control"
	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/notify"
)

const (
	wsSendBuffer     = 64
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsMaxMessageSize = 64 * 1024
)

// Notification frames and request/response envelopes are JSON-RPC 2.0.

type wsRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type wsResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	Result  any      `json:"result,omitempty"`
	Error   *wsError `json:"error,omitempty"`
	ID      any      `json:"id,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// PushStatus broadcasts a session state transition to every client.
// Part of notify.Notifier.
func (s *Server) PushStatus(p notify.StatusPayload) {
	s.broadcast("notify_status", p)
}

// PushControllers broadcasts a controller list change.
func (s *Server) PushControllers(p notify.ControllersPayload) {
	s.broadcast("notify_controllers", p)
}

// PushSettings broadcasts a settings change.
func (s *Server) PushSettings(p notify.SettingsPayload) {
	s.broadcast("notify_settings", p)
}

func (s *Server) broadcast(method string, payload any) {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	if len(s.wsClients) == 0 {
		return
	}
	frame := wsNotification{JSONRPC: "2.0", Method: method, Params: []any{payload}}
	for _, c := range s.wsClients {
		c.send(frame)
	}
	s.pm.RecordNotification("websocket")
}

// wsClient is one WebSocket connection with its outbound queue.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, wsSendBuffer),
		done:   make(chan struct{}),
	}

	s.wsClientMu.Lock()
	s.wsClients[c.id] = c
	n := len(s.wsClients)
	s.wsClientMu.Unlock()
	s.pm.WebsocketClients.Set(nil, float64(n))
	s.log.Info("websocket client %d connected", c.id)

	go c.writePump()

	// Fresh clients get the current state straight away instead of
	// waiting for the next transition.
	c.send(wsNotification{
		JSONRPC: "2.0",
		Method:  "notify_status",
		Params:  []any{statusPayload(s.session.Status())},
	})

	c.readPump()
}

// statusPayload converts a session snapshot into the wire payload the
// other notification backends use.
func statusPayload(st control.Status) notify.StatusPayload {
	return notify.StatusPayload{
		Type:         notify.TypeStatus,
		State:        st.State,
		Active:       st.Active,
		ControllerID: st.ControllerID,
		Error:        st.Error,
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, c.id)
	n := len(s.wsClients)
	s.wsClientMu.Unlock()
	s.pm.WebsocketClients.Set(nil, float64(n))
	s.log.Info("websocket client %d disconnected", c.id)
}

// send queues a frame, dropping it if the client cannot keep up.
func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.log.Warn("dropping frame to websocket client %d (queue full)", c.id)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("websocket read: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(wsResponse{JSONRPC: "2.0",
			Error: &wsError{Code: -32700, Message: "parse error"}})
		return
	}

	result, err := c.server.dispatch(req.Method, req.Params)
	if err != nil {
		c.send(wsResponse{JSONRPC: "2.0", ID: req.ID,
			Error: &wsError{Code: -32000, Message: err.Error()}})
		return
	}
	c.send(wsResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// dispatch serves the session operations over the socket, mirroring
// the REST surface for frontends that keep one connection open.
func (s *Server) dispatch(method string, params map[string]any) (any, error) {
	switch method {
	case "pilot.status":
		return s.session.Status(), nil
	case "pilot.controllers":
		return map[string]any{"controllers": s.session.Controllers()}, nil
	case "pilot.refresh":
		list, err := s.session.Refresh()
		if err != nil {
			return nil, err
		}
		return map[string]any{"controllers": list}, nil
	case "pilot.activate":
		id, ok := params["id"].(float64) // JSON numbers arrive as float64
		if !ok {
			return nil, perrors.New(perrors.ErrConfigOption,
				"activate requires a numeric 'id'")
		}
		if err := s.session.Activate(int(id)); err != nil {
			return nil, err
		}
		return s.session.Status(), nil
	case "pilot.deactivate":
		if err := s.session.Deactivate(); err != nil {
			return nil, err
		}
		return s.session.Status(), nil
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}
