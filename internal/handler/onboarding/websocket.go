package onboarding

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// inboundMessage 客户端发来的指令
type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket 处理WebSocket连接：转发控制器事件，并接受 submit/retry/sample/reset/snapshot 指令。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	h.logger.Infof("[websocket] new connection for client: %s", client.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, stop := client.Subscribe()
	defer stop()

	raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		h.forwardEvents(ctx, conn, events)
	}()
	defer wg.Wait()
	defer cancel()

	if snap, err := client.Snapshot(ctx); err == nil {
		conn.send("snapshot", snap)
	}

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf("[websocket] read error: %v", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
		h.handleMessage(ctx, conn, client, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *wsConn, client *onboarding.Client, msg inboundMessage) {
	var err error
	switch msg.Type {
	case "submit":
		err = client.SubmitUserInput(ctx, msg.Text)
	case "retry":
		err = client.Retry(ctx)
	case "sample":
		err = client.UseSampleData(ctx)
	case "reset":
		if err = client.Reset(ctx); err == nil {
			err = client.Start(ctx)
		}
	case "snapshot":
		var snap onboarding.Snapshot
		if snap, err = client.Snapshot(ctx); err == nil {
			conn.send("snapshot", snap)
		}
	default:
		conn.send("error", map[string]string{"message": "unknown message type: " + msg.Type})
		return
	}
	if err != nil {
		_, message := statusFor(err)
		conn.send("error", map[string]string{"message": message, "request": msg.Type})
	}
}

func (h *Handler) forwardEvents(ctx context.Context, conn *wsConn, events <-chan onboarding.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := conn.send(string(ev.Type), ev); err != nil {
				h.logger.Debugf("[websocket] write failed: %v", err)
				return
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

