package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/internal/syncutil"
)

// WebSocket message types
const (
	EventPrint        = "print"
	EventCommand      = "command"
	EventNotification = "notification"
	EventState        = "state"
	EventResponse     = "response"
	EventError        = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan WSMessage
	server *Server
}

// Hub fans driver notifications and state changes out to every connected
// WebSocket client
type Hub struct {
	clients map[*WSClient]bool
	mu      syncutil.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*WSClient]bool)}
}

// Notify broadcasts a user-facing notification
func (h *Hub) Notify(n printer.Notification) {
	data := map[string]any{
		"kind":    string(n.Kind),
		"message": n.Message,
		"retry":   n.Retry,
	}
	if n.Error != "" {
		data["error"] = n.Error
	}
	h.Broadcast(WSMessage{Event: EventNotification, Data: data})
}

// StateChanged broadcasts a connection state change
func (h *Hub) StateChanged(state printer.State, dev *printer.Device) {
	data := map[string]any{
		"state":   state.String(),
		"printer": nil,
	}
	if dev != nil {
		data["printer"] = *dev
	}
	h.Broadcast(WSMessage{Event: EventState, Data: data})
}

// Broadcast sends msg to every client, skipping clients whose buffer is full
func (h *Hub) Broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Client send buffer full, skip
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		_ = client.conn.Close()
	}
}

func (h *Hub) add(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *Hub) remove(client *WSClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan WSMessage, 256),
		server: s,
	}
	s.hub.add(client)

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	// Start goroutines
	go client.readPump()
	go client.writePump()
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("websocket write error")
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *WSClient) readPump() {
	defer func() {
		c.server.hub.remove(c)
		c.conn.Close()
		log.Debug().Msg("websocket client disconnected")
	}()

	for {
		var msg WSMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *WSMessage) {
	switch msg.Event {
	case EventPrint:
		c.handlePrintEvent(msg.Data)
	case EventCommand:
		c.handleCommandEvent(msg.Data)
	default:
		c.sendError(fmt.Sprintf("unknown event: %s", msg.Event))
	}
}

func (c *WSClient) handlePrintEvent(data map[string]any) {
	var req receiptRequest
	raw, err := json.Marshal(data)
	if err == nil {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		c.sendError(fmt.Sprintf("invalid receipt: %v", err))
		return
	}

	ctx := context.Background()
	receipt, err := req.load(ctx)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	s := c.server
	if s.runner == nil {
		c.sendPrintResult("", s.service.PrintReceiptErr(ctx, receipt))
		return
	}
	job, err := s.runner.Print(ctx, receipt)
	id := ""
	if job != nil {
		id = job.ID
	}
	c.sendPrintResult(id, err)
}

func (c *WSClient) sendPrintResult(jobID string, err error) {
	data := map[string]any{"success": err == nil}
	if jobID != "" {
		data["job_id"] = jobID
	}
	if err != nil {
		kind := printer.KindOf(err)
		data["error"] = err.Error()
		data["kind"] = kind.String()
		data["retry"] = kind.Retryable()
	}
	c.sendResponse(data)
}

func (c *WSClient) handleCommandEvent(data map[string]any) {
	cmd, _ := data["command"].(string)
	if cmd == "" {
		c.sendError("command is required")
		return
	}

	result := c.server.executor.Execute(context.Background(), cmd)
	c.sendResponse(map[string]any{
		"success": result.Success,
		"message": result.Message,
		"error":   result.Error,
		"data":    result.Data,
	})
}

// sendResponse queues a reply unless the client is already gone
func (c *WSClient) sendResponse(data map[string]any) {
	c.server.hub.reply(c, WSMessage{Event: EventResponse, Data: data})
}

func (c *WSClient) sendError(message string) {
	c.server.hub.reply(c, WSMessage{
		Event: EventError,
		Data: map[string]any{
			"error": message,
		},
	})
}

func (h *Hub) reply(client *WSClient, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- msg:
	default:
		log.Debug().Str("event", msg.Event).Msg("websocket reply dropped, buffer full")
	}
}
