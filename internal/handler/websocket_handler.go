// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial-bridge/internal/middleware"
	"serial-bridge/internal/model"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
)

// WebSocketHandler streams relay events to WebSocket clients and accepts
// terminal commands from them
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	connections   *ConnectionManager
	bridgeService *service.BridgeService
	bufferSize    int
	logger        *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. An empty
// allowedOrigins accepts every origin.
func NewWebSocketHandler(
	bridgeService *service.BridgeService,
	allowedOrigins []string,
	bufferSize int,
	logger *zap.Logger,
) *WebSocketHandler {
	anyOrigin := middleware.AllowsAnyOrigin(allowedOrigins)
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if anyOrigin {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origins[origin]
		},
	}

	if bufferSize <= 0 {
		bufferSize = 256
	}

	return &WebSocketHandler{
		upgrader:      upgrader,
		connections:   NewConnectionManager(),
		bridgeService: bridgeService,
		bufferSize:    bufferSize,
		logger:        utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
}

// HandleEventConnection upgrades the request and streams line and status
// events. The optional since query parameter replays retained lines newer
// than that sequence number in the hello message; streamed lines at or below
// the hello's last_seq are skipped.
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	var since uint64
	replay := false
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a sequence number"})
			return
		}
		since, replay = v, true
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	events, unsubscribe := h.bridgeService.Subscribe(h.bufferSize)
	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 64),
		Events:      events,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	hello := gin.H{
		"client_id": client.ID,
		"status":    h.bridgeService.Status(),
	}
	if replay {
		lines := h.bridgeService.Lines(since)
		client.replayedSeq = since
		if n := len(lines); n > 0 {
			client.replayedSeq = lines[n-1].Seq
		}
		hello["lines"] = lines
		hello["last_seq"] = client.replayedSeq
	}
	h.sendMessage(client, &WebSocketMessage{
		Type:      MessageHello,
		Data:      hello,
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message ClientMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite writes relay events and replies to the client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				h.writeClose(client)
				return
			}
			if ev.Kind == model.EventLineAppended {
				ev.Lines = linesAfter(ev.Lines, client.replayedSeq)
				if len(ev.Lines) == 0 {
					continue
				}
			}
			payload, err := json.Marshal(&WebSocketMessage{
				Type:      string(ev.Kind),
				Data:      ev,
				Timestamp: ev.Timestamp,
			})
			if err != nil {
				h.logger.Error("Failed to marshal relay event", zap.Error(err))
				continue
			}
			if !h.write(client, websocket.TextMessage, payload) {
				return
			}

		case message := <-client.Send:
			if !h.write(client, websocket.TextMessage, message) {
				return
			}

		case <-client.done:
			h.writeClose(client)
			return

		case <-ticker.C:
			if !h.write(client, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// linesAfter returns the lines with a sequence number above seq
func linesAfter(lines []model.TerminalLine, seq uint64) []model.TerminalLine {
	if seq == 0 || len(lines) == 0 || lines[0].Seq > seq {
		return lines
	}
	kept := make([]model.TerminalLine, 0, len(lines))
	for _, line := range lines {
		if line.Seq > seq {
			kept = append(kept, line)
		}
	}
	return kept
}

func (h *WebSocketHandler) write(client *Client, messageType int, payload []byte) bool {
	client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := client.Connection.WriteMessage(messageType, payload); err != nil {
		h.logger.Debug("WebSocket write error",
			zap.Error(err),
			zap.String("client_id", client.ID),
		)
		return false
	}
	return true
}

func (h *WebSocketHandler) writeClose(client *Client) {
	client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
	client.Connection.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"))
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *ClientMessage) {
	switch message.Type {
	case "send":
		var req service.SendRequest
		if err := json.Unmarshal(message.Data, &req); err != nil {
			h.sendError(client, message.RequestID, "invalid send data")
			return
		}
		h.respond(client, message, nil, h.bridgeService.Send(&req))

	case "connect":
		var req service.ConnectRequest
		if len(message.Data) > 0 {
			if err := json.Unmarshal(message.Data, &req); err != nil {
				h.sendError(client, message.RequestID, "invalid connect data")
				return
			}
		}
		go h.executeConnect(client, message, &req)

	case "disconnect":
		err := h.bridgeService.Disconnect()
		h.respond(client, message, h.bridgeService.Status(), err)

	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      MessagePong,
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// executeConnect runs off the read loop so pings keep flowing
func (h *WebSocketHandler) executeConnect(client *Client, message *ClientMessage, req *service.ConnectRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snapshot, err := h.bridgeService.Connect(ctx, req)
	h.respond(client, message, snapshot, err)
}

// respond sends a command_response for a client command
func (h *WebSocketHandler) respond(client *Client, message *ClientMessage, result interface{}, err error) {
	data := map[string]interface{}{
		"command": message.Type,
		"success": err == nil,
	}
	if result != nil {
		data["result"] = result
	}
	if err != nil {
		data["error"] = err.Error()
		data["status"] = statusForError(err)
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      MessageCommandResponse,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendMessage queues a reply for a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	case <-client.done:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: MessageError,
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// Close disconnects every WebSocket client
func (h *WebSocketHandler) Close() {
	h.connections.CloseAll()
}
