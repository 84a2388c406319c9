package observer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
)

// WebSocketMessage is the envelope WebSocketObserver broadcasts, with Type
// "event" and the event in Event. Nothing in this package sets Control:
// the welcome sent on connect (websocket_handler.go) is a flat JSON
// object, and subscribe/unsubscribe commands get no reply.
type WebSocketMessage struct {
	Type      string         `json:"type"`
	Event     *EventPayload  `json:"event,omitempty"`
	Control   map[string]any `json:"control,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventPayload is the wire representation of an Event.
type EventPayload struct {
	EventType   string         `json:"event_type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      string         `json:"status,omitempty"`
	NodeID      *string        `json:"node_id,omitempty"`
	NodeName    *string        `json:"node_name,omitempty"`
	NodeType    *string        `json:"node_type,omitempty"`
	WaveIndex   *int           `json:"wave_index,omitempty"`
	NodeCount   *int           `json:"node_count,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}

// WebSocketClient is one connected subscriber: a dashboard or other
// watcher following a single execution's activation log live (§6).
type WebSocketClient struct {
	ID            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *WebSocketHub
	executionID   string
	subscriptions map[EventType]bool
	mu            sync.RWMutex
}

// NewWebSocketClient wires a freshly-upgraded connection into hub,
// scoped to executionID (empty means "all executions").
func NewWebSocketClient(id string, conn *websocket.Conn, hub *WebSocketHub, executionID string) *WebSocketClient {
	return &WebSocketClient{
		ID:            id,
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		executionID:   executionID,
		subscriptions: make(map[EventType]bool),
	}
}

// IsSubscribed reports whether the client wants events of eventType; an
// empty subscription set means "subscribed to everything".
func (c *WebSocketClient) IsSubscribed(eventType EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[eventType]
}

func (c *WebSocketClient) handleMessage(message []byte) {
	var cmd struct {
		Command    string   `json:"command"`
		EventTypes []string `json:"event_types"`
	}
	if err := json.Unmarshal(message, &cmd); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Command {
	case "subscribe":
		for _, t := range cmd.EventTypes {
			c.subscriptions[EventType(t)] = true
		}
	case "unsubscribe":
		for _, t := range cmd.EventTypes {
			delete(c.subscriptions, EventType(t))
		}
	}
}

// ReadPump drains inbound control messages (subscribe/unsubscribe)
// until the connection closes, then unregisters the client.
func (c *WebSocketClient) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(message)
	}
}

// WritePump drains the client's outbound queue to the socket until it
// closes or a ping fails, keeping the connection alive with pings.
func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type hubBroadcast struct {
	executionID string
	data        []byte
}

// WebSocketHub fans broadcasts out to every registered client, filtered
// by execution id when the broadcast targets one.
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan *hubBroadcast
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewWebSocketHub creates a hub and starts its dispatch loop.
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan *hubBroadcast, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     log,
	}
	go hub.run()
	return hub
}

func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case b := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if b.executionID != "" && client.executionID != "" && client.executionID != b.executionID {
					continue
				}
				select {
				case client.send <- b.data:
				default:
					h.logger.Warn("websocket client send buffer full, dropping message", "client_id", client.ID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds client to the hub.
func (h *WebSocketHub) Register(client *WebSocketClient) { h.register <- client }

// Unregister removes client from the hub.
func (h *WebSocketHub) Unregister(client *WebSocketClient) { h.unregister <- client }

// Broadcast sends data to every registered client.
func (h *WebSocketHub) Broadcast(data []byte) {
	h.broadcast <- &hubBroadcast{data: data}
}

// BroadcastToExecution sends data only to clients watching executionID
// (or watching every execution).
func (h *WebSocketHub) BroadcastToExecution(executionID string, data []byte) {
	h.broadcast <- &hubBroadcast{executionID: executionID, data: data}
}

// ClientCount reports the number of currently registered clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WebSocketObserver streams execution events to subscribed dashboard
// clients (spec.md §6, "live activation log streaming").
type WebSocketObserver struct {
	name   string
	filter EventFilter
	logger *logger.Logger
	hub    *WebSocketHub
}

// WebSocketObserverOption configures a WebSocketObserver at construction.
type WebSocketObserverOption func(*WebSocketObserver)

// WithWebSocketFilter restricts which events reach connected clients.
func WithWebSocketFilter(filter EventFilter) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.filter = filter }
}

// WithWebSocketLogger attaches a logger for delivery failures.
func WithWebSocketLogger(l *logger.Logger) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.logger = l }
}

// NewWebSocketObserver creates a WebSocketObserver broadcasting through hub.
func NewWebSocketObserver(hub *WebSocketHub, opts ...WebSocketObserverOption) *WebSocketObserver {
	obs := &WebSocketObserver{name: "websocket", hub: hub}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

func (o *WebSocketObserver) Name() string        { return o.name }
func (o *WebSocketObserver) Filter() EventFilter { return o.filter }

// GetHub returns the hub this observer broadcasts through.
func (o *WebSocketObserver) GetHub() *WebSocketHub { return o.hub }

// eventToMessage converts an Event into its wire representation.
func (o *WebSocketObserver) eventToMessage(event Event) *WebSocketMessage {
	payload := &EventPayload{
		EventType:   string(event.Type),
		ExecutionID: event.ExecutionID,
		WorkflowID:  event.WorkflowID,
		Timestamp:   event.Timestamp,
		Status:      event.Status,
		NodeID:      event.NodeID,
		NodeName:    event.NodeName,
		NodeType:    event.NodeType,
		WaveIndex:   event.WaveIndex,
		NodeCount:   event.NodeCount,
		DurationMs:  event.DurationMs,
		Output:      event.Output,
	}
	if event.Error != nil {
		errStr := event.Error.Error()
		payload.Error = &errStr
	}
	return &WebSocketMessage{Type: "event", Event: payload, Timestamp: time.Now()}
}

// OnEvent marshals event and broadcasts it to clients watching its execution.
func (o *WebSocketObserver) OnEvent(ctx context.Context, event Event) error {
	message := o.eventToMessage(event)
	data, err := json.Marshal(message)
	if err != nil {
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "failed to marshal websocket event", "error", err)
		}
		return err
	}
	o.hub.BroadcastToExecution(event.ExecutionID, data)
	return nil
}
