package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/videotranslator/api/internal/model"
)

const (
	sendBufferSize = 64
	pingInterval   = 30 * time.Second
)

// Client represents a WebSocket client
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// NewClient creates a client for a session
func NewClient(sessionID string, conn *websocket.Conn) *Client {
	return &Client{
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
	}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by session ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast. A message with a
// Client goes to that client only.
type BroadcastMessage struct {
	SessionID string
	Client    *Client
	Message   []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for sessionID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, sessionID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.SessionID] == nil {
				h.clients[client.SessionID] = make(map[*Client]bool)
			}
			h.clients[client.SessionID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for session %s", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Printf("Client unregistered from session %s", client.SessionID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.SessionID] {
				if msg.Client != nil && msg.Client != client {
					continue
				}
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer; drop it rather than stall every session.
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.SessionID)
	}
}

// Stop ends Run and closes every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of clients watching a session
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// send queues a message without blocking; callers may hold other locks
func (h *Hub) send(sessionID string, to *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{SessionID: sessionID, Client: to, Message: data}:
	case <-h.done:
	default:
		log.Printf("Broadcast queue full, dropping message for session %s", sessionID)
	}
}

// BroadcastProgress sends a progress update to all session subscribers
func (h *Hub) BroadcastProgress(sessionID, jobID string, progress int, status model.JobStatus, step string, activePhase int) {
	h.send(sessionID, nil, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		SessionID:   sessionID,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
		ActivePhase: activePhase,
	})
}

// BroadcastComplete sends a completion message to all session subscribers
func (h *Hub) BroadcastComplete(sessionID, jobID, resultReference string) {
	h.send(sessionID, nil, model.WSCompleteMessage{
		Type:            model.WSMessageTypeComplete,
		SessionID:       sessionID,
		JobID:           jobID,
		ResultReference: resultReference,
	})
}

// BroadcastError sends an error message to all session subscribers
func (h *Hub) BroadcastError(sessionID, jobID, code, message string) {
	h.send(sessionID, nil, model.WSErrorMessage{
		Type:      model.WSMessageTypeError,
		SessionID: sessionID,
		JobID:     jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// HandleConnection serves a WebSocket connection until the peer goes away.
// initial, when set, is sent before any broadcast.
func (h *Hub) HandleConnection(c *websocket.Conn, sessionID string, initial []byte) {
	client := NewClient(sessionID, c)
	if initial != nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			h.send(sessionID, client, model.WSMessage{Type: model.WSMessageTypePong})
		}
	}
}
