package services

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub fans lifecycle broadcasts out to every client subscribed to a
// channel. Channels are plain names: a room's clients sit on
// RoomChannel(id); clients on an old build subscribe to the legacy
// competition channel instead and still receive end-of-competition
// results.
type Hub struct {
	clients      map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	mutex        sync.RWMutex
	sessions     *SessionService
	competitions *CompetitionService
}

type Client struct {
	hub      *Hub
	id       string
	socket   *websocket.Conn
	send     chan []byte
	channels map[string]bool
	roomID   uint
	userID   uint
}

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(sessions *SessionService, competitions *CompetitionService) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		sessions:     sessions,
		competitions: competitions,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client %s registered for room %d (user %d) - total clients: %d", client.id, client.roomID, client.userID, total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Client %s unregistered for room %d (user %d) - total clients: %d", client.id, client.roomID, client.userID, len(h.clients))
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastToChannel sends a typed event to every client subscribed to
// the channel. A client whose send buffer is full is dropped rather than
// allowed to stall the broadcast.
func (h *Hub) BroadcastToChannel(channel string, messageType string, payload interface{}) error {
	data, err := json.Marshal(outboundMessage{Type: messageType, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling %s message: %v", messageType, err)
		return err
	}

	h.mutex.Lock()
	sent := 0
	for client := range h.clients {
		if !client.channels[channel] {
			continue
		}
		select {
		case client.send <- data:
			sent++
		default:
			log.Printf("Client %s send buffer full, closing connection", client.id)
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mutex.Unlock()

	log.Printf("Broadcast %s to %d clients on channel %s", messageType, sent, channel)
	return nil
}

// ConnectedUsers lists the user ids currently subscribed to a channel.
func (h *Hub) ConnectedUsers(channel string) []uint {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var userIDs []uint
	for client := range h.clients {
		if client.channels[channel] {
			userIDs = append(userIDs, client.userID)
		}
	}
	return userIDs
}

// RegisterClient attaches a websocket connection to the hub, subscribed
// to the given channels, and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn, roomID, userID uint, channels []string) *Client {
	subscribed := make(map[string]bool, len(channels))
	for _, channel := range channels {
		subscribed[channel] = true
	}

	client := &Client{
		hub:      h,
		id:       uuid.NewString(),
		socket:   conn,
		send:     make(chan []byte, 256),
		channels: subscribed,
		roomID:   roomID,
		userID:   userID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) sendStateSync(client *Client) {
	msg := outboundMessage{Type: "competition_state_sync"}
	if state, err := h.competitions.LiveState(client.roomID); err != nil {
		msg.Payload = map[string]interface{}{"active": false}
	} else {
		msg.Payload = map[string]interface{}{"active": true, "competition": state}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling state sync for client %s: %v", client.id, err)
		return
	}

	h.mutex.Lock()
	select {
	case client.send <- data:
	default:
		close(client.send)
		delete(h.clients, client)
	}
	h.mutex.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error for client %s: %v", c.id, err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling message from client %s: %v", c.id, err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(outboundMessage{Type: "pong", Payload: "pong"})
		c.send <- data

	case "request_state":
		c.hub.sendStateSync(c)

	case "score_update":
		var req struct {
			SessionID uint      `json:"session_id"`
			Score     float64   `json:"score"`
			Timestamp time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			log.Printf("Bad score update from client %s: %v", c.id, err)
			return
		}
		record := &RecordScoreRequest{Score: req.Score, Timestamp: req.Timestamp}
		if _, err := c.hub.sessions.RecordScore(req.SessionID, record); err != nil {
			log.Printf("Score update from client %s rejected: %v", c.id, err)
		}

	case "leave":
		log.Printf("User %d left room %d via WebSocket", c.userID, c.roomID)

	default:
		log.Printf("Unknown message type %q from user %d in room %d", msg.Type, c.userID, c.roomID)
	}
}
