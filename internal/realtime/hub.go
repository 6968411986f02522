package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"outpatient-backend/internal/metrics"
	"outpatient-backend/internal/visitflow"

	"github.com/rs/zerolog/log"
)

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// Client is one websocket session.
type Client struct {
	ID     string
	UserID uint64
	Role   string
	Send   chan []byte

	topics map[visitflow.Topic]struct{}
}

// NewClient creates a client with a buffered outbound queue.
func NewClient(id string, userID uint64, role string, buffer int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, buffer),
		topics: make(map[visitflow.Topic]struct{}),
	}
}

// Hub tracks clients and their topic subscriptions. It is safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[visitflow.Topic]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[visitflow.Topic]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a client and subscribes it to topics.
func (h *Hub) Register(client *Client, topics ...visitflow.Topic) {
	h.mu.Lock()
	h.all[client] = struct{}{}
	h.subscribeLocked(client, topics)
	n := len(h.all)
	h.mu.Unlock()

	metrics.SetWebSocketClients(n)
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	for topic := range client.topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
	n := len(h.all)
	h.mu.Unlock()

	metrics.SetWebSocketClients(n)
}

// Subscribe adds known topics to a registered client; unknown names are ignored.
func (h *Hub) Subscribe(client *Client, topics ...visitflow.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.subscribeLocked(client, topics)
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics ...visitflow.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(client, topic)
	}
}

// ProcessMessage applies an inbound subscription change.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	topics := make([]visitflow.Topic, 0, len(msg.Topics))
	for _, t := range msg.Topics {
		topics = append(topics, visitflow.Topic(t))
	}
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, topics...)
	case "unsubscribe":
		h.Unsubscribe(client, topics...)
	}
}

// Notify broadcasts {"event": topic} to the subscribers of each topic.
// A client whose buffer is full misses the event rather than blocking.
func (h *Hub) Notify(_ context.Context, topics ...visitflow.Topic) {
	for _, topic := range topics {
		data, err := json.Marshal(Message{Event: topic})
		if err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("websocket: failed to marshal event")
			continue
		}

		h.mu.RLock()
		for client := range h.clients[topic] {
			select {
			case client.Send <- data:
			default:
				log.Warn().Str("client", client.ID).Str("topic", string(topic)).Msg("websocket: client buffer full, event dropped")
			}
		}
		h.mu.RUnlock()

		metrics.RecordNotification(string(topic), "websocket")
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a topic.
func (h *Hub) TopicCount(topic visitflow.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) subscribeLocked(client *Client, topics []visitflow.Topic) {
	for _, topic := range topics {
		if !topic.Known() {
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
}

func (h *Hub) removeLocked(client *Client, topic visitflow.Topic) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
	delete(client.topics, topic)
}
