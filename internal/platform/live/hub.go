// Package live pushes committed appointment events to connected staff
// dashboards over WebSockets. Clients subscribe to topics and receive every
// event published on any of them exactly once.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/events"
)

const (
	// TopicAll carries every appointment change.
	TopicAll = "appointments"

	topicUnassigned = "professional:unassigned"
	sendBuffer      = 64
)

// ProfessionalTopic names the topic for one professional's schedule. A nil id
// is the unassigned bucket.
func ProfessionalTopic(id *uuid.UUID) string {
	if id == nil {
		return topicUnassigned
	}
	return "professional:" + id.String()
}

// Message is the frame sent to subscribers.
type Message struct {
	EventID     uuid.UUID       `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Topics      []string        `json:"topics"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected subscriber.
type Client struct {
	ID     string
	send   chan []byte
	topics map[string]struct{}
}

func NewClient(topics ...string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// Send is the outbound frame channel. It is closed on Unregister.
func (c *Client) Send() <-chan []byte { return c.send }

// Hub tracks clients by topic.
type Hub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byTopic: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	for t := range c.topics {
		h.addLocked(c, t)
	}
}

// Unregister drops c from every topic and closes its send channel. Safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for t := range c.topics {
		h.removeLocked(c, t)
	}
	delete(h.all, c)
	close(c.send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
		h.addLocked(c, t)
	}
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
		h.removeLocked(c, t)
	}
}

func (h *Hub) addLocked(c *Client, topic string) {
	if h.byTopic[topic] == nil {
		h.byTopic[topic] = make(map[*Client]struct{})
	}
	h.byTopic[topic][c] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, topic string) {
	subs, ok := h.byTopic[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.byTopic, topic)
	}
}

// Process applies an inbound client message. Unknown actions are ignored.
func (h *Hub) Process(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Notify sends evt to every client subscribed to at least one of topics. Slow
// clients with a full buffer miss the frame rather than block the caller.
func (h *Hub) Notify(_ context.Context, evt events.Event, topics []string) {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", evt.Type).Msg("live: marshal payload")
		return
	}
	frame, err := json.Marshal(Message{
		EventID:     evt.ID,
		Type:        evt.Type,
		AggregateID: evt.AggregateID,
		Topics:      topics,
		Timestamp:   h.now().UTC(),
		Data:        data,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", evt.Type).Msg("live: marshal frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make(map[*Client]struct{})
	for _, t := range topics {
		for c := range h.byTopic[t] {
			targets[c] = struct{}{}
		}
	}
	dropped := 0
	for c := range targets {
		select {
		case c.send <- frame:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn().Int("dropped", dropped).Str("event_type", evt.Type).Msg("live: slow subscribers skipped")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}
