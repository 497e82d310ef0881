package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks websocket connections and the topics each one follows.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	topics     map[string]map[string]*Connection // topic -> connID -> conn
	connTopics map[string]map[string]string      // connID -> topic -> workspace id
}

func NewHub() *Hub {
	return &Hub{
		conns:      make(map[string]*Connection),
		topics:     make(map[string]map[string]*Connection),
		connTopics: make(map[string]map[string]string),
	}
}

// Attach registers conn and starts its write loop.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connTopics[conn.ID] = make(map[string]string)
	h.mu.Unlock()

	conn.Start()
}

// Detach forgets conn and all its subscriptions.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.connTopics[conn.ID] {
		h.unsubscribeLocked(topic, conn.ID)
	}
	delete(h.connTopics, conn.ID)
	delete(h.conns, conn.ID)
}

// Subscribe adds conn to topic. workspaceID is the workspace whose
// membership granted the subscription. Unknown connections are ignored.
func (h *Hub) Subscribe(topic, workspaceID string, conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID]; !ok {
		return false
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*Connection)
		h.topics[topic] = subs
	}
	subs[conn.ID] = conn
	h.connTopics[conn.ID][topic] = workspaceID
	return true
}

func (h *Hub) Unsubscribe(topic string, conn *Connection) {
	h.mu.Lock()
	h.unsubscribeLocked(topic, conn.ID)
	h.mu.Unlock()
}

// Subscribers returns the number of connections following topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish delivers event to local subscribers.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if _, err := h.Deliver(event); err != nil {
		return err
	}
	return nil
}

// Deliver writes event to every local subscriber of its topic and reports
// how many connections accepted it. Revoke events are applied instead and
// report the number of subscriptions dropped.
func (h *Hub) Deliver(event Event) (int, error) {
	if event.Type == TypeRevoke {
		return h.revoke(event), nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	subs := make([]*Connection, 0, len(h.topics[event.Topic]))
	for _, conn := range h.topics[event.Topic] {
		subs = append(subs, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range subs {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Close terminates every tracked connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.topics = make(map[string]map[string]*Connection)
	h.connTopics = make(map[string]map[string]string)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

// revoke drops the subscriptions event.ID holds in the workspace named by
// event.Topic and tells each connection which topics it lost.
func (h *Hub) revoke(event Event) int {
	kind, workspaceID, ok := ParseTopic(event.Topic)
	if !ok || kind != KindWorkspace || event.ID == "" {
		return 0
	}

	type subscription struct {
		conn  *Connection
		topic string
	}
	var dropped []subscription
	h.mu.Lock()
	for connID, topics := range h.connTopics {
		conn := h.conns[connID]
		if conn == nil || conn.UserID != event.ID {
			continue
		}
		for topic, scope := range topics {
			if scope == workspaceID {
				dropped = append(dropped, subscription{conn: conn, topic: topic})
			}
		}
	}
	for _, sub := range dropped {
		h.unsubscribeLocked(sub.topic, sub.conn.ID)
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		_ = sub.conn.SendEvent(Event{Type: TypeUnsubscribed, Topic: sub.topic, Reason: event.Reason})
	}
	return len(dropped)
}

func (h *Hub) unsubscribeLocked(topic, connID string) {
	subs := h.topics[topic]
	if subs != nil {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if topics, ok := h.connTopics[connID]; ok {
		delete(topics, topic)
	}
}
