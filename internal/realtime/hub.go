package realtime

import (
	"log"
	"sort"
	"sync"
)

// Hub owns the topic membership state: which connections have joined which
// topics. Join/Leave and Publish all synchronize on one RWMutex so a
// connection can never receive on a channel that has already been closed:
// Unregister closes a client's send channel only while holding the write
// lock, and Publish only sends while holding the read lock.
type Hub struct {
	mu          sync.RWMutex
	topics      map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}
	closed      bool
}

// NewHub creates an empty hub. Construct once at process start and inject
// into handlers and background tasks.
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
	}
}

// Register adds a connection to the hub with no topic memberships.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	if _, ok := h.memberships[c]; !ok {
		h.memberships[c] = make(map[string]struct{})
	}
	log.Printf("Realtime client %d connected (%d total)", c.id, len(h.memberships))
}

// Unregister removes the connection from every topic and closes its send
// channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	joined, ok := h.memberships[c]
	if !ok {
		return
	}
	for topic := range joined {
		delete(h.topics[topic], c)
		if len(h.topics[topic]) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(h.memberships, c)
	close(c.send)
	log.Printf("Realtime client %d disconnected (%d total)", c.id, len(h.memberships))
}

// Join adds the connection to a topic's member set. Idempotent; joining a
// topic twice is a no-op.
func (h *Hub) Join(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.memberships[c]
	if !ok {
		// Unregistered (or already disconnected) connections can't join.
		return
	}
	if _, ok := joined[topic]; ok {
		return
	}
	joined[topic] = struct{}{}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

// Leave removes the connection from one topic.
func (h *Hub) Leave(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.memberships[c]
	if !ok {
		return
	}
	delete(joined, topic)
	delete(h.topics[topic], c)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers the event to every connection joined to the topic at call
// time and returns the number of successful deliveries. Publishing to an
// empty topic is a no-op. A slow or broken member (full send buffer) is
// dropped rather than allowed to stall delivery to the rest.
func (h *Hub) Publish(topic string, event Event) int {
	event.Topic = topic

	h.mu.RLock()
	members := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		members = append(members, c)
	}
	// Stable delivery order keeps behavior reproducible under test.
	sort.Slice(members, func(i, j int) bool {
		return members[i].id < members[j].id
	})

	delivered := 0
	var stalled []*Client
	for _, c := range members {
		select {
		case c.send <- event:
			delivered++
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	if len(stalled) > 0 {
		h.mu.Lock()
		for _, c := range stalled {
			log.Printf("Dropping stalled realtime client %d on topic %s", c.id, topic)
			h.removeLocked(c)
		}
		h.mu.Unlock()
	}

	return delivered
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberships)
}

// TopicMembers returns how many connections are joined to a topic.
func (h *Hub) TopicMembers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topics returns the connection's current topic memberships.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.memberships[c]))
	for topic := range h.memberships[c] {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Shutdown closes every connection and rejects future registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	clients := make([]*Client, 0, len(h.memberships))
	for c := range h.memberships {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, c := range clients {
		h.removeLocked(c)
	}
	log.Printf("Realtime hub shut down, %d clients closed", len(clients))
}
