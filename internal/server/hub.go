package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/gyeh/chartcoder/internal/pkg/logger"
	"github.com/gyeh/chartcoder/internal/workflow"
)

// Hub fans workspace snapshots and notices out to websocket clients. It
// implements workflow.Notifier.
type Hub struct {
	clients map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	// guards the client count read by ClientCount
	mu sync.RWMutex

	logger logger.ILogger
}

var _ workflow.Notifier = (*Hub)(nil)

func NewHub(log logger.ILogger) *Hub {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		logger:     log,
	}
}

type event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func encodeEvent(kind string, data interface{}) []byte {
	b, _ := json.Marshal(event{Type: kind, Data: data})
	return b
}

// Notify queues a notice for every client. Notices are dropped when the
// queue is full.
func (h *Hub) Notify(n workflow.Notice) {
	select {
	case h.broadcast <- encodeEvent("notice", n):
	default:
		h.logger.Warn("Hub", "broadcast queue full, dropping notice", map[string]interface{}{"operation": string(n.Operation)})
	}
}

// Run owns the client set until ctx ends. Every snapshot received is
// forwarded to all clients.
func (h *Hub) Run(ctx context.Context, snapshots <-chan workflow.Snapshot) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"client_id": client.ID})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"client_id": client.ID})
			}
			h.mu.Unlock()

		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			h.send(encodeEvent("snapshot", snapshotView(snap)))

		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

// send delivers msg to every client; clients whose buffer is full are
// disconnected.
func (h *Hub) send(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.Send <- msg:
		default:
			h.logger.Warn("Hub", "Client Send buffer full, disconnecting", map[string]interface{}{"client_id": id})
			delete(h.clients, id)
			close(client.Send)
		}
	}
}

// ClientCount is the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
