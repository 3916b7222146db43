package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

const (
	sendBuffer   = 1
	pingInterval = 30 * time.Second
)

// Client is one websocket subscriber of a job type
type Client struct {
	JobType model.JobType
	Send    chan []byte
}

// Hub fans job events out to the subscribers of each job type
type Hub struct {
	clients map[model.JobType]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	stopped    chan struct{}

	mu     sync.Mutex
	logger zerolog.Logger
}

// BroadcastMessage is a message for every subscriber of a job type
type BroadcastMessage struct {
	JobType model.JobType
	Message []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[model.JobType]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop. It returns when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.stopped)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobType] == nil {
				h.clients[client.JobType] = make(map[*Client]bool)
			}
			h.clients[client.JobType][client] = true
			h.mu.Unlock()
			h.logger.Debug().Str("job_type", string(client.JobType)).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug().Str("job_type", string(client.JobType)).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobType] {
				offer(client, msg.Message)
			}
			h.mu.Unlock()
		}
	}
}

// offer queues msg for client. A client that has not written its pending
// frame yet gets it replaced, so subscribers only ever see the latest state.
// The hub is the only sender once a client is registered.
func offer(client *Client, msg []byte) {
	select {
	case client.Send <- msg:
		return
	default:
	}
	select {
	case <-client.Send:
	default:
	}
	select {
	case client.Send <- msg:
	default:
	}
}

// remove drops a client and closes its channel; h.mu must be held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobType]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobType)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Subscribers returns the number of clients listening to a job type
func (h *Hub) Subscribers(jobType model.JobType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[jobType])
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// publish never blocks the job; when the queue is full the event is dropped.
func (h *Hub) publish(jobType model.JobType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal websocket message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobType: jobType, Message: data}:
	default:
		h.logger.Warn().Str("job_type", string(jobType)).Msg("websocket broadcast queue full, dropping message")
	}
}

// BroadcastProgress sends a progress update to all subscribers of a job type
func (h *Hub) BroadcastProgress(jobType model.JobType, sessionID string, running bool, p model.Progress) {
	h.publish(jobType, ProgressMessage(jobType, sessionID, running, p))
}

// BroadcastComplete sends a completion message to all subscribers of a job type
func (h *Hub) BroadcastComplete(jobType model.JobType, sessionID string, metrics model.SessionMetrics) {
	h.publish(jobType, model.WSCompleteMessage{
		Type:      model.WSMessageTypeComplete,
		JobType:   jobType,
		SessionID: sessionID,
		Status:    model.SessionStatusCompleted,
		Metrics:   metrics,
	})
}

// BroadcastError sends a failure or cancellation message to all subscribers of a job type
func (h *Hub) BroadcastError(jobType model.JobType, sessionID string, status model.SessionStatus, code, message string) {
	h.publish(jobType, model.WSErrorMessage{
		Type:      model.WSMessageTypeError,
		JobType:   jobType,
		SessionID: sessionID,
		Status:    status,
		Error:     model.WSError{Code: code, Message: message},
	})
}

// ProgressMessage builds the progress frame also used as the connect snapshot
func ProgressMessage(jobType model.JobType, sessionID string, running bool, p model.Progress) model.WSProgressMessage {
	return model.WSProgressMessage{
		Type:       model.WSMessageTypeProgress,
		JobType:    jobType,
		SessionID:  sessionID,
		IsRunning:  running,
		Percentage: p.Percentage,
		Message:    p.Message,
	}
}

// HandleConnection serves one websocket until the peer goes away. snapshot is
// written first so a late subscriber sees the current state.
func (h *Hub) HandleConnection(c *websocket.Conn, jobType model.JobType, snapshot any) {
	client := &Client{
		JobType: jobType,
		Send:    make(chan []byte, sendBuffer),
	}

	if snapshot != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			client.Send <- data
		}
	}

	h.Register(client)
	defer h.Unregister(client)

	// writes from the reader loop go through here so only the writer touches c
	direct := make(chan []byte, 4)
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case message := <-direct:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case direct <- data:
			default:
			}
		}
	}
}
