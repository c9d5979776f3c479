package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gio888/whisper-transcription/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to batch subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			log.Debug().Str("batch_id", client.BatchID).Msg("websocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.BatchID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.BatchID)
					}
				}
			}
			h.mu.Unlock()
			log.Debug().Str("batch_id", client.BatchID).Msg("websocket client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.BatchID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) send(batchID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("failed to marshal websocket message")
		return
	}
	h.broadcast <- &BroadcastMessage{
		BatchID: batchID,
		Message: data,
	}
}

// BroadcastBatchStatus sends the batch's current state to all subscribers.
func (h *Hub) BroadcastBatchStatus(b *model.BatchJob) {
	h.send(b.ID, BatchStatusMessage(b))
}

// BroadcastFileStart announces that one file has begun processing.
func (h *Hub) BroadcastFileStart(batchID, fileID string, index int, name string) {
	h.send(batchID, model.WSFileStart{
		Type:      model.WSTypeFileStart,
		BatchID:   batchID,
		FileID:    fileID,
		FileIndex: index,
		FileName:  name,
	})
}

// BroadcastFileProgress relays one pipeline event for a file.
func (h *Hub) BroadcastFileProgress(batchID, fileID string, ev model.ProgressEvent) {
	h.send(batchID, model.WSFileProgress{
		Type:     model.WSTypeFileProgress,
		BatchID:  batchID,
		FileID:   fileID,
		Status:   ev.Status,
		Progress: ev.Progress,
		Message:  ev.Message,
	})
}

// BroadcastFileComplete reports the terminal outcome of one file. The
// transcript body rides along when the file succeeded.
func (h *Hub) BroadcastFileComplete(batchID string, f *model.FileRecord, transcript, warning string) {
	h.send(batchID, model.WSFileComplete{
		Type:           model.WSTypeFileComplete,
		BatchID:        batchID,
		FileID:         f.ID,
		Status:         f.Status,
		Progress:       f.Progress,
		Transcript:     transcript,
		TranscriptPath: f.TranscriptPath,
		Error:          f.ErrorMessage,
		Warning:        warning,
	})
}

// BroadcastBatchComplete sends the final summary for a batch.
func (h *Hub) BroadcastBatchComplete(b *model.BatchJob) {
	h.send(b.ID, model.WSBatchComplete{
		Type:           model.WSTypeBatchComplete,
		BatchID:        b.ID,
		TotalFiles:     b.TotalFiles,
		CompletedFiles: b.CompletedFiles,
		FailedFiles:    b.FailedFiles,
	})
}

// BatchStatusMessage builds the snapshot frame sent on connect and on every
// batch state change.
func BatchStatusMessage(b *model.BatchJob) model.WSBatchStatus {
	return model.WSBatchStatus{
		Type:             model.WSTypeBatchStatus,
		BatchID:          b.ID,
		Status:           b.Status,
		TotalFiles:       b.TotalFiles,
		CompletedFiles:   b.CompletedFiles,
		FailedFiles:      b.FailedFiles,
		CurrentFileIndex: b.CurrentFileIndex,
	}
}

// HandleConnection handles a WebSocket connection. The snapshot, when
// non-nil, is delivered first so late subscribers see the batch's current
// state before any live events.
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string, snapshot []byte) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	if snapshot != nil {
		client.Send <- snapshot
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
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
				// Send ping for keep-alive
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
				log.Warn().Err(err).Str("batch_id", batchID).Msg("websocket read error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSTypePing {
			pong := model.WSMessage{Type: model.WSTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
