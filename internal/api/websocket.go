package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/types"
)

// Progress message types
const (
	MessageDeviceCompleted   = "device_completed"
	MessageOperationFinished = "operation_finished"
)

// HubMessage represents a message sent over WebSocket
type HubMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	EventID   string      `json:"eventId,omitempty"`
}

// hubClient is a single WebSocket subscriber
type hubClient struct {
	id         string
	conn       *websocket.Conn
	send       chan HubMessage
	types      map[string]bool
	remoteAddr string
	closeOnce  sync.Once
}

func (c *hubClient) wants(messageType string) bool {
	return len(c.types) == 0 || c.types[messageType]
}

// ProgressHub fans bulk operation progress out to WebSocket subscribers. It
// observes per-device completions and records finished reports.
type ProgressHub struct {
	clients   map[string]*hubClient
	mutex     sync.RWMutex
	upgrader  websocket.Upgrader
	logger    *logrus.Entry
	broadcast chan HubMessage
	done      chan struct{}
	stopOnce  sync.Once

	pingInterval   time.Duration
	writeTimeout   time.Duration
	readTimeout    time.Duration
	maxMessageSize int64
	maxClients     int
}

// NewProgressHub creates a hub; Start must be called before messages flow
func NewProgressHub(logger *logrus.Logger) *ProgressHub {
	return &ProgressHub{
		clients: make(map[string]*hubClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:         logging.NewServiceLogger(logger, "websocket"),
		broadcast:      make(chan HubMessage, 256),
		done:           make(chan struct{}),
		pingInterval:   30 * time.Second,
		writeTimeout:   10 * time.Second,
		readTimeout:    60 * time.Second,
		maxMessageSize: 512,
		maxClients:     100,
	}
}

// Start runs the broadcast loop until ctx is cancelled or Stop is called
func (h *ProgressHub) Start(ctx context.Context) {
	h.logger.Info("Starting progress hub")
	go h.run(ctx)
}

// Stop closes every connection and ends the broadcast loop
func (h *ProgressHub) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Info("Stopping progress hub")
		close(h.done)

		h.mutex.Lock()
		for id, client := range h.clients {
			delete(h.clients, id)
			client.closeOnce.Do(func() { close(client.send) })
		}
		h.mutex.Unlock()
	})
}

func (h *ProgressHub) run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-h.done:
			return
		case message := <-h.broadcast:
			h.deliver(message)
		case <-ticker.C:
			h.ping()
		}
	}
}

func (h *ProgressHub) deliver(message HubMessage) {
	h.mutex.RLock()
	var blocked []*hubClient
	sent := 0
	for _, client := range h.clients {
		if !client.wants(message.Type) {
			continue
		}
		select {
		case client.send <- message:
			sent++
		default:
			blocked = append(blocked, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range blocked {
		h.logger.WithField("client_id", client.id).Warn("Client buffer full, disconnecting")
		h.remove(client)
	}

	if sent > 0 {
		h.logger.WithFields(logrus.Fields{
			"message_type": message.Type,
			"sent":         sent,
		}).Debug("Progress message broadcast")
	}
}

func (h *ProgressHub) ping() {
	h.mutex.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		deadline := time.Now().Add(h.writeTimeout)
		if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.logger.WithError(err).WithField("client_id", client.id).Warn("Failed to send ping")
			h.remove(client)
		}
	}
}

// add registers a client unless the hub is full or stopped
func (h *ProgressHub) add(client *hubClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}
	if len(h.clients) >= h.maxClients {
		return false
	}
	h.clients[client.id] = client
	return true
}

func (h *ProgressHub) remove(client *hubClient) {
	h.mutex.Lock()
	_, ok := h.clients[client.id]
	delete(h.clients, client.id)
	total := len(h.clients)
	h.mutex.Unlock()

	client.closeOnce.Do(func() { close(client.send) })
	if ok {
		h.logger.WithFields(logrus.Fields{
			"client_id":   client.id,
			"remote_addr": client.remoteAddr,
			"total":       total,
		}).Info("WebSocket client disconnected")
	}
}

// publish queues a message without blocking the caller
func (h *ProgressHub) publish(messageType string, data interface{}) {
	message := HubMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		EventID:   uuid.New().String(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("message_type", messageType).Warn("Broadcast channel full, dropping message")
	}
}

// DeviceCompleted broadcasts the summary of one finished device
func (h *ProgressHub) DeviceCompleted(op types.OperationKind, summary types.DeviceOperationSummary) {
	h.publish(MessageDeviceCompleted, ProgressEvent{Operation: op, Device: summary})
}

// Record broadcasts a compact view of a finished report
func (h *ProgressHub) Record(ctx context.Context, report *types.BulkOperationReport) error {
	h.publish(MessageOperationFinished, OperationFinishedEvent{
		ID:                report.ID,
		Operation:         report.Operation,
		Outcome:           report.Outcome(),
		Counts:            report.Counts,
		Devices:           len(report.Devices),
		AuthErrorDetected: report.AuthErrorDetected,
		NothingFound:      report.NothingFound,
		FinishedAt:        report.FinishedAt,
	})
	return nil
}

// ClientCount returns the number of connected subscribers
func (h *ProgressHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and subscribes the connection. The optional
// "types" query parameter restricts delivery to a comma separated list of
// message types.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade WebSocket connection")
		return
	}

	client := &hubClient{
		id:         uuid.New().String(),
		conn:       conn,
		send:       make(chan HubMessage, 64),
		types:      parseTypes(r.URL.Query().Get("types")),
		remoteAddr: r.RemoteAddr,
	}

	if !h.add(client) {
		h.logger.WithField("remote_addr", r.RemoteAddr).Warn("Rejecting WebSocket client")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"),
			time.Now().Add(h.writeTimeout))
		conn.Close()
		return
	}

	h.logger.WithFields(logrus.Fields{
		"client_id":   client.id,
		"remote_addr": client.remoteAddr,
	}).Info("WebSocket client connected")

	conn.SetReadLimit(h.maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go h.writePump(client)
	go h.readPump(client)
}

func (h *ProgressHub) writePump(client *hubClient) {
	defer client.conn.Close()

	for message := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := client.conn.WriteJSON(message); err != nil {
			h.logger.WithError(err).WithField("client_id", client.id).Warn("Failed to write WebSocket message")
			h.remove(client)
			return
		}
	}

	client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards client messages; it only keeps deadlines and detects close
func (h *ProgressHub) readPump(client *hubClient) {
	defer h.remove(client)

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("client_id", client.id).Debug("WebSocket read error")
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	wanted := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			wanted[t] = true
		}
	}
	return wanted
}
