package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mantonx/redseat/internal/events"
	"github.com/mantonx/redseat/internal/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Subscriber is the consumer side of the event bus
type Subscriber interface {
	Subscribe(filter events.EventFilter, handler events.EventHandler) func()
}

// ProgressMessage is one websocket frame
type ProgressMessage struct {
	Type      events.EventType       `json:"type"`
	Library   string                 `json:"library,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// ProgressHub streams processing job events to websocket clients
type ProgressHub struct {
	bus        Subscriber
	bufferSize int
	wsUpgrader websocket.Upgrader
}

// NewProgressHub creates the hub. Each client buffers up to bufferSize
// events; a slow client misses events rather than slowing the bus.
func NewProgressHub(bus Subscriber, bufferSize int) *ProgressHub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ProgressHub{
		bus:        bus,
		bufferSize: bufferSize,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

var processingEventTypes = []events.EventType{
	events.EventProcessingCreated,
	events.EventProcessingUpdated,
	events.EventProcessingPaused,
	events.EventProcessingResumed,
	events.EventProcessingRemoved,
	events.EventProcessingDone,
	events.EventProcessingFailed,
}

// HandleWebSocket handles GET /plugins/requests/processing/ws?library=
func (h *ProgressHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Failed to upgrade connection: %v", err),
		})
		return
	}
	defer conn.Close()

	library := c.Query("library")
	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())
	outbox := make(chan events.Event, h.bufferSize)

	unsubscribe := h.bus.Subscribe(events.EventFilter{Types: processingEventTypes, Library: library}, func(e events.Event) {
		select {
		case outbox <- e:
		default:
			logger.Debug("progress client too slow, dropping event", "client_id", clientID, "event_type", e.Type)
		}
	})
	defer unsubscribe()

	logger.Debug("progress client connected", "client_id", clientID, "library", library)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Debug("progress client disconnected", "client_id", clientID)
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e := <-outbox:
			if err := h.send(conn, e); err != nil {
				logger.Debug("progress client write failed", "client_id", clientID, "error", err)
				return
			}
		}
	}
}

func (h *ProgressHub) send(conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(ProgressMessage{
		Type:      e.Type,
		Library:   e.Library,
		Data:      e.Data,
		Timestamp: e.Timestamp.Unix(),
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
