package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/internal/events"
	"github.com/kode4food/tartan/pkg/api"
	pkgevents "github.com/kode4food/tartan/pkg/events"
	"github.com/kode4food/tartan/pkg/log"
)

type (
	// Client represents a WebSocket client connection for event streaming
	Client struct {
		conn      *websocket.Conn
		consumer  topic.Consumer[*timebox.Event]
		filter    events.EventFilter
		getState  StateFunc
		minSeq    int64
		closeOnce sync.Once
	}

	// StateFunc retrieves the current projected state of a run and the
	// ledger sequence from which its events should be streamed
	StateFunc func(context.Context, api.RunID) (*api.RunState, int64, error)
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeType  = "subscribe"
	subscribedType = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewClient upgrades an HTTP connection to a WebSocket. The client streams
// nothing until it subscribes
func NewClient(
	hub timebox.EventHub, w http.ResponseWriter, r *http.Request, st StateFunc,
) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:     conn,
		consumer: hub.NewConsumer(),
		filter:   func(*timebox.Event) bool { return false },
		getState: st,
	}, nil
}

func (s *Server) handleWebSocket(c *gin.Context) {
	client, err := NewClient(s.eventHub, c.Writer, c.Request,
		s.engine.GetRunStateSeq,
	)
	if err != nil {
		slog.Error("WebSocket upgrade failed", log.Error(err))
		return
	}

	s.registerWebSocket(client)
	go func() {
		defer s.unregisterWebSocket(client)
		client.Run()
	}()
}

// Run streams matching events to the client until the connection or the
// event hub closes
func (c *Client) Run() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

// Close releases the client's hub consumer and connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.consumer.Close()
		_ = c.conn.Close()
	})
}

func (c *Client) readMessages(incoming chan []byte) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message", log.Error(err))
		return
	}

	if sub.Type != subscribeType {
		return
	}

	c.filter = BuildFilter(&sub.Data)
	c.minSeq = 0

	if sub.Data.RunID != "" {
		c.sendSubscribeState(sub.Data.RunID)
	}
}

func (c *Client) sendSubscribeState(id api.RunID) {
	if c.getState == nil {
		return
	}

	msg := api.SubscribedResult{
		Type:  subscribedType,
		RunID: id,
	}
	st, nextSeq, err := c.getState(context.Background(), id)
	if err != nil {
		slog.Warn("Failed to get state for subscription",
			log.RunID(id),
			log.Error(err))
	} else {
		msg.State = st
		msg.Sequence = nextSeq
		c.minSeq = nextSeq
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Error("WebSocket write failed",
			slog.String("context", subscribedType),
			log.Error(err))
	}
}

func (c *Client) sendEventIfMatched(event *timebox.Event) bool {
	if event.Sequence < c.minSeq || !c.filter(event) {
		return true
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(transformEvent(event)); err != nil {
		slog.Error("WebSocket write failed", log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

// BuildFilter creates an event filter from a client subscription. Only run
// events are ever streamed; an empty RunID subscribes to every run
func BuildFilter(sub *api.ClientSubscription) events.EventFilter {
	filters := []events.EventFilter{events.FilterRuns()}
	if sub.RunID != "" {
		filters = append(filters, events.FilterRun(sub.RunID))
	}
	if len(sub.EventTypes) > 0 {
		filters = append(filters, events.FilterEvents(sub.EventTypes...))
	}
	return events.AndFilters(filters...)
}

func transformEvent(ev *timebox.Event) *api.WebSocketEvent {
	id, _ := pkgevents.RunIDOf(ev)
	return &api.WebSocketEvent{
		Type:      api.EventType(ev.Type),
		Data:      ev.Data,
		RunID:     id,
		Timestamp: ev.Timestamp.UnixMilli(),
		Sequence:  ev.Sequence,
	}
}
