// Package stream pushes vault events to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/roundvault/pkg/events"
)

// Channel names a client can subscribe to.
const (
	ChannelAll  = "all"
	vaultPrefix = "vault:"
	kindPrefix  = "kind:"
)

// VaultChannel is the channel carrying every event of one vault.
func VaultChannel(hex string) string { return vaultPrefix + strings.ToLower(hex) }

// KindChannel is the channel carrying one kind of event across vaults.
func KindChannel(k events.Kind) string { return kindPrefix + string(k) }

// Hub fans vault events out to subscribed websocket clients.
type Hub struct {
	config Config
	logger log.Logger

	upgrader websocket.Upgrader

	// Client management
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	// Subscription management
	subscriptions map[string]map[*Client]bool // channel -> clients
	subMu         sync.RWMutex

	// Stats
	sequence    uint64
	messagesOut uint64
	dropped     uint64
	clientCount int32
	nextID      uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Client is one websocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	channels map[string]bool

	mu     sync.Mutex
	closed bool
}

// Message is the frame written to clients.
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Sequence  uint64          `json:"sequence,omitempty"`
}

// SubscribeRequest is sent by clients to change their subscriptions.
type SubscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Config holds websocket hub configuration
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	StatsInterval   time.Duration
}

// DefaultConfig returns default websocket configuration
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second, // Must be less than PongTimeout
		StatsInterval:   30 * time.Second,
	}
}

// NewHub creates a hub. Call Run before publishing.
func NewHub(config Config, logger log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 100),
		unregister:    make(chan *Client, 100),
		broadcast:     make(chan Message, config.BroadcastBuffer),
		subscriptions: make(map[string]map[*Client]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Run routes messages until ctx is cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.clients[client] = true
			atomic.AddInt32(&h.clientCount, 1)
			h.logger.Debug("Client connected", "id", client.id, "total", atomic.LoadInt32(&h.clientCount))

		case client := <-h.unregister:
			h.drop(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ticker.C:
			h.logger.Debug("Stream stats",
				"clients", atomic.LoadInt32(&h.clientCount),
				"messages", atomic.LoadUint64(&h.messagesOut),
				"dropped", atomic.LoadUint64(&h.dropped))
		}
	}
}

// Stop shuts the hub down and waits for Run to return.
func (h *Hub) Stop() {
	h.logger.Info("Stopping event stream")
	h.cancel()
	h.wg.Wait()
}

// Publish implements events.Sink. It never blocks the caller; when the
// broadcast buffer is full the event is dropped and counted.
func (h *Hub) Publish(e events.Event) {
	data, err := events.Encode(e)
	if err != nil {
		h.logger.Error("Failed to encode event", "kind", e.Kind(), "error", err)
		return
	}
	msg := Message{
		Type:      "event",
		Channel:   VaultChannel(e.Source().Hex()),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  atomic.AddUint64(&h.sequence, 1),
	}
	select {
	case h.broadcast <- msg:
	default:
		atomic.AddUint64(&h.dropped, 1)
		h.logger.Warn("Event stream backlog full, dropping event", "kind", e.Kind())
	}
}

// Handler upgrades requests to websocket connections.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleWebSocket)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       fmt.Sprintf("client-%d", atomic.AddUint64(&h.nextID, 1)),
		conn:     conn,
		hub:      h,
		send:     make(chan []byte, h.config.SendBufferSize),
		channels: make(map[string]bool),
	}
	client.sendMessage(Message{Type: "welcome", Data: mustJSON(map[string]string{"id": client.id})})

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// Stats returns hub counters.
func (h *Hub) Stats() map[string]interface{} {
	h.subMu.RLock()
	numChannels := len(h.subscriptions)
	h.subMu.RUnlock()

	return map[string]interface{}{
		"clients":       atomic.LoadInt32(&h.clientCount),
		"messages_sent": atomic.LoadUint64(&h.messagesOut),
		"dropped":       atomic.LoadUint64(&h.dropped),
		"channels":      numChannels,
	}
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		h.drop(client)
	}
}

// drop must only be called from the Run goroutine.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	atomic.AddInt32(&h.clientCount, -1)
	// closed first, so a racing subscribe either lands before the sweep or
	// sees the client closed
	client.close()
	h.unsubscribeAll(client)
	h.logger.Debug("Client disconnected", "id", client.id, "total", atomic.LoadInt32(&h.clientCount))
}

// broadcastMessage delivers msg once to every client subscribed to the
// vault, the event kind, or everything.
func (h *Hub) broadcastMessage(msg Message) {
	var env struct {
		Kind events.Kind `json:"kind"`
	}
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		h.logger.Warn("Broadcast message without event kind", "channel", msg.Channel, "error", err)
	}

	targets := make(map[*Client]bool)
	h.subMu.RLock()
	for _, channel := range []string{msg.Channel, KindChannel(env.Kind), ChannelAll} {
		for client := range h.subscriptions[channel] {
			targets[client] = true
		}
	}
	h.subMu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	for client := range targets {
		if client.enqueue(data) {
			atomic.AddUint64(&h.messagesOut, 1)
			continue
		}
		h.logger.Warn("Client too slow, disconnecting", "id", client.id)
		h.drop(client)
	}
}

// subscribe reports false when client was already dropped.
func (h *Hub) subscribe(channel string, client *Client) bool {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if client.isClosed() {
		return false
	}
	if h.subscriptions[channel] == nil {
		h.subscriptions[channel] = make(map[*Client]bool)
	}
	h.subscriptions[channel][client] = true
	return true
}

func (h *Hub) unsubscribe(channel string, client *Client) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if clients, ok := h.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

func (h *Hub) unsubscribeAll(client *Client) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for channel, clients := range h.subscriptions {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

// enqueue reports false when the client is gone or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		var req SubscribeRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "id", c.id, "error", err)
			}
			return
		}
		c.handleRequest(req)
	}
}

func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleRequest(req SubscribeRequest) {
	switch req.Type {
	case "subscribe":
		for _, channel := range req.Channels {
			if !validChannel(channel) {
				c.sendError(fmt.Sprintf("Unknown channel: %s", channel))
				return
			}
		}
		for _, channel := range req.Channels {
			channel = normalize(channel)
			if !c.hub.subscribe(channel, c) {
				return
			}
			c.channels[channel] = true
		}
		c.sendMessage(Message{Type: "subscribed", Data: mustJSON(map[string][]string{"channels": c.list()})})
	case "unsubscribe":
		for _, channel := range req.Channels {
			channel = normalize(channel)
			delete(c.channels, channel)
			c.hub.unsubscribe(channel, c)
		}
		c.sendMessage(Message{Type: "unsubscribed", Data: mustJSON(map[string][]string{"channels": c.list()})})
	case "ping":
		c.sendMessage(Message{Type: "pong"})
	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", req.Type))
	}
}

// list returns the client's channels. Only the read goroutine touches
// c.channels.
func (c *Client) list() []string {
	out := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		out = append(out, channel)
	}
	return out
}

func (c *Client) sendMessage(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("Failed to marshal message", "error", err)
		return
	}
	if !c.enqueue(data) {
		c.hub.logger.Debug("Dropping reply to closed or slow client", "id", c.id)
	}
}

func (c *Client) sendError(message string) {
	c.sendMessage(Message{Type: "error", Data: mustJSON(map[string]string{"message": message})})
}

func validChannel(channel string) bool {
	switch {
	case channel == ChannelAll:
		return true
	case strings.HasPrefix(channel, vaultPrefix):
		return len(channel) > len(vaultPrefix)
	case strings.HasPrefix(channel, kindPrefix):
		return len(channel) > len(kindPrefix)
	}
	return false
}

func normalize(channel string) string {
	if strings.HasPrefix(channel, vaultPrefix) {
		return strings.ToLower(channel)
	}
	return channel
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
