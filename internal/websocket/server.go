package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// Message types
const (
	MessageTypeEntryUpdate  = "edst_update"
	MessageTypeEntryRemoved = "edst_removed"
	MessageTypePass         = "edst_pass"
	MessageTypeBulkRequest  = "edst_bulk_request"  // Client requests every entry in scope
	MessageTypeBulkResponse = "edst_bulk_response" // Server sends every entry in scope
	MessageTypeFilterUpdate = "filter_update"      // Client sends filter preferences
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`

	// record is the entry carried by an update, used for filtering
	record *edst.Record
	// callsign is the subject of an update or removal
	callsign string
}

// ClientFilters represents the active filters for a WebSocket client. An
// empty filter matches everything.
type ClientFilters struct {
	ARTCC     string   `json:"artcc"`
	Callsigns []string `json:"callsigns"`
}

// EntrySource answers bulk requests
type EntrySource interface {
	AllEntries(ctx context.Context) ([]*edst.Record, error)
}

// ScopeFunc reports whether a record is of interest to an ARTCC
type ScopeFunc func(artcc string, rec *edst.Record) bool

// DepartureScope matches records departing the ARTCC
func DepartureScope(artcc string, rec *edst.Record) bool {
	return rec.DepARTCC != nil && strings.EqualFold(*rec.DepARTCC, artcc)
}

// BoundaryScope matches records within rangeNM of the ARTCC boundary, the
// same rule as ARTCC queries. ARTCCs without a boundary fall back to
// DepartureScope.
func BoundaryScope(boundaries edst.BoundarySource, rangeNM float64) ScopeFunc {
	return func(artcc string, rec *edst.Record) bool {
		b, err := boundaries.Get(strings.ToLower(artcc))
		if err != nil {
			return DepartureScope(artcc, rec)
		}
		return geodesy.WithinRange(geodesy.NewPosition(rec.Position()), b, rangeNM)
	}
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	filters   *ClientFilters
}

// Server fans EDST record changes out to WebSocket clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
	done       chan struct{}

	entries EntrySource
	scope   ScopeFunc
}

// NewServer creates a new WebSocket server. scope decides ARTCC filter
// membership; nil means DepartureScope.
func NewServer(entries EntrySource, scope ScopeFunc, log *logger.Logger) *Server {
	if scope == nil {
		scope = DepartureScope
	}
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 1024),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger:  log.Named("web-socket"),
		entries: entries,
		scope:   scope,
	}
}

// Run dispatches registrations and broadcasts until ctx is done
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.closeAll()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			s.removeLocked(client)
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.RLock()
			clientsToRemove := make([]*Client, 0)
			for client := range s.clients {
				client.mu.Lock()
				closed := client.closed
				client.mu.Unlock()
				if closed {
					clientsToRemove = append(clientsToRemove, client)
					continue
				}

				if !client.Matches(message) {
					continue
				}

				select {
				case client.send <- message:
				default:
					// Channel is full, mark for removal
					clientsToRemove = append(clientsToRemove, client)
				}
			}
			s.mu.RUnlock()

			if len(clientsToRemove) > 0 {
				s.mu.Lock()
				for _, client := range clientsToRemove {
					s.removeLocked(client)
				}
				s.mu.Unlock()
			}
		}
	}
}

// removeLocked drops a client. s.mu must be held.
func (s *Server) removeLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
	}
	close(client.send)
	client.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		s.removeLocked(client)
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection upgrades an HTTP request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Handling new WebSocket connection request",
		logger.String("remote_addr", r.RemoteAddr),
		logger.String("user_agent", r.UserAgent()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan *Message, 256),
		server:    s,
		closeChan: make(chan struct{}),
	}
	if artcc := r.URL.Query().Get("artcc"); artcc != "" {
		client.filters = &ClientFilters{ARTCC: artcc}
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for every matching client. Messages are dropped
// when the queue is full so a pass never blocks on slow clients.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast queue full, dropping message",
			logger.String("message_type", message.Type))
	}
}

// PublishUpdates broadcasts one edst_update per record
func (s *Server) PublishUpdates(records []*edst.Record) {
	for _, rec := range records {
		s.Broadcast(&Message{
			Type:     MessageTypeEntryUpdate,
			Data:     map[string]any{"entry": rec},
			record:   rec,
			callsign: rec.Callsign,
		})
	}
}

// PublishRemovals broadcasts one edst_removed per callsign
func (s *Server) PublishRemovals(callsigns []string) {
	for _, cs := range callsigns {
		s.Broadcast(&Message{
			Type:     MessageTypeEntryRemoved,
			Data:     map[string]any{"callsign": cs},
			callsign: cs,
		})
	}
}

// PublishPass broadcasts the pass summary
func (s *Server) PublishPass(summary edst.PassSummary) {
	s.Broadcast(&Message{
		Type: MessageTypePass,
		Data: map[string]any{"pass": summary},
	})
}

// handleMessage processes a message received from a client
func (s *Server) handleMessage(c *Client, messageType string, data json.RawMessage) error {
	switch messageType {
	case MessageTypeFilterUpdate:
		var filters ClientFilters
		if len(data) > 0 {
			if err := json.Unmarshal(data, &filters); err != nil {
				return err
			}
		}
		c.UpdateFilters(&filters)
		return nil

	case MessageTypeBulkRequest:
		if s.entries == nil {
			return nil
		}
		records, err := s.entries.AllEntries(context.Background())
		if err != nil {
			return err
		}
		entries := make([]*edst.Record, 0, len(records))
		for _, rec := range records {
			if c.matchesRecord(rec.Callsign, rec) {
				entries = append(entries, rec)
			}
		}
		c.SendMessage(&Message{
			Type: MessageTypeBulkResponse,
			Data: map[string]any{"entries": entries},
		})
		return nil

	default:
		s.logger.Debug("Ignoring unknown message type", logger.String("type", messageType))
		return nil
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Error("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		if err := c.server.handleMessage(c, message.Type, message.Data); err != nil {
			c.server.logger.Error("Failed to handle WebSocket message",
				logger.Error(err),
				logger.String("type", message.Type))
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", logger.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}

// SendMessage sends a message to this specific client without blocking
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// UpdateFilters replaces the client's active filters
func (c *Client) UpdateFilters(filters *ClientFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
}

// GetFilters returns a copy of the client's current filters
func (c *Client) GetFilters() *ClientFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filters == nil {
		return nil
	}
	return &ClientFilters{
		ARTCC:     c.filters.ARTCC,
		Callsigns: append([]string(nil), c.filters.Callsigns...),
	}
}

// Matches reports whether a broadcast message should reach this client.
// Pass summaries always do.
func (c *Client) Matches(message *Message) bool {
	switch message.Type {
	case MessageTypeEntryUpdate, MessageTypeEntryRemoved:
		return c.matchesRecord(message.callsign, message.record)
	default:
		return true
	}
}

// matchesRecord applies the callsign filter, then the ARTCC filter. Removals
// carry no record and pass the ARTCC filter so clients can drop stale rows.
func (c *Client) matchesRecord(callsign string, rec *edst.Record) bool {
	filters := c.GetFilters()
	if filters == nil {
		return true
	}

	if len(filters.Callsigns) > 0 {
		found := false
		for _, cs := range filters.Callsigns {
			if strings.EqualFold(cs, callsign) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filters.ARTCC != "" && rec != nil {
		return c.server.scope(filters.ARTCC, rec)
	}
	return true
}
