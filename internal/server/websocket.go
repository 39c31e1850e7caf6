package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumina-panel/lumina/internal/eventhub"
)

const (
	wsWriteWait     = 10 * time.Second
	wsPongWait      = 60 * time.Second
	wsPingInterval  = 54 * time.Second
	wsSendBuffer    = 256
	wsBackfillLimit = eventhub.DefaultCapacity
	wsHubSubBuffer  = 256
)

// Frame is the JSON envelope pushed over /ws/status.
type Frame struct {
	Type string `json:"type"` // "status" | "log"
	Data any    `json:"data"`
}

// StatusFunc returns the current connection snapshot for new clients.
type StatusFunc func(ctx context.Context) any

// wsClient is one connected status consumer.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	sinceID uint64
}

// WSServer fans hub events out to WebSocket clients. Slow clients are
// skipped, never blocked on; they recover through /api/logs.
type WSServer struct {
	hub        *eventhub.Hub
	status     StatusFunc
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	upgrader   websocket.Upgrader
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewWSServer creates the status fanout server. The originAllowed function
// validates the Origin header on upgrade requests.
func NewWSServer(hub *eventhub.Hub, status StatusFunc, originAllowed func(string) bool) *WSServer {
	return &WSServer{
		hub:        hub,
		status:     status,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// ClientCount returns the number of connected clients.
func (s *WSServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stop shuts the fanout loop down and disconnects all clients.
func (s *WSServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Run drives registration and hub fanout. It subscribes to the event hub
// and resubscribes (with a Fetch catch-up) if the hub drops the
// subscription for falling behind.
func (s *WSServer) Run() {
	sub := s.hub.Subscribe(wsHubSubBuffer)
	lastID := s.hub.LatestID()
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	for {
		select {
		case <-s.stop:
			s.mu.Lock()
			for client := range s.clients {
				close(client.send)
				delete(s.clients, client)
			}
			s.mu.Unlock()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			s.mu.Unlock()
			s.sendBackfill(client)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()

		case ev, ok := <-sub.C():
			if !ok {
				// The hub unsubscribed us for falling behind. Catch up
				// from the ring and resubscribe.
				missed, _ := s.hub.Fetch(lastID, wsBackfillLimit)
				for _, m := range missed {
					lastID = m.ID
					s.broadcastEvent(m)
				}
				sub = s.hub.Subscribe(wsHubSubBuffer)
				continue
			}
			lastID = ev.ID
			s.broadcastEvent(ev)
		}
	}
}

func (s *WSServer) broadcastEvent(ev eventhub.Event) {
	payload, err := encodeEventFrame(ev)
	if err != nil {
		log.Printf("[Server] failed to encode event frame: %v", err)
		return
	}

	s.mu.RLock()
	for client := range s.clients {
		select {
		case client.send <- payload:
		default:
			// Client's send channel is full, skip
		}
	}
	s.mu.RUnlock()
}

// sendBackfill replays history for a newly attached client. since_id=0
// means snapshot only; anything newer than since_id is replayed from the
// ring, preceded by a fresh snapshot when a gap was detected.
func (s *WSServer) sendBackfill(client *wsClient) {
	snapshot := func() {
		if s.status == nil {
			return
		}
		payload, err := json.Marshal(Frame{Type: string(eventhub.KindStatus), Data: s.status(context.Background())})
		if err != nil {
			log.Printf("[Server] failed to encode status snapshot: %v", err)
			return
		}
		select {
		case client.send <- payload:
		default:
		}
	}

	if client.sinceID == 0 {
		snapshot()
		return
	}

	events, dropped := s.hub.Fetch(client.sinceID, wsBackfillLimit)
	if dropped {
		snapshot()
	}
	for _, ev := range events {
		payload, err := encodeEventFrame(ev)
		if err != nil {
			continue
		}
		select {
		case client.send <- payload:
		default:
			return
		}
	}
}

func encodeEventFrame(ev eventhub.Event) ([]byte, error) {
	return json.Marshal(Frame{Type: string(ev.Kind), Data: ev})
}

// HandleWebSocket handles WebSocket connection upgrades for /ws/status.
func (s *WSServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var sinceID uint64
	if raw, provided, err := parseQueryIntParam(r.URL.Query(), "since_id"); err == nil && provided {
		sinceID = uint64(raw)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		sinceID: sinceID,
	}

	select {
	case s.register <- client:
	case <-s.stop:
		conn.Close()
		return
	}

	go s.writePump(client)
	go s.readPump(client)
}

// readPump consumes client messages. The status channel is push-only, so
// inbound frames are discarded; the read loop exists to observe pongs and
// connection close.
func (s *WSServer) readPump(client *wsClient) {
	defer func() {
		select {
		case s.unregister <- client:
		case <-s.stop:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(1024)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[Server] WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump writes frames to the WebSocket connection.
func (s *WSServer) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
