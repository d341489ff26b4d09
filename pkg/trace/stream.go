// pkg/trace/stream.go
package trace

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteDeadline = 10 * time.Second
	streamReadDeadline  = 60 * time.Second
	streamPingPeriod    = 54 * time.Second
)

// StreamServer broadcasts trace events to WebSocket subscribers so external
// statistics and reporting tooling can observe the pipeline live. It is an
// http.Handler; mount it wherever the hosting process serves HTTP.
type StreamServer struct {
	upgrader websocket.Upgrader
	bus      *BusSink
	logger   *zap.Logger
	mutex    sync.Mutex
	clients  map[string]*streamClient
}

// streamClient is one connected WebSocket subscriber.
type streamClient struct {
	id         string
	connection *websocket.Conn
	send       chan []byte
}

// NewStreamServer creates a stream server fed by the given bus sink.
func NewStreamServer(bus *BusSink, logger *zap.Logger) *StreamServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	ss := &StreamServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				// Trace streaming is a diagnostics surface; origin policy is
				// the hosting process's concern.
				return true
			},
		},
		bus:     bus,
		logger:  logger.With(zap.String("component", "trace-stream")),
		clients: make(map[string]*streamClient),
	}

	go ss.broadcast()
	return ss
}

// ServeHTTP upgrades the request and streams trace events until the client
// disconnects.
func (ss *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ss.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ss.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &streamClient{
		id:         uuid.New().String(),
		connection: conn,
		send:       make(chan []byte, 256),
	}

	ss.mutex.Lock()
	ss.clients[client.id] = client
	ss.mutex.Unlock()

	ss.logger.Info("Trace stream client connected",
		zap.String("client_id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go ss.readPump(client)
	go ss.writePump(client)
}

// broadcast fans bus events out to every connected client.
func (ss *StreamServer) broadcast() {
	for event := range ss.bus.Subscribe() {
		payload, err := json.Marshal(event)
		if err != nil {
			ss.logger.Error("Failed to encode trace event", zap.Error(err))
			continue
		}

		ss.mutex.Lock()
		for _, client := range ss.clients {
			select {
			case client.send <- payload:
			default:
				// Client is slow, skip this event for it
			}
		}
		ss.mutex.Unlock()
	}
}

// readPump drains inbound frames and detects disconnects. Subscribers send
// nothing meaningful; the pump exists to run close/pong handling.
func (ss *StreamServer) readPump(client *streamClient) {
	defer ss.dropClient(client)

	client.connection.SetReadDeadline(time.Now().Add(streamReadDeadline))
	client.connection.SetPongHandler(func(string) error {
		client.connection.SetReadDeadline(time.Now().Add(streamReadDeadline))
		return nil
	})

	for {
		if _, _, err := client.connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ss.logger.Error("Trace stream read error",
					zap.Error(err),
					zap.String("client_id", client.id),
				)
			}
			return
		}
	}
}

// writePump pushes queued events and keepalive pings to the client.
func (ss *StreamServer) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		client.connection.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.connection.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
			if !ok {
				client.connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.connection.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.connection.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
			if err := client.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dropClient unregisters and closes a client.
func (ss *StreamServer) dropClient(client *streamClient) {
	ss.mutex.Lock()
	if _, ok := ss.clients[client.id]; ok {
		delete(ss.clients, client.id)
		close(client.send)
	}
	ss.mutex.Unlock()

	client.connection.Close()
	ss.logger.Info("Trace stream client disconnected", zap.String("client_id", client.id))
}
