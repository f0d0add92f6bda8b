package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/ledger"
)

const (
	streamBuffer  = 64
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	readDeadline  = 2 * pingInterval
	maxClientRead = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans appended blocks out to websocket subscribers. Publish never
// blocks the appender: a subscriber whose buffer is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*subscriber]struct{}
	logger  *zap.Logger
}

type subscriber struct {
	send chan *ledger.Block
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.send) }) }

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[*subscriber]struct{}), logger: logger}
}

// Publish delivers b to every subscriber. It matches the
// ledger.WithOnAppend hook signature.
func (h *Hub) Publish(b *ledger.Block) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		select {
		case s.send <- b:
		default:
			h.logger.Warn("stream subscriber too slow, dropping", zap.Int("idx", b.Index))
			delete(h.clients, s)
			s.close()
			ledgerStreamClients.Dec()
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		delete(h.clients, s)
		s.close()
		ledgerStreamClients.Dec()
	}
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{send: make(chan *ledger.Block, streamBuffer)}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	ledgerStreamClients.Inc()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		s.close()
		ledgerStreamClients.Dec()
	}
}

// Serve handles GET /ledger/stream: upgrades to a websocket and writes each
// appended block as a JSON text message. Client messages are ignored.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("stream upgrade failed", zap.Error(err))
		return
	}
	s := h.subscribe()
	h.logger.Debug("stream subscriber connected", zap.String("client_ip", c.ClientIP()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxClientRead)
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readDeadline))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		h.unsubscribe(s)
		conn.Close()
	}()

	for {
		select {
		case b, ok := <-s.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
