package websocket

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cardauth/internal/config"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is a middleman between one websocket connection and the hub
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id        string
	closeOnce sync.Once

	pingPeriod time.Duration
	pongWait   time.Duration

	logger *slog.Logger
}

// Upgrader upgrades HTTP connections and hands them to the hub
type Upgrader struct {
	hub      *Hub
	upgrader websocket.Upgrader
	cfg      config.WebSocketConfig
	logger   *slog.Logger
}

// NewUpgrader creates a websocket upgrader bound to the hub. The server
// only listens on loopback, so cross-origin checks are relaxed.
func NewUpgrader(hub *Hub, cfg config.WebSocketConfig, logger *slog.Logger) *Upgrader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	return &Upgrader{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cfg:    cfg,
		logger: logger.With(slog.String("component", "websocket.upgrader")),
	}
}

// ServeHTTP upgrades the request and starts the client pumps
func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	id := uuid.New().String()
	client := &Client{
		hub:        u.hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		id:         id,
		pingPeriod: u.cfg.PingPeriod,
		pongWait:   u.cfg.PongWait,
		logger:     u.logger.With(slog.String("client_id", id)),
	}

	if !u.hub.add(client) {
		u.logger.Warn("hub stopped, closing new connection",
			slog.String("client_id", id))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; the channel is push-only. It exists
// to service pongs and to notice the peer going away.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.drop(c)
		c.conn.Close()
	})
}
