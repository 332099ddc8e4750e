package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/services/tracker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendBuf  = 32
	maxFrameLength = 512
)

// liveMessage is the frame pushed to dashboard subscribers for each hit.
type liveMessage struct {
	SiteID    string    `json:"site_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	Browser   string    `json:"browser,omitempty"`
	OS        string    `json:"os,omitempty"`
	Device    string    `json:"device,omitempty"`
	Country   string    `json:"country,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans tracker hits out to websocket subscribers, one set per site. It
// implements tracker.Broadcaster.
type Hub struct {
	mu       sync.RWMutex
	sites    map[string]map[*client]bool
	upgrader websocket.Upgrader
	log      *logging.Logger
}

type client struct {
	conn *websocket.Conn
	send chan liveMessage
}

// NewHub returns an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewDefault("live")
	}
	return &Hub{
		sites: make(map[string]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin enforcement happens in the CORS layer; the socket is
			// already authenticated by token
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// BroadcastHit pushes a recorded hit to every subscriber of its site. Slow
// subscribers are dropped rather than blocking the ingest path.
func (h *Hub) BroadcastHit(siteID string, result tracker.Result) {
	msg := liveMessage{
		SiteID:    siteID,
		Kind:      "pageview",
		Browser:   result.Visitor.Browser,
		OS:        result.Visitor.OS,
		Device:    result.Visitor.DeviceType,
		Country:   result.Visitor.Country,
		Timestamp: time.Now().UTC(),
	}
	if result.PageView != nil {
		msg.Path = result.PageView.Path
	}
	if result.Event != nil {
		msg.Kind = "event"
		msg.EventType = result.Event.Type
	}

	h.mu.RLock()
	subscribers := h.sites[siteID]
	var stale []*client
	for c := range subscribers {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.unsubscribe(siteID, c)
	}
}

// SubscriberCount reports the open connections for a site.
func (h *Hub) SubscriberCount(siteID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sites[siteID])
}

// ServeWS upgrades the connection and streams hits for the site until the
// peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, siteID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan liveMessage, clientSendBuf)}
	h.subscribe(siteID, c)

	go h.writeLoop(siteID, c)
	h.readLoop(siteID, c)
}

func (h *Hub) subscribe(siteID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sites[siteID] == nil {
		h.sites[siteID] = make(map[*client]bool)
	}
	h.sites[siteID][c] = true
}

func (h *Hub) unsubscribe(siteID string, c *client) {
	h.mu.Lock()
	if subscribers, ok := h.sites[siteID]; ok && subscribers[c] {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.sites, siteID)
		}
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// readLoop drains inbound frames so control messages are processed. The feed
// is one-directional, anything the peer sends is discarded.
func (h *Hub) readLoop(siteID string, c *client) {
	defer h.unsubscribe(siteID, c)

	c.conn.SetReadLimit(maxFrameLength)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(siteID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unsubscribe(siteID, c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
