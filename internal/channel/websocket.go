package channel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"seccopilot/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsChannel      = "websocket"
	wsWriteTimeout = 10 * time.Second
)

// WSConfig configures the WebSocket handler.
type WSConfig struct {
	Logger      *slog.Logger
	DefaultUser string // sender when no authenticated user is on the request
}

// WebSocket carries the chat protocol over a bidirectional connection. It
// is mounted by the web channel and shares its authentication.
type WebSocket struct {
	bus         domain.MessageBus
	logger      *slog.Logger
	defaultUser string
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the JSON frame exchanged with clients. Clients send
// "message"; the server answers with "status", "delta", "final", "done"
// and "error". "done" ends an answer that produced no text.
type WSMessage struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	ChatID  string        `json:"chatId,omitempty"`
	Delta   *domain.Delta `json:"delta,omitempty"`
}

func NewWebSocket(cfg WSConfig) *WebSocket {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "default"
	}
	return &WebSocket{
		logger:      cfg.Logger,
		defaultUser: cfg.DefaultUser,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*wsClient),
	}
}

// Bind registers the outbound handler on bus.
func (ws *WebSocket) Bind(bus domain.MessageBus) {
	ws.bus = bus
	bus.OnOutbound(wsChannel, ws.deliver)
}

func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ws.bus == nil {
		http.Error(w, "bus not attached", http.StatusServiceUnavailable)
		return
	}
	sender := UserFromContext(r.Context())
	if sender == "" {
		sender = ws.defaultUser
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		chatID = uuid.NewString()
	}
	client := &wsClient{conn: conn, chatID: chatID}

	clientID := chatID + "-" + uuid.NewString()[:8]
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat", chatID)
	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		watched := ws.watchedLocked(chatID)
		ws.mu.Unlock()
		_ = conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
		if !watched {
			ws.bus.Cancel(wsChannel, chatID)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var in WSMessage
		if err := json.Unmarshal(data, &in); err != nil {
			ws.logger.Warn("invalid websocket message", "err", err)
			client.send(WSMessage{Type: "error", Content: "invalid message", ChatID: chatID})
			continue
		}
		if in.Type != "message" || in.Content == "" {
			continue
		}
		ws.bus.Publish(domain.InboundMessage{
			Channel:   wsChannel,
			ChatID:    chatID,
			SenderID:  sender,
			Content:   in.Content,
			Timestamp: time.Now(),
		})
	}
}

func (ws *WebSocket) deliver(msg domain.OutboundMessage) {
	out := WSMessage{ChatID: msg.ChatID}
	switch {
	case msg.Delta != nil:
		out.Type = "delta"
		out.Delta = msg.Delta
	case msg.Error != "":
		out.Type = "error"
		out.Content = msg.Error
	case msg.Final == "":
		out.Type = "done"
	default:
		out.Type = "final"
		out.Content = msg.Final
	}

	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, c := range ws.clients {
		if c.chatID == msg.ChatID {
			c.send(out)
		}
	}
}

// watchedLocked reports whether any connected client follows chatID.
func (ws *WebSocket) watchedLocked(chatID string) bool {
	for _, c := range ws.clients {
		if c.chatID == chatID {
			return true
		}
	}
	return false
}

func (c *wsClient) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocket) closeAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, c := range ws.clients {
		_ = c.conn.Close()
		delete(ws.clients, id)
	}
}
