package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"seccopilot/internal/agent"
	"seccopilot/internal/config"
	"seccopilot/internal/domain"
	"seccopilot/internal/memory"
	"seccopilot/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	maxBodySize        = 1 << 20 // 1MB
	requestTimeout     = 180 * time.Second
	defaultThreadLimit = 20
	webChannel         = "web"
)

var errChatBusy = errors.New("a query is already running for this chat")

type userKey struct{}

// UserFromContext returns the identifier of the authenticated web user.
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// Web serves the chat API over HTTP. Answers stream back as server-sent
// events on the request that asked the question.
type Web struct {
	host        string
	port        int
	bus         domain.MessageBus
	store       domain.ThreadStore
	cfg         *config.Config
	logger      *slog.Logger
	server      *http.Server
	version     string
	defaultUser string
	threadLimit int
	metricsPath string
	ws          *WebSocket

	authEnabled  bool
	authUser     string
	authPassHash string

	mu      sync.Mutex
	streams map[string]*chatStream
}

// chatStream receives the outbound messages of one in-flight query.
type chatStream struct {
	ch   chan domain.OutboundMessage
	done chan struct{}
}

type WebConfig struct {
	Host      string
	Port      int
	Logger    *slog.Logger
	Config    *config.Config
	Store     domain.ThreadStore // optional; thread and feedback endpoints need it
	WebSocket *WebSocket         // optional; mounted at /ws
	Version   string
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Config == nil {
		cfg.Config = config.Defaults()
	}

	w := &Web{
		host:        cfg.Host,
		port:        cfg.Port,
		store:       cfg.Store,
		cfg:         cfg.Config,
		logger:      cfg.Logger,
		version:     cfg.Version,
		defaultUser: cfg.Config.Channels.Web.DefaultUser,
		threadLimit: cfg.Config.Memory.ThreadLimit,
		ws:          cfg.WebSocket,
		streams:     make(map[string]*chatStream),
	}
	if w.defaultUser == "" {
		w.defaultUser = "default"
	}
	if w.threadLimit <= 0 {
		w.threadLimit = defaultThreadLimit
	}
	if cfg.Config.Metrics.Enabled {
		w.metricsPath = cfg.Config.Metrics.Endpoint
		if w.metricsPath == "" {
			w.metricsPath = "/metrics"
		}
	}
	if auth := cfg.Config.Channels.Web.Auth; auth.Enabled {
		w.authEnabled = true
		w.authUser = auth.Username
		w.authPassHash = auth.PasswordHash
	}
	return w
}

func (w *Web) Name() string { return webChannel }

// SetBus attaches the message bus without starting the HTTP server.
func (w *Web) SetBus(bus domain.MessageBus) {
	w.bus = bus
	bus.OnOutbound(webChannel, w.deliver)
	if w.ws != nil {
		w.ws.Bind(bus)
	}
}

// Handler returns the HTTP routes of the web channel.
func (w *Web) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(w.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Get("/status", w.handleStatus)
	if w.metricsPath != "" {
		r.Get(w.metricsPath, metrics.Collector.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(w.requireAuth)
		r.Post("/api/chat", w.handleChat)
		r.Route("/api/threads", func(r chi.Router) {
			r.Get("/", w.handleListThreads)
			r.Get("/{threadID}", w.handleGetThread)
			r.Delete("/{threadID}", w.handleDeleteThread)
		})
		r.Post("/api/feedback", w.handleFeedback)
		r.Get("/api/config", w.handleGetConfig)
		if w.ws != nil {
			r.Get("/ws", w.ws.ServeHTTP)
		}
	})
	return r
}

// Start serves HTTP until ctx is canceled.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	w.SetBus(bus)

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	w.logger.Info("web channel started", "addr", "http://"+addr, "auth", w.authEnabled, "metrics", w.metricsPath)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if w.ws != nil {
			w.ws.closeAll()
		}
		_ = w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

func (w *Web) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		w.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireAuth enforces HTTP Basic Auth when enabled and records the user
// identifier on the request context.
func (w *Web) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		user := w.defaultUser
		if w.authEnabled {
			u, pass, ok := r.BasicAuth()
			if !ok || !w.checkCredentials(u, pass) {
				rw.Header().Set("WWW-Authenticate", `Basic realm="SEC Copilot"`)
				writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			user = u
		}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// checkCredentials compares the user name and the hex SHA-256 of the
// password in constant time.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.authPassHash)) == 1
}

// deliver routes an outbound message to the request streaming its chat.
func (w *Web) deliver(msg domain.OutboundMessage) {
	w.mu.Lock()
	s, ok := w.streams[msg.ChatID]
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("no web stream for chat", "chat", msg.ChatID)
		return
	}
	select {
	case s.ch <- msg:
	case <-s.done:
	}
}

func (w *Web) openStream(chatID string) (*chatStream, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.streams[chatID]; busy {
		return nil, errChatBusy
	}
	s := &chatStream{ch: make(chan domain.OutboundMessage, 64), done: make(chan struct{})}
	w.streams[chatID] = s
	return s, nil
}

func (w *Web) closeStream(chatID string, s *chatStream) {
	w.mu.Lock()
	if cur, ok := w.streams[chatID]; ok && cur == s {
		delete(w.streams, chatID)
	}
	w.mu.Unlock()
	close(s.done)
}

type chatRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	if w.bus == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "bus not attached"})
		return
	}
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}

	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	threadID := agent.ThreadKey(webChannel, req.ChatID)
	if w.store != nil {
		th, err := w.store.GetThread(r.Context(), threadID)
		if err == nil && th.UserIdentifier != "" && th.UserIdentifier != UserFromContext(r.Context()) {
			writeJSON(rw, http.StatusNotFound, map[string]string{"error": "thread not found"})
			return
		}
	}

	stream, err := w.openStream(req.ChatID)
	if err != nil {
		writeJSON(rw, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	defer w.closeStream(req.ChatID, stream)

	// Leaving before the final frame aborts the query so nothing of it is
	// committed.
	done := false
	defer func() {
		if !done {
			w.bus.Cancel(webChannel, req.ChatID)
		}
	}()

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	_ = writeSSEJSON(rw, "chat", map[string]string{"chatId": req.ChatID, "threadId": threadID})
	flusher.Flush()

	w.bus.Publish(domain.InboundMessage{
		Channel:   webChannel,
		ChatID:    req.ChatID,
		SenderID:  UserFromContext(r.Context()),
		Content:   req.Message,
		Timestamp: time.Now(),
	})

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()
	for {
		select {
		case msg := <-stream.ch:
			if err := writeOutbound(rw, msg); err != nil {
				w.logger.Warn("write sse event failed", "chat", req.ChatID, "err", err)
				return
			}
			flusher.Flush()
			if msg.Done {
				done = true
				return
			}
		case <-timeout.C:
			_ = writeSSEJSON(rw, "error", map[string]string{"error": "request timed out"})
			flusher.Flush()
			return
		case <-r.Context().Done():
			w.logger.Info("web client disconnected", "chat", req.ChatID)
			return
		}
	}
}

func writeOutbound(w io.Writer, msg domain.OutboundMessage) error {
	switch {
	case msg.Delta != nil:
		return writeSSEJSON(w, "delta", msg.Delta)
	case msg.Error != "":
		return writeSSEJSON(w, "error", map[string]string{"error": msg.Error})
	case msg.Final == "":
		return writeSSEJSON(w, "done", struct{}{})
	default:
		return writeSSEJSON(w, "final", map[string]string{"content": msg.Final})
	}
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (w *Web) handleListThreads(rw http.ResponseWriter, r *http.Request) {
	if w.store == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
		return
	}
	limit := w.threadLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	threads, err := w.store.ListThreads(r.Context(), UserFromContext(r.Context()), limit)
	if err != nil {
		w.logger.Error("list threads failed", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "list threads failed"})
		return
	}
	if threads == nil {
		threads = []domain.Thread{}
	}
	writeJSON(rw, http.StatusOK, threads)
}

// ownThread loads a thread and hides threads of other users.
func (w *Web) ownThread(rw http.ResponseWriter, r *http.Request) (*domain.Thread, bool) {
	if w.store == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
		return nil, false
	}
	id := chi.URLParam(r, "threadID")
	th, err := w.store.GetThread(r.Context(), id)
	if errors.Is(err, memory.ErrNotFound) || (err == nil && th.UserIdentifier != UserFromContext(r.Context())) {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "thread not found"})
		return nil, false
	}
	if err != nil {
		w.logger.Error("get thread failed", "thread", id, "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "get thread failed"})
		return nil, false
	}
	return th, true
}

func (w *Web) handleGetThread(rw http.ResponseWriter, r *http.Request) {
	th, ok := w.ownThread(rw, r)
	if !ok {
		return
	}
	steps, err := w.store.ListSteps(r.Context(), th.ID)
	if err != nil {
		w.logger.Error("list steps failed", "thread", th.ID, "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "list steps failed"})
		return
	}
	if steps == nil {
		steps = []domain.Step{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"thread": th, "steps": steps})
}

func (w *Web) handleDeleteThread(rw http.ResponseWriter, r *http.Request) {
	th, ok := w.ownThread(rw, r)
	if !ok {
		return
	}
	if err := w.store.DeleteThread(r.Context(), th.ID); err != nil {
		w.logger.Error("delete thread failed", "thread", th.ID, "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "delete thread failed"})
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Web) handleFeedback(rw http.ResponseWriter, r *http.Request) {
	if w.store == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
		return
	}
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	var fb domain.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if fb.ForID == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "forId is required"})
		return
	}
	if fb.Value != 0 && fb.Value != 1 {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "value must be 0 or 1"})
		return
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	err := w.store.UpsertFeedback(r.Context(), fb)
	if errors.Is(err, memory.ErrNotFound) {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "step not found"})
		return
	}
	if err != nil {
		w.logger.Error("upsert feedback failed", "step", fb.ForID, "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "feedback failed"})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"id": fb.ID})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": w.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, config.Sanitize(w.cfg))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
