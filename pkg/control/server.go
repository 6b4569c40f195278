package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/playback"
	"github.com/offlinefirst/inputreplay/pkg/session"
	"github.com/offlinefirst/inputreplay/pkg/store"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 64
	maxBodyBytes  = 1 << 16
)

// Session is the controller surface the server drives.
type Session interface {
	SetRecord() error
	SetReplaySpeed(speed float64) error
	StopReplay() error
	Load(log *eventlog.Log) error
	Log() *eventlog.Log
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Notification, func())
}

// Library persists recordings. A nil Library disables the /recordings routes.
type Library interface {
	Save(ctx context.Context, name string, log *eventlog.Log) (store.Recording, error)
	List(ctx context.Context) ([]store.Recording, error)
	Load(ctx context.Context, id string) (store.Recording, *eventlog.Log, error)
}

// Options wires a Server.
type Options struct {
	Session Session
	Library Library
	Logger  *slog.Logger
	// AllowOrigin is echoed in CORS headers. Empty disables CORS and restricts
	// WebSocket upgrades to same-origin requests.
	AllowOrigin string
}

// Server exposes the session over HTTP and streams notifications to
// WebSocket clients.
type Server struct {
	session     Session
	library     Library
	logger      *slog.Logger
	allowOrigin string
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New validates options and constructs a Server.
func New(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.New("session must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		session:     opts.Session,
		library:     opts.Library,
		logger:      logger,
		allowOrigin: opts.AllowOrigin,
		clients:     make(map[*client]struct{}),
	}
	if s.allowOrigin == "*" {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s, nil
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /record", s.handleRecord)
	mux.HandleFunc("POST /replay", s.handleReplay)
	mux.HandleFunc("POST /replay/stop", s.handleStopReplay)

	if s.library != nil {
		mux.HandleFunc("GET /recordings", s.handleListRecordings)
		mux.HandleFunc("POST /recordings", s.handleSaveRecording)
		mux.HandleFunc("POST /recordings/{id}/load", s.handleLoadRecording)
	}

	if s.allowOrigin == "" {
		return mux
	}
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close disconnects every WebSocket client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statePayload(s.session.Snapshot()))
}

func (s *Server) handleRecord(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.SetRecord(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statePayload(s.session.Snapshot()))
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	speed := 0.0
	if raw := r.URL.Query().Get("speed"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeErrorPayload(w, http.StatusBadRequest, CodeInvalidRequest, "speed must be a number")
			return
		}
		speed = parsed
		if err := playback.ValidateSpeed(speed); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if err := s.session.SetReplaySpeed(speed); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statePayload(s.session.Snapshot()))
}

func (s *Server) handleStopReplay(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.StopReplay(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statePayload(s.session.Snapshot()))
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.library.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recordings == nil {
		recordings = []store.Recording{}
	}
	writeJSON(w, http.StatusOK, recordings)
}

func (s *Server) handleSaveRecording(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorPayload(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	log := s.session.Log()
	if log == nil {
		writeErrorPayload(w, http.StatusConflict, CodeBusy, "recording in progress")
		return
	}
	if log.Len() == 0 {
		s.writeError(w, session.ErrNothingToReplay)
		return
	}

	rec, err := s.library.Save(r.Context(), req.Name, log)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("recording saved", "id", rec.ID, "events", rec.EventCount)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleLoadRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, log, err := s.library.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.session.Load(log); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("recording loaded", "id", rec.ID, "events", rec.EventCount)
	writeJSON(w, http.StatusOK, rec)
}

// handleWebSocket upgrades the connection and streams notifications.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	notes, unsubscribe := s.session.Subscribe()
	if msg, err := NewMessage(TypeStateSnapshot, statePayload(s.session.Snapshot())); err == nil {
		c.enqueue(msg)
	}

	go s.forward(c, notes)
	go c.writePump()
	go s.readPump(c, unsubscribe)
}

func (s *Server) forward(c *client, notes <-chan session.Notification) {
	for n := range notes {
		msg, err := notificationMessage(n)
		if err != nil {
			s.logger.Warn("dropping notification", "type", string(n.Type), "error", err)
			continue
		}
		c.enqueue(msg)
	}
	// The controller closed the subscription.
	c.close()
}

func (s *Server) readPump(c *client, unsubscribe func()) {
	defer func() {
		unsubscribe()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxBodyBytes)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		s.handleMessage(c, raw)
	}
}

func (s *Server) handleMessage(c *client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		c.sendError(CodeInvalidRequest, "message must be a JSON envelope with a type")
		return
	}

	var err error
	switch msg.Type {
	case TypeRecord:
		err = s.session.SetRecord()
	case TypeReplay:
		var req ReplayRequest
		if len(msg.Payload) > 0 {
			if jsonErr := json.Unmarshal(msg.Payload, &req); jsonErr != nil {
				c.sendError(CodeInvalidRequest, "invalid replay payload")
				return
			}
		}
		err = s.session.SetReplaySpeed(req.Speed)
	case TypeStopReplay:
		err = s.session.StopReplay()
	default:
		c.sendError(CodeInvalidRequest, "unknown message type "+strconv.Quote(msg.Type))
		return
	}
	if err != nil {
		code, _ := classify(err)
		c.sendError(code, err.Error())
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue drops the message when the client is gone or its buffer is full.
func (c *client) enqueue(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

func (c *client) sendError(code, message string) {
	msg, err := NewMessage(TypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// classify maps domain errors to wire codes and HTTP statuses.
func classify(err error) (string, int) {
	switch {
	case err == nil:
		return "", http.StatusOK
	case errors.Is(err, session.ErrBusy):
		return CodeBusy, http.StatusConflict
	case errors.Is(err, session.ErrNothingToReplay):
		return CodeNothingToReplay, http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrCapturePermissionDenied):
		return CodePermissionDenied, http.StatusForbidden
	case errors.Is(err, session.ErrInjectionFailed):
		return CodeInjectionFailed, http.StatusInternalServerError
	case errors.Is(err, playback.ErrInvalidSpeed):
		return CodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return CodeUnavailable, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("control request failed", "error", err)
	}
	writeErrorPayload(w, status, code, err.Error())
}

func writeErrorPayload(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorPayload{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
