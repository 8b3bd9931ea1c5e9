// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same-host deployment; tighten when the editor moves origins.
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
	wsSendBuffer = 64
)

// wsClient is one connected socket with a buffered outbound queue.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed int32
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
}

func (c *wsClient) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.conn.Close()
	}
}

func (c *wsClient) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// sendJSON queues a frame; full queues drop the frame rather than block
// the session goroutines.
func (c *wsClient) sendJSON(v interface{}) {
	if c.isClosed() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub routes editor save events to the socket that owns the session.
// Speech sockets route through per-session closures instead, so the hub
// only tracks them for shutdown.
type Hub struct {
	mu      sync.RWMutex
	editors map[string]*wsClient // editor session id -> client
	speech  map[string]*wsClient // speech session id -> client
	log     zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		editors: make(map[string]*wsClient),
		speech:  make(map[string]*wsClient),
		log:     logger.For("ws"),
	}
}

// NotifySave implements the editor service's event sink.
func (h *Hub) NotifySave(event services.SaveEvent) {
	h.mu.RLock()
	client, exists := h.editors[event.SessionID]
	h.mu.RUnlock()

	if !exists {
		return
	}
	client.sendJSON(gin.H{"type": "save_event", "event": event})
}

func (h *Hub) registerEditor(sessionID string, client *wsClient) {
	h.mu.Lock()
	h.editors[sessionID] = client
	h.mu.Unlock()
}

func (h *Hub) unregisterEditor(sessionID string) {
	h.mu.Lock()
	delete(h.editors, sessionID)
	h.mu.Unlock()
}

func (h *Hub) registerSpeech(sessionID string, client *wsClient) {
	h.mu.Lock()
	h.speech[sessionID] = client
	h.mu.Unlock()
}

func (h *Hub) unregisterSpeech(sessionID string) {
	h.mu.Lock()
	delete(h.speech, sessionID)
	h.mu.Unlock()
}

// ConnectionCounts reports open sockets per kind.
func (h *Hub) ConnectionCounts() (editors, speech int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.editors), len(h.speech)
}

// Shutdown closes every socket.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.editors {
		client.close()
	}
	for _, client := range h.speech {
		client.close()
	}
	h.editors = make(map[string]*wsClient)
	h.speech = make(map[string]*wsClient)
}

// ---- editor socket ----

type editorInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
}

// EditorSocket upgrades the connection and runs one editor session over
// it. The session lives exactly as long as the socket.
func (h *Hub) EditorSocket(c *gin.Context, editor *services.EditorService) {
	chapterID := c.Param("chapter_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("editor socket upgrade failed")
		return
	}

	client := newWSClient(conn)
	go client.writePump()

	session, err := editor.OpenSession(chapterID)
	if err != nil {
		client.sendJSON(gin.H{"type": "error", "message": "chapter not found"})
		client.close()
		return
	}

	h.registerEditor(session.ID(), client)
	defer func() {
		h.unregisterEditor(session.ID())
		editor.CloseSession(session.ID())
		client.close()
	}()

	client.sendJSON(gin.H{"type": "session", "snapshot": session.Snapshot()})

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg editorInbound
		if err := json.Unmarshal(payload, &msg); err != nil {
			client.sendJSON(gin.H{"type": "error", "message": "malformed message"})
			continue
		}

		switch msg.Type {
		case "update":
			session.SetContent(msg.Content)
		case "save":
			// The hijacked request context is not reliable here; the
			// session applies its own save timeout.
			if _, err := session.ManualSave(context.Background()); err != nil {
				client.sendJSON(gin.H{"type": "error", "message": err.Error()})
			}
		case "autosave":
			if msg.Enabled != nil {
				session.SetAutoSave(*msg.Enabled)
			}
		case "interval":
			session.SetInterval(time.Duration(msg.Seconds) * time.Second)
			client.sendJSON(gin.H{"type": "session", "snapshot": session.Snapshot()})
		case "snapshot":
			client.sendJSON(gin.H{"type": "session", "snapshot": session.Snapshot()})
		default:
			client.sendJSON(gin.H{"type": "error", "message": "unknown message type"})
		}
	}
}

// ---- speech socket ----

type speechInbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Message string `json:"message,omitempty"`
}

// SpeechSocket runs one speech session over the connection. The browser
// owns the recognizer; the server decides starts, stops, and restarts and
// sends them back as commands.
func (h *Hub) SpeechSocket(c *gin.Context, speech *services.SpeechService) {
	continuous := c.DefaultQuery("continuous", "true") == "true"
	supported := c.DefaultQuery("supported", "true") == "true"

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("speech socket upgrade failed")
		return
	}

	client := newWSClient(conn)
	go client.writePump()

	session, err := speech.OpenSession(continuous, supported,
		func(result models.TranscriptResult) {
			client.sendJSON(gin.H{"type": "transcript", "result": result})
		},
		func(cmd string) {
			client.sendJSON(gin.H{"type": "command", "command": cmd})
		},
	)
	if err != nil {
		client.sendJSON(gin.H{"type": "error", "message": "could not open speech session"})
		client.close()
		return
	}

	h.registerSpeech(session.ID(), client)
	defer func() {
		h.unregisterSpeech(session.ID())
		speech.CloseSession(session.ID())
		client.close()
	}()

	client.sendJSON(gin.H{"type": "state", "state": session.State()})

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg speechInbound
		if err := json.Unmarshal(payload, &msg); err != nil {
			client.sendJSON(gin.H{"type": "error", "message": "malformed message"})
			continue
		}

		switch msg.Type {
		case "start":
			if err := session.Start(); err != nil {
				client.sendJSON(gin.H{"type": "error", "message": err.Error()})
			}
		case "stop":
			session.Stop()
		case "result":
			session.HandleResult(msg.Text, msg.Final)
		case "end":
			session.HandleEnd()
		case "error":
			session.HandleError(msg.Message)
		default:
			client.sendJSON(gin.H{"type": "error", "message": "unknown message type"})
		}

		client.sendJSON(gin.H{"type": "state", "state": session.State()})
	}
}
