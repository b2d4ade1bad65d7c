// Package transport carries dispatch and result messages over one WebSocket
// per worker. Opening the socket, each result frame and the socket closing
// are reported to a Handler.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 20
)

// ErrClosed is returned once the peer closed the connection normally.
var ErrClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler receives the lifecycle of worker connections.
type Handler interface {
	Open(workerID string, c *Conn)
	Data(workerID string, r common.Result)
	Close(workerID string, err error)
}

// Conn is the tracker side of one worker connection.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func (c *Conn) Send(d common.Dispatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(common.Message{Kind: common.KindDispatch, Dispatch: &d})
}

// Close sends a normal close frame and tears the socket down.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job complete"),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Serve upgrades the request, assigns the worker an id and blocks until the
// connection ends.
func Serve(w http.ResponseWriter, r *http.Request, h Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	id := uuid.NewString()
	log := logger.With("worker", id, "remote", r.RemoteAddr)
	conn := &Conn{ws: ws, closed: make(chan struct{})}
	defer conn.Close()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go conn.pingLoop()

	h.Open(id, conn)
	err = readResults(ws, id, h, log)
	h.Close(id, err)
	return nil
}

func readResults(ws *websocket.Conn, id string, h Handler, log *slog.Logger) error {
	for {
		var m common.Message
		if err := ws.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := m.Validate(); err != nil {
			log.Warn("ignoring malformed message", "err", err)
			continue
		}
		if m.Kind != common.KindResult {
			log.Warn("ignoring unexpected message", "kind", m.Kind)
			continue
		}
		log.Debug("result received", "task", m.Result.TaskID, "records", len(m.Result.Records))
		h.Data(id, *m.Result)
	}
}
