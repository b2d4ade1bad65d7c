package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

// JobURL builds the connection endpoint of a job served at host.
func JobURL(host, jobID string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/jobs/" + jobID + "/connect"}
	return u.String()
}

// Client is the worker side of a connection.
type Client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func Dial(ctx context.Context, rawURL string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &Client{ws: ws}, nil
}

// Receive blocks for the next dispatch. It returns ErrClosed when the
// tracker closed the connection normally.
func (c *Client) Receive() (common.Dispatch, error) {
	for {
		var m common.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return common.Dispatch{}, ErrClosed
			}
			return common.Dispatch{}, err
		}
		if err := m.Validate(); err != nil {
			return common.Dispatch{}, err
		}
		if m.Kind == common.KindDispatch {
			return *m.Dispatch, nil
		}
	}
}

func (c *Client) SendResult(r common.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(common.Message{Kind: common.KindResult, Result: &r})
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.ws.Close()
}
