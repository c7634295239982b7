package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"mobsim.dev/internal/protocol"
)

// Client is a node's connection to the coordinator. Writes are serialized
// with a mutex; reads happen on whatever goroutine runs ReadPump.
type Client struct {
	conn *websocket.Conn
	log  *log.Logger

	mu      sync.Mutex
	welcome protocol.WelcomeMsg
}

// Dial connects, sends HELLO and waits for WELCOME. ERROR frames during
// the handshake become the returned error.
func Dial(ctx context.Context, url string, hello protocol.HelloMsg, logger *log.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello.Type = protocol.TypeHello
	hello.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	c := &Client{conn: conn, log: logger}
	if err := c.awaitWelcome(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Printf("connected node_id=%s agents=%d tick_rate=%d", c.welcome.NodeID, len(c.welcome.Agents), c.welcome.Params.TickRateHz)
	return c, nil
}

func (c *Client) awaitWelcome() error {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return fmt.Errorf("decode WELCOME: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		if err := json.Unmarshal(msg, &c.welcome); err != nil {
			return fmt.Errorf("decode WELCOME: %w", err)
		}
		return nil
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return fmt.Errorf("decode ERROR: %w", err)
		}
		return fmt.Errorf("handshake rejected: %s %s", e.Code, e.Message)
	default:
		return fmt.Errorf("expected WELCOME, got %s", base.Type)
	}
}

// Welcome returns the handshake result. Valid after Dial.
func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// ReadPump forwards raw frames to inbox until the connection drops or ctx
// is done. The caller owns decode and dispatch.
func (c *Client) ReadPump(ctx context.Context, inbox chan<- []byte) error {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case inbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
