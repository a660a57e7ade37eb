package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/rpsarena/server/internal/server" // Reuse message types
)

// Client represents a WebSocket client for the arena
type Client struct {
	serverURL string
	conn      *websocket.Conn
	send      chan *server.Message
	receive   chan *server.Message
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(serverURL string, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		serverURL: serverURL,
		send:      make(chan *server.Message, 256),
		receive:   make(chan *server.Message, 256),
		logger:    logger.WithPrefix("client"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect establishes a WebSocket connection to the server
func (c *Client) Connect() error {
	c.logger.Info("Connecting to server", "url", c.serverURL)

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Convert http/https to ws/wss
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Info("Connected to server")
	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.Close() // Ignore close errors during shutdown
			c.connected = false
		}

		close(c.send)
		close(c.receive)

		c.logger.Info("Disconnected from server")
	})
	return nil
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Receive returns the channel of inbound server messages. The channel
// is closed on disconnect.
func (c *Client) Receive() <-chan *server.Message {
	return c.receive
}

// SendMessage sends a message to the server
func (c *Client) SendMessage(msg *server.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return fmt.Errorf("send buffer full")
	}
}

// readPump handles incoming messages from the server
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg server.Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.logger.Debug("Received message", "type", msg.Type)

		select {
		case c.receive <- &msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump handles outgoing messages to the server
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second) // Ping interval
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Ignore close errors during cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Start enters the matchmaking queue
func (c *Client) Start(displayName, externalUserID, affiliateOwnerID string) error {
	msg, err := server.NewMessage(server.MessageTypeStart, server.StartData{
		DisplayName:      displayName,
		ExternalUserID:   externalUserID,
		AffiliateOwnerID: affiliateOwnerID,
	})
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// CancelMatchmaking leaves the matchmaking queue
func (c *Client) CancelMatchmaking() error {
	msg, err := server.NewMessage(server.MessageTypeCancelMatchmaking, nil)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// MakeChoice commits a move for the current round
func (c *Client) MakeChoice(sessionID, choice string) error {
	msg, err := server.NewMessage(server.MessageTypeMakeChoice, server.MakeChoiceData{
		SessionID: sessionID,
		Choice:    choice,
	})
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// EndGame ends the current match
func (c *Client) EndGame(sessionID string) error {
	msg, err := server.NewMessage(server.MessageTypeEndGame, server.EndGameData{
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}
