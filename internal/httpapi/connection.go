package httpapi

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/subgraphd/indexnode/internal/subscription"
)

// graphql-ws message types (subscriptions-transport-ws protocol).
const (
	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgStart           = "start"
	msgStop            = "stop"
	msgData            = "data"
	msgError           = "error"
	msgComplete        = "complete"
	msgConnectionError = "connection_error"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// connection manages one graphql-ws session: the client may multiplex any
// number of concurrent subscriptions (distinguished by message ID) over one
// socket, so writes are serialized and each "start" gets its own cancelable
// pump goroutine stopped by a matching "stop" or socket close.
type connection struct {
	conn       *websocket.Conn
	server     *Server
	deployment string

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func newConnection(conn *websocket.Conn, server *Server, deployment string) *connection {
	return &connection{
		conn:       conn,
		server:     server,
		deployment: deployment,
		subs:       make(map[string]context.CancelFunc),
	}
}

func (c *connection) serve(ctx context.Context) {
	defer c.conn.Close()
	defer c.stopAll()

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			c.write(wsMessage{Type: msgConnectionAck})
		case msgStart:
			c.handleStart(ctx, msg)
		case msgStop:
			c.stop(msg.ID)
		default:
			// Unknown message types are ignored rather than closing the
			// connection, matching the protocol's tolerance for forward
			// compatibility.
		}
	}
}

func (c *connection) handleStart(ctx context.Context, msg wsMessage) {
	doc, err := c.server.resolve(ctx, c.deployment, msg.Payload)
	if err != nil {
		c.write(wsMessage{ID: msg.ID, Type: msgError, Payload: errorPayload(err)})
		return
	}

	field, err := subscription.ResolveField(doc)
	if err != nil {
		c.write(wsMessage{ID: msg.ID, Type: msgError, Payload: errorPayload(err)})
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if existing, ok := c.subs[msg.ID]; ok {
		existing()
	}
	c.subs[msg.ID] = cancel
	c.mu.Unlock()

	responses, unsubscribe, err := c.server.engine.Subscribe(subCtx, c.deployment, field)
	if err != nil {
		cancel()
		c.write(wsMessage{ID: msg.ID, Type: msgError, Payload: errorPayload(err)})
		return
	}

	go func() {
		defer unsubscribe()
		for resp := range responses {
			if resp.Err != nil {
				c.write(wsMessage{ID: msg.ID, Type: msgError, Payload: errorPayload(resp.Err)})
				continue
			}
			payload, err := json.Marshal(resp.Result)
			if err != nil {
				c.write(wsMessage{ID: msg.ID, Type: msgError, Payload: errorPayload(err)})
				continue
			}
			c.write(wsMessage{ID: msg.ID, Type: msgData, Payload: payload})
		}
		c.write(wsMessage{ID: msg.ID, Type: msgComplete})
	}()
}

func (c *connection) stop(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *connection) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.subs {
		cancel()
		delete(c.subs, id)
	}
}

func (c *connection) write(msg wsMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteJSON(msg)
}

func errorPayload(err error) json.RawMessage {
	raw, marshalErr := json.Marshal(map[string]string{"message": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"message":"internal error"}`)
	}
	return raw
}
