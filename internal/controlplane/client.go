// Package controlplane is the websocket RPC link to an optional external
// coordinator: it authorizes publish attempts it can't decide on its own
// and relays kill commands back in, adapted from the teacher's
// control_connection.go/control_auth.go (ControlServerConnection,
// MakeWebsocketAuthenticationToken).
package controlplane

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/gorilla/websocket"

	"github.com/relaycore/mediacore/internal/corelog"
	"github.com/relaycore/mediacore/internal/rpcpool"
)

// KillTarget is the generalized form of the teacher's RTMPServer.GetPublisher:
// whatever owns the live publishing connections registers one so a
// STREAM-KILL RPC can reach it without this package depending on
// internal/rtmpcore or internal/elements directly.
type KillTarget interface {
	// KillPublish tears down the publisher at path (channel+key), or all
	// publishers under channel if key is "".
	KillPublish(channel, key string)
}

// publishResponse is a coordinator's verdict on one RequestPublish call.
type publishResponse struct {
	accepted bool
	streamID string
}

type pendingPublish struct {
	waiter chan publishResponse
}

// Client holds the connection to an optional external coordinator that
// gates publish attempts and can push kill commands back in, the direct
// generalization of the teacher's ControlServerConnection.
type Client struct {
	target KillTarget

	connectionURL string
	secret        string

	mu         sync.Mutex
	connection *websocket.Conn
	enabled    bool

	nextRequestID uint64
	pending       map[string]*pendingPublish

	pool *rpcpool.Pool
}

// New builds a Client that is enabled only when baseURL is non-empty and
// parses; call Start to connect. With an empty baseURL it stays disabled
// (the teacher's stand-alone-mode fallback when CONTROL_BASE_URL is unset).
// Incoming RPCs are executed on an
// rpcpool.Pool of rpcWorkers goroutines (queue capacity maxQueuedRPCs) so a
// slow STREAM-KILL handler never blocks the websocket read loop from
// draining further frames (original_source/whisperlib/net/rpc/lib/server/
// execution/rpc_execution_pool.{h,cc}).
func New(target KillTarget, baseURL, secret string, rpcWorkers, maxQueuedRPCs int) *Client {
	c := &Client{
		target:  target,
		secret:  secret,
		pending: make(map[string]*pendingPublish),
	}
	c.pool = rpcpool.New(rpcWorkers, maxQueuedRPCs, c.execute, nil)
	c.pool.Start()

	if baseURL == "" {
		return c
	}

	connectionURL, err := url.Parse(baseURL)
	if err != nil {
		corelog.Error(err)
		return c
	}
	pathURL, _ := url.Parse("/ws/control/rtmp")
	c.connectionURL = connectionURL.ResolveReference(pathURL).String()
	c.enabled = true
	return c
}

// Start connects and begins the heartbeat loop. A no-op if the client was
// built without a coordinator URL.
func (c *Client) Start(externalIP string, externalPort string, useSSL bool) {
	if !c.enabled {
		return
	}
	go c.connect(externalIP, externalPort, useSSL)
	go c.heartbeatLoop()
}

// RPCPoolStats reports the incoming-RPC worker pool's queue depth and
// occupancy, fed to internal/statshooks.
func (c *Client) RPCPoolStats() rpcpool.Stats {
	return c.pool.Stats()
}

func (c *Client) authToken() string {
	if c.secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "rtmp-control"})
	signed, err := token.SignedString([]byte(c.secret))
	if err != nil {
		corelog.Error(err)
		return ""
	}
	return signed
}

func (c *Client) connect(externalIP, externalPort string, useSSL bool) {
	c.mu.Lock()
	if c.connection != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	corelog.Info("[WS-CONTROL] Connecting to " + c.connectionURL)

	headers := http.Header{}
	if t := c.authToken(); t != "" {
		headers.Set("x-control-auth-token", t)
	}
	if externalIP != "" {
		headers.Set("x-external-ip", externalIP)
	}
	if externalPort != "" {
		headers.Set("x-custom-port", externalPort)
	}
	if useSSL {
		headers.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.connectionURL, headers)
	if err != nil {
		corelog.ErrorMessage("[WS-CONTROL] connection error: " + err.Error())
		go c.reconnect(externalIP, externalPort, useSSL)
		return
	}

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()

	go c.readLoop(conn, externalIP, externalPort, useSSL)
}

func (c *Client) reconnect(externalIP, externalPort string, useSSL bool) {
	time.Sleep(10 * time.Second)
	c.connect(externalIP, externalPort, useSSL)
}

func (c *Client) onDisconnect(err error, externalIP, externalPort string, useSSL bool) {
	c.mu.Lock()
	c.connection = nil
	c.mu.Unlock()
	corelog.Info("[WS-CONTROL] disconnected: " + err.Error())
	go c.connect(externalIP, externalPort, useSSL)
}

func (c *Client) send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connection == nil {
		return false
	}
	return c.connection.WriteMessage(websocket.TextMessage, []byte(msg.Serialize())) == nil
}

func (c *Client) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextRequestID
	c.nextRequestID++
	return id
}

func (c *Client) readLoop(conn *websocket.Conn, externalIP, externalPort string, useSSL bool) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			conn.Close() //nolint:errcheck
			c.onDisconnect(err, externalIP, externalPort, useSSL)
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close() //nolint:errcheck
			c.onDisconnect(err, externalIP, externalPort, useSSL)
			return
		}
		msg := messages.ParseRPCMessage(string(message))
		if !c.pool.Submit(msg) {
			corelog.ErrorMessage("[WS-CONTROL] RPC queue full, dropping " + msg.Method)
		}
	}
}

// execute runs one incoming RPC off the websocket read goroutine, the
// rpcpool.Executor this Client's pool drives. PUBLISH-ACCEPT/PUBLISH-DENY
// resolution and STREAM-KILL delivery don't have a meaningful response to
// send back, so execute always returns a zero-value RPCMessage; onDone is
// nil, so that result is discarded.
func (c *Client) execute(msg messages.RPCMessage) messages.RPCMessage {
	switch msg.Method {
	case "ERROR":
		corelog.ErrorMessage("[WS-CONTROL] remote error " + msg.GetParam("Error-Code") + ": " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolvePublish(msg.GetParam("Request-Id"), publishResponse{accepted: true, streamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolvePublish(msg.GetParam("Request-Id"), publishResponse{accepted: false})
	case "STREAM-KILL":
		if c.target != nil {
			key := msg.GetParam("Stream-Key")
			if key == "*" {
				key = ""
			}
			c.target.KillPublish(msg.GetParam("Stream-Channel"), key)
		}
	}
	return messages.RPCMessage{}
}

func (c *Client) resolvePublish(requestID string, resp publishResponse) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if ok {
		p.waiter <- resp
	}
}

func (c *Client) heartbeatLoop() {
	for {
		time.Sleep(20 * time.Second)
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether channel/key may publish,
// blocking the calling connection's goroutine until a PUBLISH-ACCEPT,
// PUBLISH-DENY, or a 20-second timeout resolves it, exactly the teacher's
// RequestPublish. With no coordinator configured it accepts unconditionally
// (the teacher's stand-alone-mode fallback).
func (c *Client) RequestPublish(channel, key, userIP string) (accepted bool, streamID string) {
	if !c.enabled {
		return true, ""
	}

	requestID := fmt.Sprint(c.nextID())
	req := &pendingPublish{waiter: make(chan publishResponse)}

	c.mu.Lock()
	c.pending[requestID] = req
	c.mu.Unlock()

	msg := messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestID,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	}

	if !c.send(msg) {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return false, ""
	}

	timer := time.AfterFunc(20*time.Second, func() {
		c.resolvePublish(requestID, publishResponse{accepted: false})
	})

	resp := <-req.waiter
	timer.Stop()
	return resp.accepted, resp.streamID
}

// PublishEnd notifies the coordinator a publish session ended, the
// teacher's PublishEnd.
func (c *Client) PublishEnd(channel, streamID string) bool {
	return c.send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{"Stream-Channel": channel, "Stream-ID": streamID},
	})
}
