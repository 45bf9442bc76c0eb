package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rendez/signal-server/internal/core/ports"
)

const writeWait = 10 * time.Second

// Channel is the control-channel record from spec §3: the transport
// handle plus authenticated/user/machine/web-client bookkeeping. Writes
// are serialized through writeMu, grounded on the peer.send pattern
// (WriteMu sync.Mutex + write deadline before WriteJSON) — the registries'
// locks are never held across a Send.
type Channel struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	stateMu       sync.RWMutex
	authenticated bool
	userID        string
	machineID     string
	webClientID   string
	lastHeartbeat time.Time
}

var _ ports.Channel = (*Channel)(nil)

func newChannel(conn *websocket.Conn) *Channel {
	return &Channel{conn: conn, lastHeartbeat: time.Now()}
}

// Send implements ports.Channel. Per spec §7, send failures are swallowed
// by callers — Send itself only reports the error so the caller can
// decide.
func (c *Channel) Send(frame ports.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

func (c *Channel) sendClose(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(code, reason)
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *Channel) UserID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.userID
}

func (c *Channel) MachineID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.machineID
}

func (c *Channel) WebClientID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.webClientID
}

func (c *Channel) SetWebClientID(id string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.webClientID = id
}

func (c *Channel) setAuthenticated(userID string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.authenticated = true
	c.userID = userID
}

func (c *Channel) isAuthenticated() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authenticated
}

func (c *Channel) setMachineID(id string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.machineID = id
}

func (c *Channel) touchHeartbeat() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.lastHeartbeat = time.Now()
}

func (c *Channel) heartbeatAge() time.Duration {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return time.Since(c.lastHeartbeat)
}
