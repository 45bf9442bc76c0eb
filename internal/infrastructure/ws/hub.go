// Package ws implements component 4.D, the control-channel hub: accepting
// upgraded WebSocket connections, parsing framed messages, authenticating,
// and dispatching into the signaling broker and machine registry.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rendez/signal-server/internal/api/metrics"
	"github.com/rendez/signal-server/internal/core/domain"
	"github.com/rendez/signal-server/internal/core/service"
)

const (
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Config holds the hub's tunables, sourced from spec §5/§6.
type Config struct {
	HeartbeatInterval time.Duration // default 30s
	HeartbeatTimeout  time.Duration // default 90s
	AllowedOrigins    []string
}

// Hub wires the four shared in-memory tables (spec §5) to the transport.
// MachineChannels and WebChannels live inside ChannelRegistry and Pending
// inside Signaling; Hub additionally tracks every open Channel
// (connected-clients) for the heartbeat sweep and graceful shutdown.
type Hub struct {
	upgrader websocket.Upgrader

	identity  *service.Identity
	machines  *service.MachineRegistry
	channels  *service.ChannelRegistry
	signaling *service.Signaling
	presence  *service.Presence

	log zerolog.Logger
	cfg Config

	clientsMu sync.Mutex
	clients   map[*Channel]struct{}

	relay    PresenceRelay
	originID string
}

// PresenceRelay is the shape internal/infrastructure/db/redis.RedisPresenceRelay
// and .NoopPresenceRelay both satisfy, kept local so this package doesn't
// need to import the redis adapter directly.
type PresenceRelay interface {
	Publish(ctx context.Context, machineID, name string, online bool, originID string) error
	Subscribe(ctx context.Context, originID string, handler func(machineID, name string, online bool)) error
}

type noopRelay struct{}

func (noopRelay) Publish(context.Context, string, string, bool, string) error { return nil }
func (noopRelay) Subscribe(ctx context.Context, _ string, _ func(string, string, bool)) error {
	<-ctx.Done()
	return nil
}

// New constructs a Hub. cfg zero-values default to 30s/90s per spec §5.
func New(
	identity *service.Identity,
	machines *service.MachineRegistry,
	channels *service.ChannelRegistry,
	signaling *service.Signaling,
	presence *service.Presence,
	cfg Config,
	log zerolog.Logger,
) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}

	h := &Hub{
		identity:  identity,
		machines:  machines,
		channels:  channels,
		signaling: signaling,
		presence:  presence,
		log:       log,
		cfg:       cfg,
		clients:   make(map[*Channel]struct{}),
		relay:     noopRelay{},
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

// SetPresenceRelay wires a cross-instance presence relay (spec's DOMAIN
// STACK Redis entry). originID distinguishes this process's own
// publications so RunPresenceRelay never re-broadcasts its own events.
// Defaults to a no-op relay when never called (single-instance mode).
func (h *Hub) SetPresenceRelay(relay PresenceRelay, originID string) {
	h.relay = relay
	h.originID = originID
}

// RunPresenceRelay blocks, forwarding transitions published by other
// server instances into this instance's local channels, until ctx is
// cancelled. Safe to run even with the default no-op relay.
func (h *Hub) RunPresenceRelay(ctx context.Context) {
	_ = h.relay.Subscribe(ctx, h.originID, func(machineID, _ string, online bool) {
		if err := h.presence.Broadcast(ctx, machineID, online, nil); err != nil {
			h.log.Warn().Err(err).Str("machineId", machineID).Msg("relayed presence broadcast failed")
		}
	})
}

// ClientCount reports the number of currently open channels, for GET
// /health's {clients:<n>}.
func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the HTTP request and runs the channel's read loop
// until it closes. Called from the echo handler at /ws; the upgrade
// itself requires no prior authentication (spec §4.D — `auth` is just
// another frame type).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	ch := newChannel(conn)
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.addClient(ch)
	defer h.removeAndCleanup(ch)

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(ch, done)

	h.readLoop(r.Context(), ch)
	return nil
}

func (h *Hub) pingLoop(ch *Channel, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ch.writeMu.Lock()
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := ch.conn.WriteMessage(websocket.PingMessage, nil)
			ch.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) addClient(ch *Channel) {
	h.clientsMu.Lock()
	h.clients[ch] = struct{}{}
	h.clientsMu.Unlock()
	metrics.ConnectedClients.Inc()
}

func (h *Hub) removeClient(ch *Channel) {
	h.clientsMu.Lock()
	_, existed := h.clients[ch]
	delete(h.clients, ch)
	h.clientsMu.Unlock()
	if existed {
		metrics.ConnectedClients.Dec()
	}
}

// readLoop reads raw text frames rather than using ReadJSON directly so a
// malformed envelope (spec §4.D/§9: "malformed frames produce an `error`
// frame ... and do not close the channel") can be answered in place
// instead of tearing the connection down — only transport-level errors
// (peer close, IO failure) end the loop.
func (h *Hub) readLoop(ctx context.Context, ch *Channel) {
	for {
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(ch, "", domain.ErrCodeInvalidMessage)
			continue
		}
		h.dispatch(ctx, ch, frame)
	}
}

// removeAndCleanup runs on channel close (spec §4.D): if the channel was
// attached to a machine, flip it offline in storage, drop it from the
// registry, and fan out the offline transition.
func (h *Hub) removeAndCleanup(ch *Channel) {
	h.removeClient(ch)
	_ = ch.conn.Close()

	machineID := ch.MachineID()
	if machineID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !h.channels.UnregisterMachine(machineID, ch) {
		// A newer channel already replaced this one; its own close will
		// run this cleanup when it disconnects.
		return
	}
	if err := h.machines.SetOnline(ctx, machineID, false); err != nil {
		h.log.Warn().Err(err).Str("machineId", machineID).Msg("set offline on disconnect failed")
	}
	if err := h.presence.Broadcast(ctx, machineID, false, ch); err != nil {
		h.log.Warn().Err(err).Str("machineId", machineID).Msg("presence broadcast on disconnect failed")
	} else {
		metrics.PresenceTransitionsTotal.WithLabelValues("false").Inc()
		h.publishPresence(ctx, machineID, false)
	}
}

// publishPresence fans a local transition out to other server instances
// sharing the same Redis deployment. Best-effort: a relay failure never
// blocks or fails the local transition it accompanies.
func (h *Hub) publishPresence(ctx context.Context, machineID string, online bool) {
	name := ""
	if m, err := h.machines.Get(ctx, machineID); err == nil && m != nil {
		name = m.Name
	}
	if err := h.relay.Publish(ctx, machineID, name, online, h.originID); err != nil {
		h.log.Warn().Err(err).Str("machineId", machineID).Msg("presence relay publish failed")
	}
}

// RunSweep blocks, running the periodic heartbeat/stale sweep (spec §4.D,
// §5) until ctx is cancelled.
func (h *Hub) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepHeartbeats()
			h.sweepStaleMachines(ctx)
			metrics.PendingConnections.Set(float64(h.signaling.PendingCount()))
		}
	}
}

func (h *Hub) sweepHeartbeats() {
	h.clientsMu.Lock()
	stale := make([]*Channel, 0)
	for ch := range h.clients {
		if ch.heartbeatAge() > h.cfg.HeartbeatTimeout {
			stale = append(stale, ch)
		}
	}
	h.clientsMu.Unlock()

	for _, ch := range stale {
		_ = ch.sendClose(websocket.CloseGoingAway, "heartbeat timeout")
		h.removeAndCleanup(ch)
		metrics.HeartbeatSweepClosedTotal.Inc()
	}
}

func (h *Hub) sweepStaleMachines(ctx context.Context) {
	ids, err := h.machines.SweepStale(ctx, h.cfg.HeartbeatTimeout)
	if err != nil {
		h.log.Warn().Err(err).Msg("sweep stale machines failed")
		return
	}
	for _, id := range ids {
		if err := h.presence.Broadcast(ctx, id, false, nil); err != nil {
			h.log.Warn().Err(err).Str("machineId", id).Msg("presence broadcast on sweep failed")
		} else {
			metrics.PresenceTransitionsTotal.WithLabelValues("false").Inc()
			h.publishPresence(ctx, id, false)
		}
	}
}

// Shutdown closes every open channel with a going-away close frame, per
// spec §5's SIGINT/SIGTERM policy.
func (h *Hub) Shutdown() {
	h.clientsMu.Lock()
	clients := make([]*Channel, 0, len(h.clients))
	for ch := range h.clients {
		clients = append(clients, ch)
	}
	h.clientsMu.Unlock()

	for _, ch := range clients {
		_ = ch.sendClose(websocket.CloseGoingAway, "server shutting down")
		_ = ch.conn.Close()
	}
}
