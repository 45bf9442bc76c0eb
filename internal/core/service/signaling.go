package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendez/signal-server/internal/api/metrics"
	"github.com/rendez/signal-server/internal/core/domain"
	"github.com/rendez/signal-server/internal/core/ports"
)

// pendingTimeout is the lifetime of a connection request left unanswered,
// per spec §3/§5.
const pendingTimeout = 30 * time.Second

// pending is one in-flight signaling session (spec §3). connectionId is
// its key in Signaling.pending. The originator channel is held strongly;
// the target is always re-resolved through the ChannelRegistry, never
// cached, per §3's "Ownership and lifetimes".
type pending struct {
	connectionID    string
	fromClientID    string // originator's stable id: machineId or web-client-<n>
	fromClientName  string
	originator      ports.Channel
	toMachineID     string
	createdAt       time.Time
	timer           *time.Timer
}

// Signaling implements component 4.E: the pending-connection table and
// its state machine. It never holds the registries' locks across a
// channel write — each Send call happens outside Signaling's own mutex.
type Signaling struct {
	machines *MachineRegistry
	channels *ChannelRegistry

	mu      sync.Mutex
	pending map[string]*pending
}

// NewSignaling constructs a Signaling broker over the given machine
// registry (for canAccess/name lookups) and channel registry (for live
// routing).
func NewSignaling(machines *MachineRegistry, channels *ChannelRegistry) *Signaling {
	return &Signaling{
		machines: machines,
		channels: channels,
		pending:  make(map[string]*pending),
	}
}

// PendingCount reports the number of in-flight signaling sessions, for
// the operational pending-connections gauge.
func (s *Signaling) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ConnectToMachine handles `connect_to_machine {targetMachineId}` from an
// authenticated channel `from`. userID is the channel's authenticated
// user id.
func (s *Signaling) ConnectToMachine(ctx context.Context, from ports.Channel, userID, targetMachineID string) error {
	ok, err := s.machines.CanAccess(ctx, userID, targetMachineID)
	if err != nil {
		return err
	}
	if !ok {
		metrics.SignalingOutcomesTotal.WithLabelValues("access_denied").Inc()
		return from.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeAccessDenied, "")})
	}

	target := s.channels.GetMachine(targetMachineID)
	if target == nil {
		return from.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeMachineOffline, "")})
	}

	fromClientID := from.MachineID()
	fromClientName := "Web Client"
	if fromClientID != "" {
		if m, err := s.machines.Get(ctx, fromClientID); err == nil && m != nil {
			fromClientName = m.Name
		}
	} else {
		fromClientID = s.channels.RegisterWeb(from)
	}

	connectionID := uuid.NewString()
	p := &pending{
		connectionID:   connectionID,
		fromClientID:   fromClientID,
		fromClientName: fromClientName,
		originator:     from,
		toMachineID:    targetMachineID,
		createdAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.pending[connectionID] = p
	s.mu.Unlock()

	p.timer = time.AfterFunc(pendingTimeout, func() { s.expire(connectionID) })

	return target.Send(ports.Frame{Type: "connection_request", Payload: map[string]any{
		"fromMachineId":   fromClientID,
		"fromMachineName": fromClientName,
		"connectionId":    connectionID,
	}})
}

// ConnectionAccepted handles `connection_accepted {connectionId}` from the
// target machine's own channel. Pending is retained to validate
// subsequent SDP/ICE.
func (s *Signaling) ConnectionAccepted(sender ports.Channel, connectionID string) error {
	p, ok := s.getPending(connectionID)
	if !ok {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeConnectionMissing, "")})
	}
	if sender.MachineID() == "" || sender.MachineID() != p.toMachineID {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeInvalidConnection, "")})
	}
	return p.originator.Send(ports.Frame{Type: "connection_accepted", Payload: map[string]any{
		"connectionId":    connectionID,
		"targetMachineId": p.toMachineID,
	}})
}

// ConnectionRejected handles `connection_rejected {connectionId, reason}`.
func (s *Signaling) ConnectionRejected(sender ports.Channel, connectionID, reason string) error {
	p, ok := s.getPending(connectionID)
	if !ok {
		return nil
	}
	if sender.MachineID() == "" || sender.MachineID() != p.toMachineID {
		return nil
	}
	s.deletePending(connectionID)
	metrics.SignalingOutcomesTotal.WithLabelValues("rejected").Inc()
	return p.originator.Send(ports.Frame{Type: "connection_rejected", Payload: map[string]any{
		"connectionId": connectionID,
		"reason":       reason,
	}})
}

// RTCOffer handles `rtc_offer {connectionId, targetMachineId, sdp}`.
func (s *Signaling) RTCOffer(sender ports.Channel, connectionID string, sdp any) error {
	p, ok := s.getPending(connectionID)
	if !ok {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeConnectionMissing, "")})
	}
	if !s.isParticipant(sender, p) {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeInvalidConnection, "")})
	}

	target := s.channels.GetMachine(p.toMachineID)
	if target == nil {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeMachineOffline, "")})
	}

	return target.Send(ports.Frame{Type: "rtc_offer", Payload: map[string]any{
		"connectionId":    connectionID,
		"targetMachineId": senderStableID(sender),
		"sdp":             sdp,
	}})
}

// RTCAnswer handles `rtc_answer {connectionId, targetMachineId, sdp}` and
// closes out the pending connection on success.
func (s *Signaling) RTCAnswer(sender ports.Channel, connectionID string, sdp any) error {
	p, ok := s.getPending(connectionID)
	if !ok {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeConnectionMissing, "")})
	}

	target := s.channels.GetOriginator(p.fromClientID)
	if target == nil && s.channels.GetMachine(p.toMachineID) == nil {
		return sender.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeMachineOffline, "")})
	}

	s.deletePending(connectionID)
	metrics.SignalingOutcomesTotal.WithLabelValues("completed").Inc()
	if domain.IsWebClientID(p.fromClientID) {
		s.channels.UnregisterWeb(p.fromClientID, p.originator)
	}

	if target == nil {
		return nil
	}
	return target.Send(ports.Frame{Type: "rtc_answer", Payload: map[string]any{
		"connectionId":    connectionID,
		"targetMachineId": p.toMachineID,
		"sdp":             sdp,
	}})
}

// RTCICECandidate handles `rtc_ice_candidate {...}`, best-effort: it never
// errors on a missing pending (candidates can trickle late).
func (s *Signaling) RTCICECandidate(sender ports.Channel, connectionID string, candidate any) error {
	p, ok := s.getPending(connectionID)
	if !ok {
		return nil
	}

	var target ports.Channel
	if sender.MachineID() != "" && sender.MachineID() == p.toMachineID {
		target = s.channels.GetOriginator(p.fromClientID)
	} else {
		target = s.channels.GetMachine(p.toMachineID)
	}
	if target == nil {
		return nil
	}

	return target.Send(ports.Frame{Type: "rtc_ice_candidate", Payload: map[string]any{
		"connectionId":    connectionID,
		"targetMachineId": senderStableID(sender),
		"candidate":       candidate,
	}})
}

// Disconnect handles a channel closing mid-handshake: per §4.E the
// pending entry is left behind to expire via the 30s timer, not eagerly
// cleaned.
func (s *Signaling) Disconnect(ch ports.Channel) {}

func (s *Signaling) getPending(connectionID string) (*pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[connectionID]
	return p, ok
}

func (s *Signaling) deletePending(connectionID string) {
	s.mu.Lock()
	p, ok := s.pending[connectionID]
	if ok {
		delete(s.pending, connectionID)
	}
	s.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
}

func (s *Signaling) expire(connectionID string) {
	p, ok := s.getPending(connectionID)
	if !ok {
		return
	}
	s.deletePending(connectionID)
	if domain.IsWebClientID(p.fromClientID) {
		s.channels.UnregisterWeb(p.fromClientID, p.originator)
	}
	metrics.SignalingOutcomesTotal.WithLabelValues("timeout").Inc()
	_ = p.originator.Send(ports.Frame{Type: "error", Payload: errorPayload(domain.ErrCodeConnectionTimeout, "")})
}

// isParticipant reports whether sender is the originator (by reference or
// by matching stable id) or the target machine.
func (s *Signaling) isParticipant(sender ports.Channel, p *pending) bool {
	if sender == p.originator {
		return true
	}
	if senderStableID(sender) == p.fromClientID {
		return true
	}
	return sender.MachineID() != "" && sender.MachineID() == p.toMachineID
}

func senderStableID(ch ports.Channel) string {
	if ch.MachineID() != "" {
		return ch.MachineID()
	}
	return ch.WebClientID()
}

func errorPayload(code, detail string) map[string]any {
	p := map[string]any{"code": code}
	if detail != "" {
		p["message"] = detail
	}
	return p
}
