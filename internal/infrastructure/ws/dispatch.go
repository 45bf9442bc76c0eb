package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendez/signal-server/internal/api/metrics"
	"github.com/rendez/signal-server/internal/core/domain"
	"github.com/rendez/signal-server/internal/core/ports"
)

// dispatch implements the table in spec §4.D. Handlers are serialized
// per channel because readLoop calls them one at a time from a single
// goroutine; they run in parallel across channels since every channel
// has its own readLoop goroutine.
func (h *Hub) dispatch(ctx context.Context, ch *Channel, frame inboundFrame) {
	metrics.MessagesReceivedTotal.WithLabelValues(frame.Type).Inc()
	start := time.Now()
	defer func() {
		metrics.MessageDispatchDuration.WithLabelValues(frame.Type).Observe(time.Since(start).Seconds())
	}()

	switch frame.Type {
	case "auth":
		h.handleAuth(ctx, ch, frame)
	case "register_user":
		h.handleRegisterUser(ctx, ch, frame)
	case "register_machine":
		h.handleRegisterMachine(ctx, ch, frame)
	case "heartbeat":
		h.handleHeartbeat(ctx, ch, frame)
	case "list_machines":
		h.handleListMachines(ctx, ch, frame)
	case "delete_machine":
		h.handleDeleteMachine(ctx, ch, frame)
	case "rename_machine":
		h.handleRenameMachine(ctx, ch, frame)
	case "connect_to_machine":
		h.handleConnectToMachine(ctx, ch, frame)
	case "connection_accepted":
		h.handleConnectionAccepted(ch, frame)
	case "connection_rejected":
		h.handleConnectionRejected(ch, frame)
	case "rtc_offer":
		h.handleRTCOffer(ch, frame)
	case "rtc_answer":
		h.handleRTCAnswer(ch, frame)
	case "rtc_ice_candidate":
		h.handleRTCICECandidate(ch, frame)
	default:
		h.sendError(ch, frame.ID, domain.ErrCodeUnknownMessage)
	}
}

func (h *Hub) sendError(ch *Channel, id, code string) {
	_ = ch.Send(ports.Frame{Type: "error", ID: id, Payload: map[string]any{"code": code}})
}

func (h *Hub) reply(ch *Channel, id, frameType string, payload any) {
	_ = ch.Send(ports.Frame{Type: frameType, ID: id, Payload: payload})
}

func (h *Hub) handleAuth(ctx context.Context, ch *Channel, frame inboundFrame) {
	var p authPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	var (
		token string
		user  *domain.User
		err   error
	)
	if p.Token != "" {
		claims, verr := h.identity.VerifyToken(p.Token)
		if verr != nil {
			h.reply(ch, frame.ID, "auth_response", map[string]any{"success": false, "error": "invalid token"})
			return
		}
		user, err = h.identity.GetByID(ctx, claims.UserID)
		token = p.Token
	} else {
		token, user, err = h.identity.Login(ctx, p.Email, p.Password)
	}

	if err != nil || user == nil {
		h.reply(ch, frame.ID, "auth_response", map[string]any{"success": false, "error": "invalid credentials"})
		return
	}

	ch.setAuthenticated(user.ID)
	h.reply(ch, frame.ID, "auth_response", map[string]any{
		"success": true,
		"token":   token,
		"user":    userView(user),
	})
}

func (h *Hub) handleRegisterUser(ctx context.Context, ch *Channel, frame inboundFrame) {
	var p registerUserPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	token, user, err := h.identity.Register(ctx, p.Email, p.Username, p.Password)
	if err != nil {
		msg := "registration failed"
		if err == domain.ErrUserExists || err == domain.ErrInvalidCredentials {
			msg = err.Error()
		}
		h.reply(ch, frame.ID, "register_user_response", map[string]any{"success": false, "error": msg})
		return
	}

	ch.setAuthenticated(user.ID)
	h.reply(ch, frame.ID, "register_user_response", map[string]any{
		"success": true,
		"token":   token,
		"user":    userView(user),
	})
}

func (h *Hub) handleRegisterMachine(ctx context.Context, ch *Channel, frame inboundFrame) {
	if !ch.isAuthenticated() {
		h.sendError(ch, frame.ID, domain.ErrCodeNotAuthenticated)
		return
	}

	var p registerMachinePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	machine, err := h.machines.Register(ctx, domain.MachineRegistration{
		UserID:   ch.UserID(),
		Name:     p.Name,
		Platform: domain.Platform(p.Platform),
		Capabilities: domain.Capabilities{
			HasGit:    p.Capabilities.HasGit,
			HasNode:   p.Capabilities.HasNode,
			HasRust:   p.Capabilities.HasRust,
			HasPython: p.Capabilities.HasPython,
		},
	})
	if err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeRegistrationFail)
		return
	}

	ch.setMachineID(machine.ID)
	h.channels.RegisterMachine(machine.ID, ch)

	h.reply(ch, frame.ID, "machine_registered", map[string]any{"machineId": machine.ID, "name": machine.Name})

	if err := h.presence.Broadcast(ctx, machine.ID, true, ch); err != nil {
		h.log.Warn().Err(err).Str("machineId", machine.ID).Msg("presence broadcast on register failed")
	} else {
		metrics.PresenceTransitionsTotal.WithLabelValues("true").Inc()
		h.publishPresence(ctx, machine.ID, true)
	}
}

func (h *Hub) handleHeartbeat(ctx context.Context, ch *Channel, frame inboundFrame) {
	ch.touchHeartbeat()
	if machineID := ch.MachineID(); machineID != "" {
		if err := h.machines.Heartbeat(ctx, machineID); err != nil {
			h.log.Warn().Err(err).Str("machineId", machineID).Msg("heartbeat persist failed")
		}
	}
	h.reply(ch, frame.ID, "heartbeat_ack", nil)
}

func (h *Hub) handleListMachines(ctx context.Context, ch *Channel, frame inboundFrame) {
	if !ch.isAuthenticated() {
		h.sendError(ch, frame.ID, domain.ErrCodeNotAuthenticated)
		return
	}

	machines, err := h.machines.ListOwned(ctx, ch.UserID())
	if err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	out := make([]map[string]any, 0, len(machines))
	for _, m := range machines {
		out = append(out, map[string]any{
			"id":           m.ID,
			"name":         m.Name,
			"platform":     m.Platform,
			"isOnline":     m.IsOnline,
			"isOwn":        m.IsOwn,
			"capabilities": m.Capabilities,
		})
	}
	h.reply(ch, frame.ID, "machines_list", map[string]any{"machines": out})
}

func (h *Hub) handleDeleteMachine(ctx context.Context, ch *Channel, frame inboundFrame) {
	if !ch.isAuthenticated() {
		h.sendError(ch, frame.ID, domain.ErrCodeNotAuthenticated)
		return
	}

	var p deleteMachinePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	ok, err := h.machines.Delete(ctx, ch.UserID(), p.MachineID)
	if err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	h.reply(ch, frame.ID, "delete_machine_response", map[string]any{"success": ok, "machineId": p.MachineID})
}

func (h *Hub) handleRenameMachine(ctx context.Context, ch *Channel, frame inboundFrame) {
	if !ch.isAuthenticated() {
		h.sendError(ch, frame.ID, domain.ErrCodeNotAuthenticated)
		return
	}

	var p renameMachinePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	ok, err := h.machines.Rename(ctx, ch.UserID(), p.MachineID, p.NewName)
	if err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	h.reply(ch, frame.ID, "rename_machine_response", map[string]any{
		"success":   ok,
		"machineId": p.MachineID,
		"name":      p.NewName,
	})
}

func (h *Hub) handleConnectToMachine(ctx context.Context, ch *Channel, frame inboundFrame) {
	if !ch.isAuthenticated() {
		h.sendError(ch, frame.ID, domain.ErrCodeNotAuthenticated)
		return
	}

	var p connectToMachinePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}

	if err := h.signaling.ConnectToMachine(ctx, ch, ch.UserID(), p.TargetMachineID); err != nil {
		h.log.Warn().Err(err).Str("targetMachineId", p.TargetMachineID).Msg("connect_to_machine failed")
	}
}

func (h *Hub) handleConnectionAccepted(ch *Channel, frame inboundFrame) {
	var p connectionDecisionPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	if err := h.signaling.ConnectionAccepted(ch, p.ConnectionID); err != nil {
		h.log.Warn().Err(err).Str("connectionId", p.ConnectionID).Msg("connection_accepted failed")
	}
}

func (h *Hub) handleConnectionRejected(ch *Channel, frame inboundFrame) {
	var p connectionDecisionPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	if ch.MachineID() == "" {
		return
	}
	if err := h.signaling.ConnectionRejected(ch, p.ConnectionID, p.Reason); err != nil {
		h.log.Warn().Err(err).Str("connectionId", p.ConnectionID).Msg("connection_rejected failed")
	}
}

func (h *Hub) handleRTCOffer(ch *Channel, frame inboundFrame) {
	var p rtcSDPPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	if err := h.signaling.RTCOffer(ch, p.ConnectionID, p.SDP); err != nil {
		h.log.Warn().Err(err).Str("connectionId", p.ConnectionID).Msg("rtc_offer failed")
	}
}

func (h *Hub) handleRTCAnswer(ch *Channel, frame inboundFrame) {
	var p rtcSDPPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	if err := h.signaling.RTCAnswer(ch, p.ConnectionID, p.SDP); err != nil {
		h.log.Warn().Err(err).Str("connectionId", p.ConnectionID).Msg("rtc_answer failed")
	} else {
		metrics.SignalingOutcomesTotal.WithLabelValues("completed").Inc()
	}
}

func (h *Hub) handleRTCICECandidate(ch *Channel, frame inboundFrame) {
	var p rtcICEPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		h.sendError(ch, frame.ID, domain.ErrCodeInvalidMessage)
		return
	}
	if err := h.signaling.RTCICECandidate(ch, p.ConnectionID, p.Candidate); err != nil {
		h.log.Warn().Err(err).Str("connectionId", p.ConnectionID).Msg("rtc_ice_candidate failed")
	}
}

func userView(u *domain.User) map[string]any {
	return map[string]any{
		"id":       u.ID,
		"email":    u.Email,
		"username": u.Username,
	}
}
