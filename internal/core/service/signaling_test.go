package service

import (
	"context"
	"testing"

	"github.com/rendez/signal-server/internal/core/domain"
)

func newTestSignaling() (*Signaling, *MachineRegistry, *ChannelRegistry, *stubMachineRepo) {
	repo := newStubMachineRepo()
	machines := NewMachineRegistry(repo)
	channels := NewChannelRegistry()
	return NewSignaling(machines, channels), machines, channels, repo
}

func lastFrame(ch *fakeChannel) string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.sent) == 0 {
		return ""
	}
	return ch.sent[len(ch.sent)-1].Type
}

func TestSignaling_HappyPath(t *testing.T) {
	sig, machines, channels, _ := newTestSignaling()

	laptop, err := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})
	if err != nil {
		t.Fatalf("register machine: %v", err)
	}

	a := &fakeChannel{userID: "alice", machineID: laptop.ID}
	channels.RegisterMachine(laptop.ID, a)

	b := &fakeChannel{userID: "alice"}

	if err := sig.ConnectToMachine(context.Background(), b, "alice", laptop.ID); err != nil {
		t.Fatalf("connect_to_machine: %v", err)
	}
	if lastFrame(a) != "connection_request" {
		t.Fatalf("expected connection_request on A, got %q", lastFrame(a))
	}

	connectionID, _ := a.sent[len(a.sent)-1].Payload.(map[string]any)["connectionId"].(string)
	if connectionID == "" {
		t.Fatalf("expected a connectionId in connection_request payload")
	}

	if err := sig.ConnectionAccepted(a, connectionID); err != nil {
		t.Fatalf("connection_accepted: %v", err)
	}
	if lastFrame(b) != "connection_accepted" {
		t.Fatalf("expected connection_accepted on B, got %q", lastFrame(b))
	}

	if err := sig.RTCOffer(b, connectionID, "sdp-offer"); err != nil {
		t.Fatalf("rtc_offer: %v", err)
	}
	if lastFrame(a) != "rtc_offer" {
		t.Fatalf("expected rtc_offer on A, got %q", lastFrame(a))
	}
	offerPayload := a.sent[len(a.sent)-1].Payload.(map[string]any)
	if offerPayload["targetMachineId"] != b.WebClientID() {
		t.Fatalf("expected offer targetMachineId to be B's stable id, got %v", offerPayload["targetMachineId"])
	}

	if err := sig.RTCAnswer(a, connectionID, "sdp-answer"); err != nil {
		t.Fatalf("rtc_answer: %v", err)
	}
	if lastFrame(b) != "rtc_answer" {
		t.Fatalf("expected rtc_answer on B, got %q", lastFrame(b))
	}
	answerPayload := b.sent[len(b.sent)-1].Payload.(map[string]any)
	if answerPayload["targetMachineId"] != laptop.ID {
		t.Fatalf("expected answer targetMachineId to be the machine id, got %v", answerPayload["targetMachineId"])
	}

	if _, ok := sig.getPending(connectionID); ok {
		t.Fatalf("expected pending to be removed after rtc_answer")
	}
	if channels.GetWeb(b.WebClientID()) != nil {
		t.Fatalf("expected web-client entry removed after handshake completion")
	}
}

func TestSignaling_MachineToMachineAnswerTargetsCallee(t *testing.T) {
	sig, machines, channels, _ := newTestSignaling()

	laptop, err := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})
	if err != nil {
		t.Fatalf("register laptop: %v", err)
	}
	phone, err := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "phone", Platform: domain.PlatformLinux,
	})
	if err != nil {
		t.Fatalf("register phone: %v", err)
	}

	target := &fakeChannel{userID: "alice", machineID: laptop.ID}
	channels.RegisterMachine(laptop.ID, target)

	originator := &fakeChannel{userID: "alice", machineID: phone.ID}
	channels.RegisterMachine(phone.ID, originator)

	if err := sig.ConnectToMachine(context.Background(), originator, "alice", laptop.ID); err != nil {
		t.Fatalf("connect_to_machine: %v", err)
	}
	connectionID := target.sent[len(target.sent)-1].Payload.(map[string]any)["connectionId"].(string)

	if err := sig.ConnectionAccepted(target, connectionID); err != nil {
		t.Fatalf("connection_accepted: %v", err)
	}
	if err := sig.RTCOffer(originator, connectionID, "sdp-offer"); err != nil {
		t.Fatalf("rtc_offer: %v", err)
	}
	if err := sig.RTCAnswer(target, connectionID, "sdp-answer"); err != nil {
		t.Fatalf("rtc_answer: %v", err)
	}

	if lastFrame(originator) != "rtc_answer" {
		t.Fatalf("expected rtc_answer on originator, got %q", lastFrame(originator))
	}
	answerPayload := originator.sent[len(originator.sent)-1].Payload.(map[string]any)
	if answerPayload["targetMachineId"] != laptop.ID {
		t.Fatalf("expected answer targetMachineId to be the callee's machine id %q, got %v", laptop.ID, answerPayload["targetMachineId"])
	}
}

func TestSignaling_ConnectionAcceptedMismatchIsInvalidConnection(t *testing.T) {
	sig, machines, channels, _ := newTestSignaling()

	laptop, _ := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})
	a := &fakeChannel{userID: "alice", machineID: laptop.ID}
	channels.RegisterMachine(laptop.ID, a)

	b := &fakeChannel{userID: "alice"}
	if err := sig.ConnectToMachine(context.Background(), b, "alice", laptop.ID); err != nil {
		t.Fatalf("connect_to_machine: %v", err)
	}
	connectionID := a.sent[len(a.sent)-1].Payload.(map[string]any)["connectionId"].(string)

	other, _ := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "other", Platform: domain.PlatformLinux,
	})
	impostor := &fakeChannel{userID: "alice", machineID: other.ID}

	if err := sig.ConnectionAccepted(impostor, connectionID); err != nil {
		t.Fatalf("connection_accepted: %v", err)
	}
	if lastFrame(impostor) != "error" {
		t.Fatalf("expected error frame to the mismatched sender, got %q", lastFrame(impostor))
	}
	if impostor.sent[len(impostor.sent)-1].Payload.(map[string]any)["code"] != domain.ErrCodeInvalidConnection {
		t.Fatalf("expected INVALID_CONNECTION, got %+v", impostor.sent[len(impostor.sent)-1].Payload)
	}
	if len(b.sent) != 0 {
		t.Fatalf("expected originator to receive no frame from the mismatched accept, got %d sent", len(b.sent))
	}
}

func TestSignaling_AccessDenied(t *testing.T) {
	sig, machines, channels, _ := newTestSignaling()

	laptop, _ := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})
	a := &fakeChannel{userID: "alice", machineID: laptop.ID}
	channels.RegisterMachine(laptop.ID, a)

	bob := &fakeChannel{userID: "bob"}
	if err := sig.ConnectToMachine(context.Background(), bob, "bob", laptop.ID); err != nil {
		t.Fatalf("connect_to_machine: %v", err)
	}

	if lastFrame(bob) != "error" {
		t.Fatalf("expected error frame on denied access, got %q", lastFrame(bob))
	}
	payload := bob.sent[len(bob.sent)-1].Payload.(map[string]any)
	if payload["code"] != domain.ErrCodeAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got %v", payload["code"])
	}
	if len(a.sent) != 0 {
		t.Fatalf("expected no frame delivered to the target machine")
	}
}

func TestSignaling_MachineOffline(t *testing.T) {
	sig, machines, _, _ := newTestSignaling()

	laptop, _ := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})

	b := &fakeChannel{userID: "alice"}
	if err := sig.ConnectToMachine(context.Background(), b, "alice", laptop.ID); err != nil {
		t.Fatalf("connect_to_machine: %v", err)
	}
	if lastFrame(b) != "error" {
		t.Fatalf("expected error frame, got %q", lastFrame(b))
	}
	if b.sent[len(b.sent)-1].Payload.(map[string]any)["code"] != domain.ErrCodeMachineOffline {
		t.Fatalf("expected MACHINE_OFFLINE")
	}
}

func TestSignaling_Timeout(t *testing.T) {
	sig, machines, channels, _ := newTestSignaling()

	laptop, _ := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})
	a := &fakeChannel{userID: "alice", machineID: laptop.ID}
	channels.RegisterMachine(laptop.ID, a)

	b := &fakeChannel{userID: "alice"}
	if err := sig.ConnectToMachine(context.Background(), b, "alice", laptop.ID); err != nil {
		t.Fatalf("connect_to_machine: %v", err)
	}

	s := sig
	s.mu.Lock()
	var connectionID string
	for id := range s.pending {
		connectionID = id
	}
	p := s.pending[connectionID]
	s.mu.Unlock()

	// Fire the timeout path directly rather than sleeping 30s in a test.
	p.timer.Stop()
	s.expire(connectionID)

	if lastFrame(b) != "error" {
		t.Fatalf("expected timeout error frame, got %q", lastFrame(b))
	}
	if b.sent[len(b.sent)-1].Payload.(map[string]any)["code"] != domain.ErrCodeConnectionTimeout {
		t.Fatalf("expected CONNECTION_TIMEOUT")
	}
	if _, ok := s.getPending(connectionID); ok {
		t.Fatalf("expected pending removed after timeout")
	}
	if channels.GetWeb(b.WebClientID()) != nil {
		t.Fatalf("expected web-client entry removed after timeout")
	}
}

func TestSignaling_RejectDeletesPending(t *testing.T) {
	sig, machines, channels, _ := newTestSignaling()

	laptop, _ := machines.Register(context.Background(), domain.MachineRegistration{
		UserID: "alice", Name: "laptop", Platform: domain.PlatformLinux,
	})
	a := &fakeChannel{userID: "alice", machineID: laptop.ID}
	channels.RegisterMachine(laptop.ID, a)

	b := &fakeChannel{userID: "alice"}
	_ = sig.ConnectToMachine(context.Background(), b, "alice", laptop.ID)

	connectionID := a.sent[len(a.sent)-1].Payload.(map[string]any)["connectionId"].(string)

	if err := sig.ConnectionRejected(a, connectionID, "busy"); err != nil {
		t.Fatalf("connection_rejected: %v", err)
	}
	if lastFrame(b) != "connection_rejected" {
		t.Fatalf("expected connection_rejected, got %q", lastFrame(b))
	}
	if _, ok := sig.getPending(connectionID); ok {
		t.Fatalf("expected pending removed after reject")
	}
}
