package service

import (
	"context"

	"github.com/rendez/signal-server/internal/core/ports"
)

// Presence implements component 4.F: fan-out of machine_online/offline
// transitions to the owner's other live machine channels.
//
// Known limitation, preserved as specified: the iteration source is
// MachineChannels only, so browser-only channels never observe these
// transitions even when they belong to the same owner.
type Presence struct {
	machines *MachineRegistry
	channels *ChannelRegistry
}

// NewPresence constructs a Presence broadcaster.
func NewPresence(machines *MachineRegistry, channels *ChannelRegistry) *Presence {
	return &Presence{machines: machines, channels: channels}
}

// Broadcast fetches machineID's owner and sends machine_online or
// machine_offline to every other live machine-channel owned by the same
// user. exclude, if non-nil, is skipped (the channel that triggered the
// transition).
func (p *Presence) Broadcast(ctx context.Context, machineID string, online bool, exclude ports.Channel) error {
	machine, err := p.machines.Get(ctx, machineID)
	if err != nil {
		return err
	}

	frameType := "machine_offline"
	if online {
		frameType = "machine_online"
	}
	payload := map[string]any{"machineId": machine.ID, "name": machine.Name}

	for _, id := range p.channels.MachineIDs() {
		ch := p.channels.GetMachine(id)
		if ch == nil || ch == exclude {
			continue
		}
		// The machine lookup above carries no ownership check of its own;
		// the only owner filter is this comparison of each channel's user
		// id against the machine's owner.
		if ch.UserID() != machine.UserID {
			continue
		}
		_ = ch.Send(ports.Frame{Type: frameType, Payload: payload})
	}
	return nil
}
