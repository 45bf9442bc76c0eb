package service

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rendez/signal-server/internal/core/ports"
)

// ChannelRegistry holds the two live-channel tables from spec §5:
// MachineChannels (machineId -> Channel) and WebChannels (webClientId ->
// Channel). Each table is independently mutex-guarded; callers never hold
// both locks at once.
type ChannelRegistry struct {
	machineMu sync.RWMutex
	machines  map[string]ports.Channel

	webMu sync.RWMutex
	web   map[string]ports.Channel

	webClientCounter atomic.Uint64
}

// NewChannelRegistry constructs an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		machines: make(map[string]ports.Channel),
		web:      make(map[string]ports.Channel),
	}
}

// RegisterMachine attaches ch as the live channel for machineID, replacing
// whatever channel (if any) was previously registered there.
func (r *ChannelRegistry) RegisterMachine(machineID string, ch ports.Channel) {
	r.machineMu.Lock()
	defer r.machineMu.Unlock()
	r.machines[machineID] = ch
}

// UnregisterMachine removes machineID's entry only if it still points at
// ch — a reconnect that raced ahead and registered a newer channel must
// not be clobbered by the old channel's disconnect cleanup.
func (r *ChannelRegistry) UnregisterMachine(machineID string, ch ports.Channel) bool {
	r.machineMu.Lock()
	defer r.machineMu.Unlock()
	if current, ok := r.machines[machineID]; ok && current == ch {
		delete(r.machines, machineID)
		return true
	}
	return false
}

// GetMachine returns the live channel for machineID, or nil if offline.
func (r *ChannelRegistry) GetMachine(machineID string) ports.Channel {
	r.machineMu.RLock()
	defer r.machineMu.RUnlock()
	return r.machines[machineID]
}

// MachineIDs returns a snapshot of currently online machine ids, used by
// presence fan-out to iterate without holding the lock during dispatch.
func (r *ChannelRegistry) MachineIDs() []string {
	r.machineMu.RLock()
	defer r.machineMu.RUnlock()
	ids := make([]string, 0, len(r.machines))
	for id := range r.machines {
		ids = append(ids, id)
	}
	return ids
}

// RegisterWeb mints a "web-client-<n>" id, attaches ch under it, and
// returns the minted id.
func (r *ChannelRegistry) RegisterWeb(ch ports.Channel) string {
	n := r.webClientCounter.Add(1)
	id := fmt.Sprintf("web-client-%d", n)

	r.webMu.Lock()
	r.web[id] = ch
	r.webMu.Unlock()

	ch.SetWebClientID(id)
	return id
}

// UnregisterWeb removes webClientID's entry only if it still points at ch.
func (r *ChannelRegistry) UnregisterWeb(webClientID string, ch ports.Channel) bool {
	r.webMu.Lock()
	defer r.webMu.Unlock()
	if current, ok := r.web[webClientID]; ok && current == ch {
		delete(r.web, webClientID)
		return true
	}
	return false
}

// GetWeb returns the live channel for webClientID, or nil if gone.
func (r *ChannelRegistry) GetWeb(webClientID string) ports.Channel {
	r.webMu.RLock()
	defer r.webMu.RUnlock()
	return r.web[webClientID]
}

// GetOriginator resolves either a machine id or a web client id to its
// live channel, whichever table holds it. Machine ids and web client ids
// never collide (the "web-client-" prefix is reserved, spec §5).
func (r *ChannelRegistry) GetOriginator(id string) ports.Channel {
	if ch := r.GetMachine(id); ch != nil {
		return ch
	}
	return r.GetWeb(id)
}
