package ports

// Frame is the wire message envelope (spec §6): a single JSON object
// `{type, id?, payload}`. `id` correlates request/response where present.
type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Channel abstracts a live bidirectional control channel (spec §3). The
// signaling broker and presence fan-out only ever see this interface,
// never the transport implementation — the WebSocket hub is the sole
// implementer (internal/infrastructure/ws.Channel).
type Channel interface {
	// Send writes frame on this channel's serialized write path and
	// returns any write error (closed channel, write deadline, IO
	// failure); per spec §7, send failures are swallowed by callers,
	// never surfaced to peers.
	Send(frame Frame) error

	// UserID is the authenticated user id, or "" if unauthenticated.
	UserID() string

	// MachineID is the registered machine id attached to this channel,
	// or "" if this channel never registered a machine.
	MachineID() string

	// WebClientID is the transient id minted for a non-machine
	// originator, or "" until one is assigned.
	WebClientID() string

	// SetWebClientID assigns the transient id. Called by the channel
	// registry each time a channel with no machine initiates a
	// connection; each call replaces the previous id.
	SetWebClientID(id string)
}
