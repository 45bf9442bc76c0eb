package ws

import "encoding/json"

// inboundFrame mirrors the wire format (spec §6): a single JSON object
// `{type, id?, payload}`. Payload is decoded lazily into a typed struct
// once the frame's type selects a handler.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authPayload struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerUserPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerMachinePayload struct {
	Name         string           `json:"name"`
	Platform     string           `json:"platform"`
	Capabilities capabilitiesWire `json:"capabilities"`
}

type capabilitiesWire struct {
	HasGit    bool `json:"hasGit"`
	HasNode   bool `json:"hasNode"`
	HasRust   bool `json:"hasRust"`
	HasPython bool `json:"hasPython"`
}

type deleteMachinePayload struct {
	MachineID string `json:"machineId"`
}

type renameMachinePayload struct {
	MachineID string `json:"machineId"`
	NewName   string `json:"newName"`
}

type connectToMachinePayload struct {
	TargetMachineID string `json:"targetMachineId"`
}

type connectionDecisionPayload struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

type rtcSDPPayload struct {
	ConnectionID    string `json:"connectionId"`
	TargetMachineID string `json:"targetMachineId"`
	SDP             any    `json:"sdp"`
}

type rtcICEPayload struct {
	ConnectionID    string `json:"connectionId"`
	TargetMachineID string `json:"targetMachineId"`
	Candidate       any    `json:"candidate"`
}
