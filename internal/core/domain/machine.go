package domain

import (
	"errors"
	"time"
)

var (
	ErrMachineNotFound  = errors.New("machine not found")
	ErrMachineNameTaken = errors.New("machine name already registered for this user")
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidMachine   = errors.New("invalid machine registration input")
)

// Platform enumerates the operating systems a registered machine may run.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
)

// ValidPlatform reports whether p is one of the recognized platform values.
func ValidPlatform(p Platform) bool {
	switch p {
	case PlatformWindows, PlatformMacOS, PlatformLinux:
		return true
	default:
		return false
	}
}

// Capabilities is the set of client-advertised tooling flags for a machine.
type Capabilities struct {
	HasGit    bool `json:"hasGit" bson:"has_git"`
	HasNode   bool `json:"hasNode" bson:"has_node"`
	HasRust   bool `json:"hasRust" bson:"has_rust"`
	HasPython bool `json:"hasPython" bson:"has_python"`
}

// Machine is a registered endpoint owned by exactly one user. Invariant:
// (UserID, Name) is unique; re-registering the same pair upserts platform,
// capabilities, flips IsOnline true, and refreshes LastSeen.
type Machine struct {
	ID           string       `json:"id" bson:"_id,omitempty"`
	UserID       string       `json:"userId" bson:"user_id"`
	Name         string       `json:"name" bson:"name"`
	Platform     Platform     `json:"platform" bson:"platform"`
	Capabilities Capabilities `json:"capabilities" bson:"capabilities"`
	LastSeen     time.Time    `json:"lastSeen" bson:"last_seen"`
	IsOnline     bool         `json:"isOnline" bson:"is_online"`
	CreatedAt    time.Time    `json:"createdAt" bson:"created_at"`
}

// MachineInfo is the shape returned by listOwned: a Machine plus the
// IsOwn flag the caller's vantage point contributes.
type MachineInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Platform     Platform     `json:"platform"`
	Capabilities Capabilities `json:"capabilities"`
	IsOnline     bool         `json:"isOnline"`
	IsOwn        bool         `json:"isOwn"`
}

// MachineRegistration is the input to the upsert-on-register operation.
type MachineRegistration struct {
	UserID       string
	Name         string
	Platform     Platform
	Capabilities Capabilities
}
