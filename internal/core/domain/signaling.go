package domain

// Wire error codes (spec §7). These are the values carried in an `error`
// frame's `code` field, not Go error values — kept as string constants so
// handlers can emit them without importing the signaling service.
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeUnknownMessage    = "UNKNOWN_MESSAGE"
	ErrCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	ErrCodeRegistrationFail  = "REGISTRATION_FAILED"
	ErrCodeAccessDenied      = "ACCESS_DENIED"
	ErrCodeMachineOffline    = "MACHINE_OFFLINE"
	ErrCodeConnectionMissing = "CONNECTION_NOT_FOUND"
	ErrCodeInvalidConnection = "INVALID_CONNECTION"
	ErrCodeConnectionTimeout = "CONNECTION_TIMEOUT"
)

// WebClientIDPrefix is the format prefix for transient web-client ids:
// "web-client-<monotonic int>".
const WebClientIDPrefix = "web-client-"

// IsWebClientID reports whether id was minted for a non-machine
// originator rather than assigned to a registered machine.
func IsWebClientID(id string) bool {
	return len(id) > len(WebClientIDPrefix) && id[:len(WebClientIDPrefix)] == WebClientIDPrefix
}
