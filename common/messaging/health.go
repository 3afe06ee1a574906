package messaging

// Connection states reported by the health endpoint.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateMissing      = "missing"
)

// HealthChecker reports broker connectivity.
type HealthChecker interface {
	IsConnected() bool
}

// State summarizes a broker connection for health output. A nil checker
// means no broker is configured.
func State(c HealthChecker) string {
	if c == nil {
		return StateMissing
	}
	if !c.IsConnected() {
		return StateDisconnected
	}
	return StateConnected
}
