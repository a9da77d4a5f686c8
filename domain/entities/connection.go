package entities

// ConnectionState is the lifecycle state of a live voice session
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateError        ConnectionState = "ERROR"
)

// Active reports whether the state holds session resources
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// CanConnect reports whether connect may start a new session from this state
func (s ConnectionState) CanConnect() bool {
	return s == StateDisconnected || s == StateError
}
