package models

// ConnectionState represents the wallet connection state of a session
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Session is the client's current wallet-authenticated identity.
// Account is set if and only if State is StateConnected.
type Session struct {
	Account   string          `json:"account,omitempty"`
	State     ConnectionState `json:"state"`
	Network   string          `json:"network,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// DisconnectedSession returns the startup session value
func DisconnectedSession() Session {
	return Session{State: StateDisconnected}
}

// ConnectedSession returns a session authorised as account
func ConnectedSession(account, network string) Session {
	return Session{Account: account, State: StateConnected, Network: network}
}

// IsConnected reports whether the session can authorise writes
func (s Session) IsConnected() bool {
	return s.State == StateConnected && s.Account != ""
}

// AccountID returns the connected account, if any
func (s Session) AccountID() (string, bool) {
	if !s.IsConnected() {
		return "", false
	}
	return s.Account, true
}
