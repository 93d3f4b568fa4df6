package session

import "context"

// EventKind identifies a wallet provider notification
type EventKind string

const (
	EventAccountsChanged EventKind = "accounts_changed"
	EventNetworkChanged  EventKind = "network_changed"
	EventDisconnected    EventKind = "disconnected"
)

// Event is an inbound notification from the wallet provider
type Event struct {
	Kind     EventKind
	Accounts []string
	Network  string
}

// Provider is the wallet boundary consumed by the Manager
type Provider interface {
	// RequestAccounts prompts the user to authorise the application and
	// returns the authorised accounts, the active one first.
	RequestAccounts(ctx context.Context) ([]string, error)

	// Accounts returns already authorised accounts without prompting
	Accounts(ctx context.Context) ([]string, error)

	// Network returns the network passphrase the wallet is using
	Network(ctx context.Context) (string, error)

	// Events delivers account and network changes for the provider lifetime
	Events() <-chan Event
}

// Revoker is implemented by providers that support revoking an authorisation
type Revoker interface {
	Revoke(ctx context.Context) error
}
