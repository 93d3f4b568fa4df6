package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"marketplace/internal/models"
	"marketplace/internal/session"

	"github.com/stellar/go/keypair"
)

// RequestKind is the kind of user prompt a wallet raises
type RequestKind string

const (
	RequestConnect RequestKind = "connect"
	RequestSign    RequestKind = "sign"
)

// Request describes a prompt shown to the user
type Request struct {
	Kind    RequestKind
	Account string
	Payload []byte
}

// Approver decides prompts on behalf of the user. Returning false declines.
type Approver func(ctx context.Context, req Request) bool

// AutoApprove accepts every prompt
func AutoApprove(context.Context, Request) bool { return true }

// Keystore is a wallet provider holding Stellar account keys in memory
type Keystore struct {
	mu         sync.Mutex
	keys       []*keypair.Full
	active     int
	authorised bool
	network    string
	approve    Approver

	events chan session.Event
}

// NewKeystore creates a keystore from secret seeds (S...). The first seed is the
// active account. A nil approver approves everything.
func NewKeystore(network string, approve Approver, seeds ...string) (*Keystore, error) {
	if approve == nil {
		approve = AutoApprove
	}
	k := &Keystore{
		network: network,
		approve: approve,
		events:  make(chan session.Event, 64),
	}
	for i, seed := range seeds {
		kp, err := keypair.ParseFull(seed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse secret seed %d: %w", i, err)
		}
		k.keys = append(k.keys, kp)
	}
	return k, nil
}

// Generate adds a random account to the keystore and returns its address
func (k *Keystore) Generate() (string, error) {
	kp, err := keypair.Random()
	if err != nil {
		return "", fmt.Errorf("failed to generate keypair: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, kp)
	return kp.Address(), nil
}

// Addresses returns every account address in the keystore
func (k *Keystore) Addresses() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.addressesLocked()
}

// RequestAccounts implements session.Provider
func (k *Keystore) RequestAccounts(ctx context.Context) ([]string, error) {
	k.mu.Lock()
	if len(k.keys) == 0 {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: keystore is empty", models.ErrWalletUnavailable)
	}
	active := k.keys[k.active].Address()
	k.mu.Unlock()

	if !k.approve(ctx, Request{Kind: RequestConnect, Account: active}) {
		return nil, models.ErrUserRejected
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.authorised = true
	return k.addressesLocked(), nil
}

// Accounts implements session.Provider
func (k *Keystore) Accounts(ctx context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.authorised {
		return nil, nil
	}
	return k.addressesLocked(), nil
}

// Network implements session.Provider
func (k *Keystore) Network(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.network, nil
}

// Events implements session.Provider
func (k *Keystore) Events() <-chan session.Event {
	return k.events
}

// Revoke implements session.Revoker
func (k *Keystore) Revoke(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.authorised = false
	return nil
}

// Switch makes address the active account, as a user would in the wallet UI
func (k *Keystore) Switch(address string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, kp := range k.keys {
		if kp.Address() == address {
			k.active = i
			if k.authorised {
				k.emitLocked(session.Event{Kind: session.EventAccountsChanged, Accounts: k.addressesLocked()})
			}
			return nil
		}
	}
	return fmt.Errorf("account %s is not in the keystore", address)
}

// SwitchNetwork changes the wallet network passphrase
func (k *Keystore) SwitchNetwork(passphrase string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.network = passphrase
	k.emitLocked(session.Event{Kind: session.EventNetworkChanged, Network: passphrase})
}

// Lock withdraws every account from the application
func (k *Keystore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.authorised = false
	k.emitLocked(session.Event{Kind: session.EventAccountsChanged})
}

// Sign signs payload with account's key after the user approves
func (k *Keystore) Sign(ctx context.Context, account string, payload []byte) ([]byte, error) {
	k.mu.Lock()
	if !k.authorised {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: wallet is locked", models.ErrNotConnected)
	}
	var signer *keypair.Full
	for _, kp := range k.keys {
		if kp.Address() == account {
			signer = kp
			break
		}
	}
	k.mu.Unlock()

	if signer == nil {
		return nil, fmt.Errorf("%w: account %s is not in the keystore", models.ErrNotConnected, account)
	}
	if !k.approve(ctx, Request{Kind: RequestSign, Account: account, Payload: payload}) {
		return nil, models.ErrUserRejected
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	return sig, nil
}

// addressesLocked lists addresses with the active account first
func (k *Keystore) addressesLocked() []string {
	if len(k.keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(k.keys))
	out = append(out, k.keys[k.active].Address())
	for i, kp := range k.keys {
		if i != k.active {
			out = append(out, kp.Address())
		}
	}
	return out
}

func (k *Keystore) emitLocked(ev session.Event) {
	select {
	case k.events <- ev:
	default:
		slog.Warn("Dropping wallet event, no consumer", "kind", ev.Kind)
	}
}
