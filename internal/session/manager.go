package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"marketplace/internal/metrics"
	"marketplace/internal/models"
)

// Manager owns the process-wide wallet session. It is created once and passed
// by reference to every component that needs the current account.
type Manager struct {
	provider        Provider
	expectedNetwork string

	mu          sync.RWMutex
	session     models.Session
	lastAccount string
	listening   bool
	subscribers map[chan models.Session]struct{}

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager in the Disconnected state. A nil provider means
// no wallet is installed; expectedNetwork may be empty to accept any network.
func NewManager(provider Provider, expectedNetwork string) *Manager {
	metrics.SetSessionState(string(models.StateDisconnected))
	return &Manager{
		provider:        provider,
		expectedNetwork: expectedNetwork,
		session:         models.DisconnectedSession(),
		subscribers:     make(map[chan models.Session]struct{}),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Current returns the session snapshot. It never blocks on I/O.
func (m *Manager) Current() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Connect prompts the wallet for authorisation and returns the resulting session
func (m *Manager) Connect(ctx context.Context) (models.Session, error) {
	if m.provider == nil {
		return m.Current(), fmt.Errorf("failed to connect: %w", models.ErrWalletUnavailable)
	}

	m.mu.Lock()
	if m.session.IsConnected() {
		current := m.session
		m.mu.Unlock()
		return current, nil
	}
	m.setLocked(models.Session{State: models.StateConnecting})
	m.mu.Unlock()

	accounts, err := m.provider.RequestAccounts(ctx)
	account, ok := activeAccount(accounts)
	if err == nil && !ok {
		err = fmt.Errorf("%w: no account authorised", models.ErrUserRejected)
	}
	if err != nil {
		return m.fail(err), fmt.Errorf("failed to connect: %w", err)
	}

	net, err := m.provider.Network(ctx)
	if err != nil {
		return m.fail(err), fmt.Errorf("failed to read wallet network: %w", err)
	}
	if err := m.checkNetwork(net); err != nil {
		m.mu.Lock()
		m.lastAccount = account
		m.setLocked(models.Session{State: models.StateError, Network: net, LastError: err.Error()})
		current := m.session
		m.mu.Unlock()
		return current, fmt.Errorf("failed to connect: %w", err)
	}

	current := m.adopt(account, net)
	slog.Info("🔑 Wallet connected", "account", models.ShortenAddress(current.Account), "network", net)
	return current, nil
}

// Restore adopts an account the wallet has already authorised, without
// prompting. It is a no-op when there is none.
func (m *Manager) Restore(ctx context.Context) (models.Session, error) {
	if m.provider == nil {
		return m.Current(), nil
	}

	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		return m.Current(), fmt.Errorf("failed to read authorised accounts: %w", err)
	}
	account, ok := activeAccount(accounts)
	if !ok {
		return m.Current(), nil
	}

	net, err := m.provider.Network(ctx)
	if err != nil {
		return m.Current(), fmt.Errorf("failed to read wallet network: %w", err)
	}
	if err := m.checkNetwork(net); err != nil {
		slog.Warn("Authorised wallet is on an unexpected network", "network", net, "expected", m.expectedNetwork)
		return m.Current(), nil
	}

	current := m.adopt(account, net)
	slog.Info("Restored wallet session", "account", models.ShortenAddress(current.Account))
	return current, nil
}

// Disconnect revokes the authorisation when the provider supports it and
// always clears the local session
func (m *Manager) Disconnect(ctx context.Context) error {
	var err error
	if revoker, ok := m.provider.(Revoker); ok {
		if rerr := revoker.Revoke(ctx); rerr != nil {
			err = fmt.Errorf("failed to revoke wallet authorisation: %w", rerr)
		}
	}

	m.mu.Lock()
	m.lastAccount = ""
	m.setLocked(models.DisconnectedSession())
	m.mu.Unlock()

	slog.Info("Wallet disconnected")
	return err
}

// Subscribe returns a channel receiving every new session snapshot and a
// function that cancels the subscription. Slow subscribers miss snapshots.
func (m *Manager) Subscribe() (<-chan models.Session, func()) {
	ch := make(chan models.Session, 8)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Close stops the provider event consumer
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.mu.RLock()
		listening := m.listening
		m.mu.RUnlock()
		if listening {
			<-m.doneCh
		}
	})
}

// adopt transitions to Connected and starts the event consumer on first use
func (m *Manager) adopt(account, net string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastAccount = account
	m.setLocked(models.ConnectedSession(account, net))
	if !m.listening {
		m.listening = true
		go m.consume(m.provider.Events())
	}
	return m.session
}

// fail records a connect failure. Declined prompts and missing wallets return
// to Disconnected; anything else leaves the session in Error.
func (m *Manager) fail(err error) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errors.Is(err, models.ErrUserRejected) || errors.Is(err, models.ErrWalletUnavailable) {
		m.setLocked(models.Session{State: models.StateDisconnected, LastError: err.Error()})
	} else {
		m.setLocked(models.Session{State: models.StateError, LastError: err.Error()})
	}
	return m.session
}

func (m *Manager) checkNetwork(net string) error {
	if m.expectedNetwork != "" && net != m.expectedNetwork {
		return fmt.Errorf("%w: wallet is on network %q", models.ErrWalletUnavailable, net)
	}
	return nil
}

func (m *Manager) consume(events <-chan Event) {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				slog.Warn("Wallet event stream closed")
				return
			}
			m.apply(ev)
		}
	}
}

// apply folds one provider event into the session
func (m *Manager) apply(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.session
	switch ev.Kind {
	case EventAccountsChanged:
		account, ok := activeAccount(ev.Accounts)
		if !ok {
			m.lastAccount = ""
			m.setLocked(models.DisconnectedSession())
			break
		}
		m.lastAccount = account
		if prev.State == models.StateError {
			// Still on the wrong network; remember the account for when it returns
			break
		}
		m.setLocked(models.ConnectedSession(account, prev.Network))

	case EventNetworkChanged:
		if err := m.checkNetwork(ev.Network); err != nil {
			m.setLocked(models.Session{State: models.StateError, Network: ev.Network, LastError: err.Error()})
			break
		}
		if m.lastAccount == "" {
			m.setLocked(models.Session{State: models.StateDisconnected, Network: ev.Network})
			break
		}
		m.setLocked(models.ConnectedSession(m.lastAccount, ev.Network))

	case EventDisconnected:
		m.lastAccount = ""
		m.setLocked(models.DisconnectedSession())

	default:
		slog.Debug("Ignoring unknown wallet event", "kind", ev.Kind)
		return
	}

	if prev != m.session {
		slog.Info("Session changed by wallet event",
			"event", ev.Kind,
			"state", m.session.State,
			"account", models.ShortenAddress(m.session.Account),
		)
	}
}

// setLocked replaces the session and notifies subscribers; m.mu must be held
func (m *Manager) setLocked(s models.Session) {
	m.session = s
	metrics.SetSessionState(string(s.State))
	for ch := range m.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// activeAccount returns the account a wallet reports first. A blank entry
// means no account is authorised.
func activeAccount(accounts []string) (string, bool) {
	if len(accounts) == 0 || strings.TrimSpace(accounts[0]) == "" {
		return "", false
	}
	return accounts[0], true
}
