package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace/internal/models"
)

type fakeProvider struct {
	accounts   []string
	authorised []string
	network    string
	requestErr error
	revoked    bool
	events     chan Event
}

func newFakeProvider(network string, accounts ...string) *fakeProvider {
	return &fakeProvider{accounts: accounts, network: network, events: make(chan Event, 8)}
}

func (p *fakeProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if p.requestErr != nil {
		return nil, p.requestErr
	}
	p.authorised = p.accounts
	return p.accounts, nil
}

func (p *fakeProvider) Accounts(ctx context.Context) ([]string, error) {
	return p.authorised, nil
}

func (p *fakeProvider) Network(ctx context.Context) (string, error) {
	return p.network, nil
}

func (p *fakeProvider) Events() <-chan Event {
	return p.events
}

func (p *fakeProvider) Revoke(ctx context.Context) error {
	p.revoked = true
	p.authorised = nil
	return nil
}

// waitFor polls the manager until cond holds or the deadline passes
func waitFor(t *testing.T, m *Manager, cond func(models.Session) bool) models.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.Current(); cond(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Session never reached expected state, last: %+v", m.Current())
	return models.Session{}
}

func TestManager_StartsDisconnected(t *testing.T) {
	m := NewManager(newFakeProvider("testnet", "GA"), "")
	defer m.Close()

	s := m.Current()
	if s.State != models.StateDisconnected || s.Account != "" {
		t.Errorf("Expected disconnected session, got %+v", s)
	}
}

func TestManager_Connect(t *testing.T) {
	tests := []struct {
		name       string
		provider   Provider
		expected   string
		wantErr    error
		wantState  models.ConnectionState
		wantAcount string
	}{
		{
			name:       "success",
			provider:   newFakeProvider("testnet", "GABC", "GDEF"),
			wantState:  models.StateConnected,
			wantAcount: "GABC",
		},
		{
			name:      "no wallet",
			provider:  nil,
			wantErr:   models.ErrWalletUnavailable,
			wantState: models.StateDisconnected,
		},
		{
			name: "user rejected",
			provider: func() Provider {
				p := newFakeProvider("testnet", "GABC")
				p.requestErr = models.ErrUserRejected
				return p
			}(),
			wantErr:   models.ErrUserRejected,
			wantState: models.StateDisconnected,
		},
		{
			name:      "no account authorised",
			provider:  newFakeProvider("testnet"),
			wantErr:   models.ErrUserRejected,
			wantState: models.StateDisconnected,
		},
		{
			name:      "blank account",
			provider:  newFakeProvider("testnet", ""),
			wantErr:   models.ErrUserRejected,
			wantState: models.StateDisconnected,
		},
		{
			name: "provider failure",
			provider: func() Provider {
				p := newFakeProvider("testnet", "GABC")
				p.requestErr = errors.New("extension crashed")
				return p
			}(),
			wantState: models.StateError,
		},
		{
			name:      "wrong network",
			provider:  newFakeProvider("mainnet", "GABC"),
			expected:  "testnet",
			wantErr:   models.ErrWalletUnavailable,
			wantState: models.StateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m *Manager
			if tt.provider == nil {
				m = NewManager(nil, tt.expected)
			} else {
				m = NewManager(tt.provider, tt.expected)
			}
			defer m.Close()

			s, err := m.Connect(context.Background())
			if tt.wantState == models.StateConnected {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
			} else if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if s.State != tt.wantState {
				t.Errorf("Expected state %s, got %s", tt.wantState, s.State)
			}
			if s.Account != tt.wantAcount {
				t.Errorf("Expected account %q, got %q", tt.wantAcount, s.Account)
			}
			if (s.Account != "") != (s.State == models.StateConnected) {
				t.Errorf("Account must be present iff connected: %+v", s)
			}
		})
	}
}

func TestManager_AccountEvents(t *testing.T) {
	p := newFakeProvider("testnet", "GABC")
	m := NewManager(p, "testnet")
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	p.events <- Event{Kind: EventAccountsChanged, Accounts: []string{"GXYZ"}}
	s := waitFor(t, m, func(s models.Session) bool { return s.Account == "GXYZ" })
	if s.State != models.StateConnected || s.Network != "testnet" {
		t.Errorf("Unexpected session after account switch: %+v", s)
	}

	p.events <- Event{Kind: EventAccountsChanged, Accounts: nil}
	waitFor(t, m, func(s models.Session) bool {
		return s.State == models.StateDisconnected && s.Account == ""
	})

	p.events <- Event{Kind: EventAccountsChanged, Accounts: []string{"GXYZ"}}
	waitFor(t, m, func(s models.Session) bool { return s.State == models.StateConnected })

	// A blank account is treated like no account at all
	p.events <- Event{Kind: EventAccountsChanged, Accounts: []string{""}}
	s = waitFor(t, m, func(s models.Session) bool { return s.State != models.StateConnected })
	if s.State != models.StateDisconnected || s.Account != "" {
		t.Errorf("Expected disconnected session after blank account, got %+v", s)
	}
}

func TestManager_RestoreIgnoresBlankAccount(t *testing.T) {
	p := newFakeProvider("testnet")
	p.authorised = []string{""}
	m := NewManager(p, "testnet")
	defer m.Close()

	s, err := m.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if s.State != models.StateDisconnected || s.Account != "" {
		t.Errorf("Expected disconnected session, got %+v", s)
	}
}

func TestManager_NetworkEvents(t *testing.T) {
	p := newFakeProvider("testnet", "GABC")
	m := NewManager(p, "testnet")
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	p.events <- Event{Kind: EventNetworkChanged, Network: "mainnet"}
	s := waitFor(t, m, func(s models.Session) bool { return s.State == models.StateError })
	if s.Account != "" {
		t.Errorf("Account must be cleared on wrong network, got %q", s.Account)
	}

	p.events <- Event{Kind: EventNetworkChanged, Network: "testnet"}
	s = waitFor(t, m, func(s models.Session) bool { return s.State == models.StateConnected })
	if s.Account != "GABC" {
		t.Errorf("Expected account restored after network returned, got %q", s.Account)
	}

	p.events <- Event{Kind: EventDisconnected}
	waitFor(t, m, func(s models.Session) bool { return s.State == models.StateDisconnected })
}

func TestManager_Restore(t *testing.T) {
	p := newFakeProvider("testnet", "GABC")
	m := NewManager(p, "")
	defer m.Close()

	s, err := m.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if s.State != models.StateDisconnected {
		t.Errorf("Restore without prior authorisation must be a no-op, got %+v", s)
	}

	p.authorised = []string{"GABC"}
	s, err = m.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !s.IsConnected() || s.Account != "GABC" {
		t.Errorf("Expected restored session, got %+v", s)
	}
}

func TestManager_Disconnect(t *testing.T) {
	p := newFakeProvider("testnet", "GABC")
	m := NewManager(p, "")
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !p.revoked {
		t.Error("Expected provider authorisation to be revoked")
	}
	if m.Current().State != models.StateDisconnected {
		t.Errorf("Expected disconnected, got %+v", m.Current())
	}
}

func TestManager_Subscribe(t *testing.T) {
	p := newFakeProvider("testnet", "GABC")
	m := NewManager(p, "")
	defer m.Close()

	updates, cancel := m.Subscribe()
	defer cancel()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var states []models.ConnectionState
	for len(states) < 2 {
		select {
		case s := <-updates:
			states = append(states, s.State)
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for updates, got %v", states)
		}
	}
	if states[0] != models.StateConnecting || states[1] != models.StateConnected {
		t.Errorf("Expected connecting then connected, got %v", states)
	}
}
