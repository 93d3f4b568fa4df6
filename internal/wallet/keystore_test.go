package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/session"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
)

func newTestKeystore(t *testing.T, approve Approver, n int) (*Keystore, []*keypair.Full) {
	t.Helper()
	var seeds []string
	var kps []*keypair.Full
	for i := 0; i < n; i++ {
		kp := keypair.MustRandom()
		kps = append(kps, kp)
		seeds = append(seeds, kp.Seed())
	}
	ks, err := NewKeystore(network.TestNetworkPassphrase, approve, seeds...)
	if err != nil {
		t.Fatalf("NewKeystore failed: %v", err)
	}
	return ks, kps
}

func TestNewKeystore_InvalidSeed(t *testing.T) {
	if _, err := NewKeystore(network.TestNetworkPassphrase, nil, "not-a-seed"); err == nil {
		t.Error("Expected error for invalid seed")
	}
}

func TestKeystore_EmptyIsUnavailable(t *testing.T) {
	ks, _ := newTestKeystore(t, nil, 0)
	_, err := ks.RequestAccounts(context.Background())
	if !errors.Is(err, models.ErrWalletUnavailable) {
		t.Errorf("Expected ErrWalletUnavailable, got: %v", err)
	}
}

func TestKeystore_ConnectRejected(t *testing.T) {
	deny := func(context.Context, Request) bool { return false }
	ks, _ := newTestKeystore(t, deny, 1)

	_, err := ks.RequestAccounts(context.Background())
	if !errors.Is(err, models.ErrUserRejected) {
		t.Errorf("Expected ErrUserRejected, got: %v", err)
	}
	accounts, _ := ks.Accounts(context.Background())
	if len(accounts) != 0 {
		t.Errorf("Rejected connect must not authorise accounts, got %v", accounts)
	}
}

func TestKeystore_SignVerifies(t *testing.T) {
	ks, kps := newTestKeystore(t, nil, 1)
	ctx := context.Background()
	payload := []byte("createListing|1.5")

	if _, err := ks.Sign(ctx, kps[0].Address(), payload); !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("Expected locked wallet error, got: %v", err)
	}

	if _, err := ks.RequestAccounts(ctx); err != nil {
		t.Fatalf("RequestAccounts failed: %v", err)
	}
	sig, err := ks.Sign(ctx, kps[0].Address(), payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := kps[0].Verify(payload, sig); err != nil {
		t.Errorf("Signature does not verify: %v", err)
	}
}

func TestKeystore_SignRejected(t *testing.T) {
	approve := func(_ context.Context, req Request) bool { return req.Kind == RequestConnect }
	ks, kps := newTestKeystore(t, approve, 1)
	ctx := context.Background()

	if _, err := ks.RequestAccounts(ctx); err != nil {
		t.Fatalf("RequestAccounts failed: %v", err)
	}
	if _, err := ks.Sign(ctx, kps[0].Address(), []byte("x")); !errors.Is(err, models.ErrUserRejected) {
		t.Errorf("Expected ErrUserRejected, got: %v", err)
	}
}

func TestKeystore_DrivesSessionManager(t *testing.T) {
	ks, kps := newTestKeystore(t, nil, 2)
	m := session.NewManager(ks, network.TestNetworkPassphrase)
	defer m.Close()

	s, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s.Account != kps[0].Address() {
		t.Fatalf("Expected first key active, got %s", s.Account)
	}

	if err := ks.Switch(kps[1].Address()); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	waitForAccount(t, m, kps[1].Address())

	ks.Lock()
	waitForAccount(t, m, "")
	if m.Current().State != models.StateDisconnected {
		t.Errorf("Expected disconnected after lock, got %+v", m.Current())
	}
}

func waitForAccount(t *testing.T, m *session.Manager, account string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Current().Account == account {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected account %q, session is %+v", account, m.Current())
}
