package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mdsync/mdsync/internal/metadata"
	"github.com/mdsync/mdsync/internal/store"
)

func TestRegistrySlots(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get(EnvSource); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	err := r.Set(EnvSource, Connection{
		API:         &metadata.Fake{},
		InstanceURL: "https://dev.my.salesforce.com",
		Username:    "dev@example.com",
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	c, err := r.Get(EnvSource)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.InstanceURL != "https://dev.my.salesforce.com" {
		t.Errorf("instance url = %q", c.InstanceURL)
	}
	if c.ConnectedAt.IsZero() {
		t.Error("connected time not stamped")
	}

	if _, err := r.Get(EnvTarget); !errors.Is(err, ErrNotConnected) {
		t.Errorf("target err = %v, want ErrNotConnected", err)
	}

	got := r.Connected()
	if len(got) != 1 || got[0] != EnvSource {
		t.Errorf("connected = %v", got)
	}
}

func TestRegistryRejectsUnknownEnv(t *testing.T) {
	r := NewRegistry()
	if err := r.Set("staging", Connection{}); err == nil {
		t.Fatal("expected rejection of unknown environment")
	}
}

func testVault(t *testing.T, passphrase string) *Vault {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &Vault{Store: s, Passphrase: passphrase}
}

func TestVaultRoundTrip(t *testing.T) {
	v := testVault(t, "correct horse")
	in := Credentials{
		LoginURL: "https://login.salesforce.com",
		Username: "dev@example.com",
		Secret:   "hunter2TOKEN",
	}
	if err := v.Seal(EnvSource, in); err != nil {
		t.Fatalf("seal: %v", err)
	}

	out, err := v.Open(EnvSource)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out == nil || *out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	// Secret must not be stored in the clear.
	blob, err := v.Store.GetCredentials(EnvSource)
	if err != nil {
		t.Fatalf("raw blob: %v", err)
	}
	if string(blob) == "" {
		t.Fatal("no blob stored")
	}
	if bytes.Contains(blob, []byte("hunter2TOKEN")) {
		t.Error("plaintext secret found in stored blob")
	}
}

func TestVaultMissingCredentials(t *testing.T) {
	v := testVault(t, "pw")
	got, err := v.Open(EnvTarget)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestVaultWrongPassphrase(t *testing.T) {
	v := testVault(t, "right")
	if err := v.Seal(EnvSource, Credentials{Username: "u", Secret: "s"}); err != nil {
		t.Fatalf("seal: %v", err)
	}

	wrong := &Vault{Store: v.Store, Passphrase: "wrong"}
	if _, err := wrong.Open(EnvSource); err == nil {
		t.Fatal("expected decryption failure with wrong passphrase")
	}
}

func TestVaultForget(t *testing.T) {
	v := testVault(t, "pw")
	if err := v.Seal(EnvSource, Credentials{Username: "u"}); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := v.Forget(EnvSource); err != nil {
		t.Fatalf("forget: %v", err)
	}
	got, err := v.Open(EnvSource)
	if err != nil || got != nil {
		t.Errorf("open after forget = %+v, %v", got, err)
	}
}
