package identity_test

import (
	"context"
	"testing"

	"beacon/internal/domain"
	"beacon/internal/olm"
	"beacon/internal/services/identity"
)

func TestCreateAccount_SelfSigned(t *testing.T) {
	svc := identity.New(olm.Primitives{}, nil)
	account, dev, err := svc.CreateAccount(context.Background(), "@alice:hs", "ALICE")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	r := domain.NewRecipient("@alice:hs", "ALICE")
	if err := identity.VerifyDeviceKeys(dev, r); err != nil {
		t.Fatalf("VerifyDeviceKeys: %v", err)
	}
	if dev.IdentityKey() != account.IdentityKeys().Curve25519 {
		t.Fatalf("identity key = %q, want account key", dev.IdentityKey())
	}
	if len(dev.Algorithms) != 1 || dev.Algorithms[0] != "m.olm.v1.curve25519-aes-sha2" {
		t.Fatalf("algorithms = %v", dev.Algorithms)
	}
	if fp := identity.Fingerprint(account); len(fp) != 20 {
		t.Fatalf("fingerprint %q has length %d", fp, len(fp))
	}
}

func TestCreateAccount_NeedsCredentials(t *testing.T) {
	svc := identity.New(olm.Primitives{}, nil)
	if _, _, err := svc.CreateAccount(context.Background(), "@alice:hs", ""); err != domain.ErrNoCredentials {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
}

func TestVerifyDeviceKeys_Rejects(t *testing.T) {
	svc := identity.New(olm.Primitives{}, nil)
	_, dev, err := svc.CreateAccount(context.Background(), "@alice:hs", "ALICE")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := identity.VerifyDeviceKeys(dev, domain.NewRecipient("@alice:hs", "OTHER")); err == nil {
		t.Fatal("record accepted for another device")
	}

	tampered := dev.Clone()
	_, other, err := svc.CreateAccount(context.Background(), "@alice:hs", "ALICE")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	tampered.Keys["curve25519:ALICE"] = other.IdentityKey()
	err = identity.VerifyDeviceKeys(tampered, dev.Recipient())
	if err == nil {
		t.Fatal("tampered record accepted")
	}

	unsigned := dev.Clone()
	unsigned.Signatures = nil
	if err := identity.VerifyDeviceKeys(unsigned, dev.Recipient()); err == nil {
		t.Fatal("unsigned record accepted")
	}
}

func TestValidatePassphrase(t *testing.T) {
	cases := map[string]bool{
		"short1!A":             false,
		"alllowercase12345!":   false,
		"NoDigitsHere!!!!":     false,
		"NoSymbols123456":      false,
		"Correct-Horse-9":      true,
		"Tr0ub4dor&3-extended": true,
	}
	for pass, ok := range cases {
		err := identity.ValidatePassphrase(pass)
		if ok && err != nil {
			t.Errorf("%q rejected: %v", pass, err)
		}
		if !ok && err != identity.ErrWeakPassphrase {
			t.Errorf("%q: err = %v, want ErrWeakPassphrase", pass, err)
		}
	}
}
