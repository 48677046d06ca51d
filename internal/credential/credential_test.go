package credential

import (
	"testing"
	"time"

	"github.com/swarmgate/swarm/internal/swerr"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	messages := [][]byte{
		[]byte(""),
		[]byte("hello"),
		SignedMessage(1234567890, "deadbeef"),
	}

	for _, msg := range messages {
		sig, err := cred.Sign(msg)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if !Verify(cred.PublicKey(), sig, msg) {
			t.Fatalf("Verify failed to round-trip for message %q", msg)
		}
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sig, err := cred.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if Verify(cred.PublicKey(), sig, []byte("tampered")) {
		t.Fatal("Verify accepted a tampered message")
	}
}

func TestPublicKeyLineRoundTrip(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	line, err := cred.AuthorizedKeyLine()
	if err != nil {
		t.Fatalf("AuthorizedKeyLine: %v", err)
	}
	pub, err := ParsePublicKeyLine(line)
	if err != nil {
		t.Fatalf("ParsePublicKeyLine: %v", err)
	}
	if string(pub) != string(cred.PublicKey()) {
		t.Fatal("parsed public key does not match original")
	}
}

func TestVerifyRequestFreshnessBoundary(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	line, err := cred.AuthorizedKeyLine()
	if err != nil {
		t.Fatalf("AuthorizedKeyLine: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	nonce := "abc123"

	mk := func(ts int64) RequestCredentials {
		sig, err := cred.Sign(SignedMessage(ts, nonce))
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return RequestCredentials{PublicKeyLine: line, Timestamp: ts, Nonce: nonce, Signature: sig}
	}

	guard := NewReplayGuard(300 * time.Second)
	defer guard.Close()
	if err := VerifyRequest(mk(now.Add(-300*time.Second).Unix()), guard, now); err != nil {
		t.Fatalf("expected acceptance exactly at 300s skew, got %v", err)
	}

	guard2 := NewReplayGuard(300 * time.Second)
	defer guard2.Close()
	err = VerifyRequest(mk(now.Add(-301*time.Second).Unix()), guard2, now)
	if swerr.KindOf(err) != swerr.Unauthenticated {
		t.Fatalf("expected Unauthenticated at 301s skew, got %v", err)
	}
}

func TestVerifyRequestRejectsReplay(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	line, err := cred.AuthorizedKeyLine()
	if err != nil {
		t.Fatalf("AuthorizedKeyLine: %v", err)
	}
	now := time.Now()
	sig, err := cred.Sign(SignedMessage(now.Unix(), "nonce-1"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	creds := RequestCredentials{PublicKeyLine: line, Timestamp: now.Unix(), Nonce: "nonce-1", Signature: sig}

	guard := NewReplayGuard(300 * time.Second)
	defer guard.Close()

	if err := VerifyRequest(creds, guard, now); err != nil {
		t.Fatalf("first VerifyRequest should succeed, got %v", err)
	}
	if err := VerifyRequest(creds, guard, now); swerr.KindOf(err) != swerr.Unauthenticated {
		t.Fatalf("replayed (pubkey, nonce) should be rejected, got %v", err)
	}
}
