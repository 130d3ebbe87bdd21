package crypto

import "testing"

func mustSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	return s
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := mustSigner(t)
	msg := []byte("root||seq")
	sig := s.Sign(msg)
	if !Verify(s.Public(), msg, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	s := mustSigner(t)
	sig := s.Sign([]byte("one message"))
	if Verify(s.Public(), []byte("a different message"), sig) {
		t.Fatal("expected verification to fail for mismatched message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s1 := mustSigner(t)
	s2 := mustSigner(t)
	msg := []byte("root||seq")
	sig := s1.Sign(msg)
	if Verify(s2.Public(), msg, sig) {
		t.Fatal("expected verification to fail for wrong public key")
	}
}

func TestLoadSignerRoundTrip(t *testing.T) {
	s := mustSigner(t)
	loaded, err := LoadSigner(s.Bytes())
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if loaded.Public() != s.Public() {
		t.Fatal("reloaded signer has a different public key")
	}
	msg := []byte("hello")
	if !Verify(loaded.Public(), msg, loaded.Sign(msg)) {
		t.Fatal("reloaded signer produces an invalid signature")
	}
}

func TestVerifyBatchQuorum(t *testing.T) {
	msg := []byte("digest-over-root-and-seq")
	n := 4
	pubs := make([]PublicKey, n)
	sigs := make([]Signature, n)
	for i := 0; i < n; i++ {
		s := mustSigner(t)
		pubs[i] = s.Public()
		sigs[i] = s.Sign(msg)
	}
	if !VerifyBatch(msg, pubs, sigs) {
		t.Fatal("expected batch verification to succeed")
	}
}

func TestVerifyBatchRejectsTamperedSignature(t *testing.T) {
	msg := []byte("digest")
	s1 := mustSigner(t)
	s2 := mustSigner(t)
	pubs := []PublicKey{s1.Public(), s2.Public()}
	sigs := []Signature{s1.Sign(msg), s1.Sign(msg)} // s2 never actually signed

	if VerifyBatch(msg, pubs, sigs) {
		t.Fatal("expected batch verification to fail")
	}
}

func TestVerifyBatchRejectsMismatchedLengths(t *testing.T) {
	s := mustSigner(t)
	if VerifyBatch([]byte("m"), []PublicKey{s.Public()}, nil) {
		t.Fatal("expected failure on mismatched slice lengths")
	}
}
