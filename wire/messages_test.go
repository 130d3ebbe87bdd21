package wire

import (
	"testing"

	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/crypto"
)

func mustSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	return s
}

func testCommittee(t *testing.T, idp *crypto.Signer, witnesses ...*crypto.Signer) *committee.Committee {
	t.Helper()
	members := make([]committee.Member, len(witnesses))
	for i, w := range witnesses {
		members[i] = committee.Member{PublicKey: w.Public(), VotingPower: 1, Address: "127.0.0.1:0"}
	}
	return committee.New(committee.IdP{PublicKey: idp.Public(), Address: "127.0.0.1:1"}, members)
}

func TestDigestDeterminismIgnoresProof(t *testing.T) {
	root := Root{1, 2, 3}
	a := Digest(root, 7)
	b := Digest(root, 7)
	if a != b {
		t.Fatal("digest is not deterministic for identical (root, seq)")
	}
	if Digest(root, 8) == a {
		t.Fatal("digest must change when sequence number changes")
	}
	other := Root{9, 9, 9}
	if Digest(other, 7) == a {
		t.Fatal("digest must change when root changes")
	}
}

func TestNotificationVerify(t *testing.T) {
	idp := mustSigner(t)
	w1 := mustSigner(t)
	com := testCommittee(t, idp, w1)

	root := Root{0xaa}
	n := NewPublishNotification(root, []byte("proof-bytes"), 0, idp)
	if err := n.Verify(com, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Proof is not covered by the digest: swapping it must not break
	// verification of an otherwise-identical notification.
	n2 := NewPublishNotification(root, []byte("a completely different proof"), 0, idp)
	if n.ID != n2.ID {
		t.Fatal("proof must not be covered by the notification id")
	}

	// Tampering the stored id must be caught.
	tampered := *n
	tampered.ID[0] ^= 0xff
	if err := tampered.Verify(com, nil); err != ErrMalformedNotificationID {
		t.Fatalf("expected ErrMalformedNotificationID, got %v", err)
	}

	// Signing with a non-IdP key must be rejected.
	forged := NewPublishNotification(root, nil, 0, w1)
	if err := forged.Verify(com, nil); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVoteVerify(t *testing.T) {
	idp := mustSigner(t)
	w1 := mustSigner(t)
	w2 := mustSigner(t)
	com := testCommittee(t, idp, w1)

	root := Root{1}
	v := NewPublishVote(root, 0, w1)
	if err := v.Verify(com); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	stranger := NewPublishVote(root, 0, w2)
	err := stranger.Verify(com)
	if _, ok := err.(*UnknownWitnessError); !ok {
		t.Fatalf("expected *UnknownWitnessError, got %v", err)
	}
}

func TestCertificateVerifyQuorumAndReuse(t *testing.T) {
	idp := mustSigner(t)
	w1, w2, w3, w4 := mustSigner(t), mustSigner(t), mustSigner(t), mustSigner(t)
	com := testCommittee(t, idp, w1, w2, w3, w4) // quorum = 3

	root := Root{7}
	v1 := NewPublishVote(root, 0, w1)
	v2 := NewPublishVote(root, 0, w2)
	v3 := NewPublishVote(root, 0, w3)

	cert := &PublishCertificate{
		Root:           root,
		SequenceNumber: 0,
		Votes: []SignedVote{
			{Author: v1.Author, Signature: v1.Signature},
			{Author: v2.Author, Signature: v2.Signature},
			{Author: v3.Author, Signature: v3.Signature},
		},
	}
	if err := cert.Verify(com); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	under := &PublishCertificate{
		Root:           root,
		SequenceNumber: 0,
		Votes:          []SignedVote{{Author: v1.Author, Signature: v1.Signature}},
	}
	if err := under.Verify(com); err != ErrCertificateRequiresQuorum {
		t.Fatalf("expected ErrCertificateRequiresQuorum, got %v", err)
	}

	reused := &PublishCertificate{
		Root:           root,
		SequenceNumber: 0,
		Votes: []SignedVote{
			{Author: v1.Author, Signature: v1.Signature},
			{Author: v1.Author, Signature: v1.Signature},
			{Author: v2.Author, Signature: v2.Signature},
		},
	}
	if _, ok := reused.Verify(com).(*WitnessReuseError); !ok {
		t.Fatalf("expected *WitnessReuseError, got %v", reused.Verify(com))
	}
}
