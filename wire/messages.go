// Package wire defines the message types exchanged between the IdP and the
// witness committee, their digests, their verification rules, and the
// binary encoding that carries them over the transport package's framed
// connections. Field sets and verification rules follow spec.md §3-4.2
// exactly; no field here may be reordered without breaking wire
// compatibility with every other node on the committee.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/crypto"
)

// Root is an opaque 32-byte commitment to one AKD epoch.
type Root [32]byte

// SequenceNumber identifies the IdP's n-th published state. Zero is
// genesis.
type SequenceNumber = uint64

// Digest computes H(root ‖ sequence_number_le), the value every
// Notification, Vote and Certificate signature is taken over. spec.md
// §4.2 accepts "SHA-512 truncated to 32 bytes... Blake3 equally so" —
// any fixed 32-byte hash works as long as IdP and witnesses agree. We
// use Blake2b-256 from golang.org/x/crypto, the hash package the
// teacher's own module graph already carries (golang.org/x/crypto is a
// direct eth2030 dependency), rather than reach for the standard
// library's sha512.
func Digest(root Root, seq SequenceNumber) [32]byte {
	var buf [40]byte
	copy(buf[:32], root[:])
	binary.LittleEndian.PutUint64(buf[32:], seq)
	return blake2b.Sum256(buf[:])
}

// PublishNotification is produced by the IdP once per new AKD epoch and
// broadcast to the committee. Proof is deliberately excluded from the
// digest covered by Id: two notifications with the same (root, seq) are
// semantically identical regardless of how the proof bytes were produced.
type PublishNotification struct {
	Root           Root
	Proof          []byte
	SequenceNumber SequenceNumber
	ID             [32]byte
	Signature      crypto.Signature
}

// NewPublishNotification builds and signs a notification. The signer must
// be the committee's IdP key.
func NewPublishNotification(root Root, proof []byte, seq SequenceNumber, signer *crypto.Signer) *PublishNotification {
	id := Digest(root, seq)
	sig := signer.Sign(id[:])
	return &PublishNotification{
		Root:           root,
		Proof:          proof,
		SequenceNumber: seq,
		ID:             id,
		Signature:      sig,
	}
}

// Verify checks (a) Id matches the recomputed digest and (b) Signature is
// valid under the committee's IdP key over Id. AKD proof verification is
// out of scope here (spec.md §4.2c, §9): the caller passes previousRoot
// only so future AKD integration has a place to plug in; today it is
// unused.
func (n *PublishNotification) Verify(com *committee.Committee, _ previousRootHint) error {
	want := Digest(n.Root, n.SequenceNumber)
	if want != n.ID {
		return ErrMalformedNotificationID
	}
	if !crypto.Verify(com.IdPKey(), n.ID[:], n.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// previousRootHint is a placeholder type for the AKD-proof-verification
// hook spec.md §4.2 reserves but does not require today (§9: "today this
// is a no-op stub").
type previousRootHint = *Root

// PublishVote is a witness's signed attestation that it observed a valid
// notification at (root, sequence_number).
type PublishVote struct {
	Root           Root
	SequenceNumber SequenceNumber
	Author         crypto.PublicKey
	Signature      crypto.Signature
}

// NewPublishVote builds and signs a vote over digest(root, seq).
func NewPublishVote(root Root, seq SequenceNumber, signer *crypto.Signer) *PublishVote {
	d := Digest(root, seq)
	return &PublishVote{
		Root:           root,
		SequenceNumber: seq,
		Author:         signer.Public(),
		Signature:      signer.Sign(d[:]),
	}
}

// Verify requires the author to carry nonzero voting power in com and the
// signature to be valid over digest(root, seq).
func (v *PublishVote) Verify(com *committee.Committee) error {
	if com.VotingPower(v.Author) == 0 {
		return &UnknownWitnessError{Author: v.Author}
	}
	d := Digest(v.Root, v.SequenceNumber)
	if !crypto.Verify(v.Author, d[:], v.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// SignedVote pairs one witness's public key with its signature, the
// per-author element of a PublishCertificate's vote list.
type SignedVote struct {
	Author    crypto.PublicKey
	Signature crypto.Signature
}

// PublishCertificate is a quorum of witness votes over one (root, seq)
// pair, ordered by the order votes were appended to the aggregator.
type PublishCertificate struct {
	Root           Root
	SequenceNumber SequenceNumber
	Votes          []SignedVote
}

// Verify requires: no repeated author, every author a committee witness,
// accumulated voting power at or above quorum, and the vote set's
// signatures valid under a single batch check over digest(root, seq).
func (c *PublishCertificate) Verify(com *committee.Committee) error {
	seen := make(map[crypto.PublicKey]struct{}, len(c.Votes))
	var power uint32
	pubs := make([]crypto.PublicKey, 0, len(c.Votes))
	sigs := make([]crypto.Signature, 0, len(c.Votes))
	for _, sv := range c.Votes {
		if _, dup := seen[sv.Author]; dup {
			return &WitnessReuseError{Author: sv.Author}
		}
		seen[sv.Author] = struct{}{}
		w := com.VotingPower(sv.Author)
		if w == 0 {
			return &UnknownWitnessError{Author: sv.Author}
		}
		power += w
		pubs = append(pubs, sv.Author)
		sigs = append(sigs, sv.Signature)
	}
	if power < com.QuorumThreshold() {
		return ErrCertificateRequiresQuorum
	}
	d := Digest(c.Root, c.SequenceNumber)
	if !crypto.VerifyBatch(d[:], pubs, sigs) {
		return ErrInvalidSignature
	}
	return nil
}

// State is the snapshot a witness returns from StateQuery, and from
// processing a notification or certificate.
type State struct {
	SequenceNumber SequenceNumber
	Lock           *PublishVote // nil when no vote is pending at SequenceNumber
}

var (
	// ErrMalformedNotificationID is returned when a notification's stored
	// Id does not match the recomputed digest.
	ErrMalformedNotificationID = errors.New("wire: malformed notification id")
	// ErrInvalidSignature is returned whenever a signature fails to
	// verify, regardless of message kind.
	ErrInvalidSignature = errors.New("wire: invalid signature")
	// ErrCertificateRequiresQuorum is returned when a certificate's
	// accumulated voting power falls short of the committee's quorum
	// threshold.
	ErrCertificateRequiresQuorum = errors.New("wire: certificate requires quorum")
)

// UnknownWitnessError reports a message authored by a public key outside
// the committee.
type UnknownWitnessError struct {
	Author crypto.PublicKey
}

func (e *UnknownWitnessError) Error() string {
	return fmt.Sprintf("wire: unknown witness %x", e.Author[:8])
}

// WitnessReuseError reports a certificate with more than one vote from
// the same author.
type WitnessReuseError struct {
	Author crypto.PublicKey
}

func (e *WitnessReuseError) Error() string {
	return fmt.Sprintf("wire: witness reuse %x", e.Author[:8])
}

// UnexpectedSequenceNumberError reports a notification or certificate
// whose sequence number does not match the witness's expectation. Got <
// Expected means the witness is ahead; Got > Expected means it is behind
// and the IdP should trigger synchronization (spec.md §9 O3).
type UnexpectedSequenceNumberError struct {
	Expected SequenceNumber
	Got      SequenceNumber
}

func (e *UnexpectedSequenceNumberError) Error() string {
	return fmt.Sprintf("wire: unexpected sequence number: expected %d, got %d", e.Expected, e.Got)
}

// ConflictingNotificationError reports an equivocation attempt: a second
// notification at the current sequence number naming a different root
// than the one already locked.
type ConflictingNotificationError struct {
	LockRoot     Root
	ReceivedRoot Root
}

func (e *ConflictingNotificationError) Error() string {
	return fmt.Sprintf("wire: conflicting notification: locked %x, received %x", e.LockRoot[:8], e.ReceivedRoot[:8])
}

// MissingEarlierCertificatesError reports a certificate for a future
// sequence number while earlier certificates have not yet been finalized.
type MissingEarlierCertificatesError struct {
	Current SequenceNumber
}

func (e *MissingEarlierCertificatesError) Error() string {
	return fmt.Sprintf("wire: missing earlier certificates, current sequence %d", e.Current)
}
