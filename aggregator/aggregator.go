// Package aggregator implements the vote aggregator (C5): it accumulates
// weighted PublishVotes for one (root, sequence_number) target and emits
// a PublishCertificate exactly once quorum voting power is reached.
package aggregator

import (
	"errors"

	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/crypto"
	"github.com/asonnino/key-transparency/wire"
)

// ErrUnexpectedVote is returned when a vote's root or sequence number
// does not match the aggregator's current target.
var ErrUnexpectedVote = errors.New("aggregator: unexpected vote root")

// Aggregator accumulates votes toward one target (root, sequence_number)
// at a time. The IdP publisher owns exactly one Aggregator per in-flight
// notification (spec.md §4.8: "one notification in flight").
type Aggregator struct {
	com    *committee.Committee
	root   wire.Root
	seq    wire.SequenceNumber
	weight uint32
	votes  []wire.SignedVote
	used   map[crypto.PublicKey]struct{}
	// certified is set once a certificate has been emitted for the
	// current target, so every later Append (until Reset) is a no-op
	// regardless of how much further voting power arrives.
	certified bool
}

// New creates an Aggregator bound to com. Call Reset before the first
// Append.
func New(com *committee.Committee) *Aggregator {
	return &Aggregator{com: com, used: make(map[crypto.PublicKey]struct{})}
}

// Reset retargets the aggregator at a new (root, sequence_number),
// discarding any votes accumulated toward the previous target.
func (a *Aggregator) Reset(root wire.Root, seq wire.SequenceNumber) {
	a.root = root
	a.seq = seq
	a.weight = 0
	a.votes = nil
	a.used = make(map[crypto.PublicKey]struct{})
	a.certified = false
}

// Append validates and adds vote. It returns a certificate the moment
// accumulated voting power reaches quorum; every call after that point
// (until the next Reset) returns (nil, nil) — quorum is reported exactly
// once per target (spec.md §4.5 step 6: "set weight to zero").
func (a *Aggregator) Append(vote *wire.PublishVote) (*wire.PublishCertificate, error) {
	if a.certified {
		return nil, nil
	}
	if vote.Root != a.root || vote.SequenceNumber != a.seq {
		return nil, ErrUnexpectedVote
	}
	if a.com.VotingPower(vote.Author) == 0 {
		return nil, &wire.UnknownWitnessError{Author: vote.Author}
	}
	if _, dup := a.used[vote.Author]; dup {
		return nil, &wire.WitnessReuseError{Author: vote.Author}
	}
	if err := vote.Verify(a.com); err != nil {
		return nil, err
	}

	a.used[vote.Author] = struct{}{}
	a.votes = append(a.votes, wire.SignedVote{Author: vote.Author, Signature: vote.Signature})
	a.weight += a.com.VotingPower(vote.Author)

	if a.weight < a.com.QuorumThreshold() {
		return nil, nil
	}

	snapshot := make([]wire.SignedVote, len(a.votes))
	copy(snapshot, a.votes)
	cert := &wire.PublishCertificate{
		Root:           a.root,
		SequenceNumber: a.seq,
		Votes:          snapshot,
	}
	a.weight = 0 // prevent double emission until the next Reset
	a.certified = true
	return cert, nil
}
