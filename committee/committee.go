// Package committee holds the fixed set of identities participating in the
// protocol: the IdP and the witnesses, with their voting power and network
// addresses (spec.md §4.1).
package committee

import (
	"bytes"
	"sort"

	"github.com/asonnino/key-transparency/crypto"
)

// Member describes one witness's voting power and network address.
type Member struct {
	PublicKey   crypto.PublicKey
	VotingPower uint32
	Address     string
}

// IdP describes the identity provider's public key and address.
type IdP struct {
	PublicKey crypto.PublicKey
	Address   string
}

// Committee is the immutable set of protocol participants. Zero value is
// not useful; build one with New.
type Committee struct {
	idp       IdP
	witnesses map[crypto.PublicKey]Member
	total     uint32
	quorum    uint32
}

// New builds a Committee from the IdP identity and the witness list.
// Insertion order of witnesses does not matter; WitnessesAddresses() always
// iterates in a deterministic order (sorted by public key) so that tests
// and logs are reproducible.
func New(idp IdP, witnesses []Member) *Committee {
	c := &Committee{
		idp:       idp,
		witnesses: make(map[crypto.PublicKey]Member, len(witnesses)),
	}
	for _, w := range witnesses {
		c.witnesses[w.PublicKey] = w
		c.total += w.VotingPower
	}
	// Byzantine quorum: floor(2*total/3) + 1.
	c.quorum = (2*c.total)/3 + 1
	return c
}

// IdPKey returns the IdP's public key.
func (c *Committee) IdPKey() crypto.PublicKey { return c.idp.PublicKey }

// IdPAddress returns the IdP's network address.
func (c *Committee) IdPAddress() string { return c.idp.Address }

// VotingPower returns the voting power of pk, or 0 if pk is not a witness
// in this committee.
func (c *Committee) VotingPower(pk crypto.PublicKey) uint32 {
	return c.witnesses[pk].VotingPower
}

// TotalVotingPower returns the sum of all witnesses' voting power.
func (c *Committee) TotalVotingPower() uint32 { return c.total }

// QuorumThreshold returns floor(2*total/3) + 1.
func (c *Committee) QuorumThreshold() uint32 { return c.quorum }

// WitnessAddress returns the network address of pk and whether pk is a
// known witness.
func (c *Committee) WitnessAddress(pk crypto.PublicKey) (string, bool) {
	m, ok := c.witnesses[pk]
	return m.Address, ok
}

// WitnessesAddresses returns every witness's (public key, address) pair,
// sorted by public key for deterministic iteration.
func (c *Committee) WitnessesAddresses() []Member {
	out := make([]Member, 0, len(c.witnesses))
	for _, m := range c.witnesses {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PublicKey[:], out[j].PublicKey[:]) < 0
	})
	return out
}

// Size returns the number of witnesses in the committee.
func (c *Committee) Size() int { return len(c.witnesses) }
