// Package akd is the authenticated key directory the prover drives. It is
// treated as a black-box dependency by the rest of the protocol (spec.md
// §1, §9): publish a batch, get back a new epoch; ask for the root
// committed at an epoch; ask for an audit proof between two epochs. Proof
// verification itself is out of scope (witnesses only check the IdP's
// signature over the root, per spec.md §4.2c) — Audit exists so the
// prover has something to attach to a notification, not so a witness can
// check it.
package akd

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/asonnino/key-transparency/wire"
)

// Entry is one (label, value) update decoded by the batcher (spec.md
// §4.6) and committed by a single Publish call.
type Entry struct {
	Label string
	Value string
}

// Proof is an opaque audit proof binding (from, to) to their roots. The
// AKD library would normally produce a real cryptographic proof (a
// verifiable, compact transcript of every entry inserted and a path
// through the authenticated structure); this black box commits to the
// same shape without a verifier on the other end, since proof
// verification is explicitly out of scope here.
type Proof struct {
	From     uint64
	To       uint64
	FromRoot wire.Root
	ToRoot   wire.Root
}

// ErrUnknownEpoch is returned by RootAt/Audit for an epoch that was
// never published.
var ErrUnknownEpoch = errors.New("akd: unknown epoch")

// Directory is the black-box interface the prover (C7) depends on.
type Directory interface {
	// Publish commits batch as the next epoch and returns it.
	Publish(batch []Entry) (epoch uint64, err error)
	// RootAt returns the root committed at epoch.
	RootAt(epoch uint64) (wire.Root, error)
	// Audit returns a proof binding the roots at from and to.
	Audit(from, to uint64) (Proof, error)
}

// commitRoot folds the previous root and a batch's entries into the next
// root. This stands in for the real authenticated dictionary's Merkle (or
// verifiable-map) commitment; it is a one-way binding commitment, not an
// authenticated structure, since no component in this system ever
// verifies an AKD proof cryptographically.
func commitRoot(prev wire.Root, epoch uint64, batch []Entry) wire.Root {
	h := sha256.New()
	h.Write(prev[:])
	var eb [8]byte
	binary.LittleEndian.PutUint64(eb[:], epoch)
	h.Write(eb[:])
	for _, e := range batch {
		var ll [4]byte
		binary.LittleEndian.PutUint32(ll[:], uint32(len(e.Label)))
		h.Write(ll[:])
		h.Write([]byte(e.Label))
		var vl [4]byte
		binary.LittleEndian.PutUint32(vl[:], uint32(len(e.Value)))
		h.Write(vl[:])
		h.Write([]byte(e.Value))
	}
	var out wire.Root
	copy(out[:], h.Sum(nil))
	return out
}
