// Package crypto implements the aggregatable signature scheme the protocol
// treats as an external collaborator (spec.md §1: "we assume an
// aggregatable signature scheme with sign, verify, verify_batch"). It is
// instantiated with BLS12-381 (the MinPk variant used across the Ethereum
// consensus layer) via the supranational/blst bindings, adapted from the
// teacher's crypto/bls_blst_adapter.go.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

// Sizes of the wire-level key material.
const (
	PublicKeySize  = 48 // compressed G1
	SignatureSize  = 96 // compressed G2
	SecretKeySize  = 32 // scalar field element
	seedBytesInput = 32
)

// dst is the domain separation tag for protocol signatures. It is distinct
// from Ethereum's attestation DST so that votes signed for this protocol
// can never be replayed as beacon-chain attestations or vice versa.
var dst = []byte("ASONNINO_KEY_TRANSPARENCY_BLS_G2_XMD:SHA-256_SSWU_RO_")

// PublicKey is a compressed BLS12-381 G1 point identifying a committee
// member (the IdP or a witness).
type PublicKey [PublicKeySize]byte

// Signature is a compressed BLS12-381 G2 point.
type Signature [SignatureSize]byte

// Errors returned while loading or using key material.
var (
	ErrInvalidSecretKey = errors.New("crypto: invalid secret key bytes")
	ErrKeyGenFailed     = errors.New("crypto: key generation failed")
	ErrSignFailed       = errors.New("crypto: signing failed")
	ErrNoSignatures     = errors.New("crypto: no signatures to aggregate")
	ErrInvalidSignature = errors.New("crypto: invalid signature bytes")
	ErrAggregateFailed  = errors.New("crypto: signature aggregation failed")
)

// Signer holds one committee member's secret key and can produce
// signatures under this protocol's domain separation tag.
type Signer struct {
	sk  *blst.SecretKey
	pub PublicKey
}

// GenerateSigner creates a new random Signer, reading seed material from
// crypto/rand. Used by keygen tooling, not by the publish/witness hot path.
func GenerateSigner() (*Signer, error) {
	var ikm [seedBytesInput]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("crypto: read seed: %w", err)
	}
	return NewSignerFromSeed(ikm[:])
}

// NewSignerFromSeed derives a Signer deterministically from at least 32
// bytes of key material (IKM), per the BLS keygen standard.
func NewSignerFromSeed(ikm []byte) (*Signer, error) {
	if len(ikm) < seedBytesInput {
		return nil, ErrInvalidSecretKey
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, ErrKeyGenFailed
	}
	return signerFromSecretKey(sk), nil
}

// LoadSigner reconstructs a Signer from its serialized 32-byte secret key,
// as read from a --keypair file.
func LoadSigner(secretKey []byte) (*Signer, error) {
	if len(secretKey) != SecretKeySize {
		return nil, ErrInvalidSecretKey
	}
	sk := new(blst.SecretKey).Deserialize(secretKey)
	if sk == nil {
		return nil, ErrInvalidSecretKey
	}
	return signerFromSecretKey(sk), nil
}

func signerFromSecretKey(sk *blst.SecretKey) *Signer {
	pk := new(blst.P1Affine).From(sk)
	var pub PublicKey
	copy(pub[:], pk.Compress())
	return &Signer{sk: sk, pub: pub}
}

// Bytes serializes the secret key for persistence to a --keypair file.
func (s *Signer) Bytes() []byte { return s.sk.Serialize() }

// Public returns the signer's public key.
func (s *Signer) Public() PublicKey { return s.pub }

// Sign signs msg under this protocol's domain separation tag.
func (s *Signer) Sign(msg []byte) Signature {
	sig := new(blst.P2Affine).Sign(s.sk, msg, dst)
	var out Signature
	copy(out[:], sig.Compress())
	return out
}

// Verify checks a single signature against a public key and message.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	pk := new(blst.P1Affine).Uncompress(pub[:])
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig[:])
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, dst)
}

// VerifyBatch checks a set of signatures, all over the same message (the
// shared digest of a PublishCertificate), against their respective public
// keys. It aggregates the signatures and performs a single
// fast-aggregate-verify pairing check rather than len(sigs) individual
// checks — this is the verify_batch primitive §4.2 of spec.md requires.
func VerifyBatch(msg []byte, pubs []PublicKey, sigs []Signature) bool {
	n := len(pubs)
	if n == 0 || n != len(sigs) {
		return false
	}

	compressed := make([][]byte, n)
	for i, s := range sigs {
		b := s
		compressed[i] = b[:]
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(compressed, true) {
		return false
	}
	aggSig := agg.ToAffine()

	pks := make([]*blst.P1Affine, n)
	for i, p := range pubs {
		pks[i] = new(blst.P1Affine).Uncompress(p[:])
		if pks[i] == nil {
			return false
		}
	}

	return aggSig.FastAggregateVerify(true, pks, msg, dst)
}
