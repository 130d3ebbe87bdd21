package storage

import "encoding/binary"

// Persisted state key layout (spec.md §6). Witness and IdP secure storage
// share a DB implementation but never a directory, so the two key spaces
// below never collide in practice; they are kept distinct regardless.

// WitnessSequenceKey is the key holding the witness's current sequence
// number, little-endian u64. All zero bytes.
var WitnessSequenceKey = make([]byte, 32)

// WitnessLockKey is the key holding the witness's current lock (a
// serialized Option<PublishVote>; absent means no value stored). All
// bytes 0x01.
var WitnessLockKey = bytes32(0x01)

// IdPLastNotificationKey is the key holding the IdP's last broadcast
// PublishNotification. All bytes 0xff.
var IdPLastNotificationKey = bytes32(0xff)

func bytes32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

// CertificateKey returns the witness audit storage key for the
// certificate archived at sequence number seq: seq.to_le_bytes().
func CertificateKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, seq)
	return b
}
