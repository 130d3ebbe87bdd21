package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/asonnino/key-transparency/crypto"
)

// Binary encoding matches spec.md §6: little-endian fields, tagged unions
// with a 4-byte discriminant per variant. Framing (the 4-byte big-endian
// length prefix) is the transport package's concern, not this one — the
// functions here encode/decode exactly one payload.

// IdPToWitness discriminants.
const (
	tagPublishNotification     uint32 = 0
	tagPublishCertificate      uint32 = 1
	tagStateQuery              uint32 = 2
	tagPublishCertificateQuery uint32 = 3
	tagCertificateRangeQuery   uint32 = 4
)

// WitnessToIdP discriminants.
const (
	tagVoteReply                uint32 = 0
	tagStateReply               uint32 = 1
	tagCertificateResponse      uint32 = 2
	tagCertificateRangeResponse uint32 = 3
)

// WitnessError result discriminants. NotFound is not part of spec.md §7's
// taxonomy (which only covers notification/certificate handling errors)
// but is needed to encode the sync helper's "absent" reply (spec.md §4.4)
// as a typed Result rather than an empty byte slice.
const (
	errMalformedNotificationID    uint32 = 0
	errInvalidSignature           uint32 = 1
	errUnknownWitness             uint32 = 2
	errWitnessReuse               uint32 = 3
	errCertificateRequiresQuorum  uint32 = 4
	errUnexpectedSequenceNumber   uint32 = 5
	errConflictingNotification    uint32 = 6
	errMissingEarlierCertificates uint32 = 7
	errNotFound                   uint32 = 8
)

// ErrNotFound is returned by the sync helper when no certificate is
// archived under the requested sequence number.
var ErrNotFound = fmt.Errorf("wire: certificate not found")

// ---- IdPToWitness ----

// IdPToWitness is the tagged union of requests the IdP sends a witness.
type IdPToWitness interface{ isIdPToWitness() }

// NotificationMessage carries a PublishNotification.
type NotificationMessage struct{ Notification *PublishNotification }

// CertificateMessage carries a PublishCertificate.
type CertificateMessage struct{ Certificate *PublishCertificate }

// StateQueryMessage asks a witness for its current State snapshot.
type StateQueryMessage struct{}

// CertificateQueryMessage asks a witness for the certificate it holds at
// SequenceNumber.
type CertificateQueryMessage struct{ SequenceNumber SequenceNumber }

// CertificateRangeQueryMessage asks a witness for every certificate it
// holds in [From, To), answered in one round trip rather than one
// CertificateQueryMessage per sequence number. The IdP's sync path
// (spec.md §9 O3) uses this to catch a lagging witness up without
// serializing the round trips one sequence number at a time.
type CertificateRangeQueryMessage struct{ From, To SequenceNumber }

func (NotificationMessage) isIdPToWitness()          {}
func (CertificateMessage) isIdPToWitness()           {}
func (StateQueryMessage) isIdPToWitness()            {}
func (CertificateQueryMessage) isIdPToWitness()      {}
func (CertificateRangeQueryMessage) isIdPToWitness() {}

// EncodeIdPToWitness serializes one request.
func EncodeIdPToWitness(msg IdPToWitness) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case NotificationMessage:
		writeUint32(&buf, tagPublishNotification)
		if err := encodeNotification(&buf, m.Notification); err != nil {
			return nil, err
		}
	case CertificateMessage:
		writeUint32(&buf, tagPublishCertificate)
		if err := encodeCertificate(&buf, m.Certificate); err != nil {
			return nil, err
		}
	case StateQueryMessage:
		writeUint32(&buf, tagStateQuery)
	case CertificateQueryMessage:
		writeUint32(&buf, tagPublishCertificateQuery)
		writeUint64(&buf, m.SequenceNumber)
	case CertificateRangeQueryMessage:
		writeUint32(&buf, tagCertificateRangeQuery)
		writeUint64(&buf, m.From)
		writeUint64(&buf, m.To)
	default:
		return nil, fmt.Errorf("wire: unknown IdPToWitness variant %T", msg)
	}
	return buf.Bytes(), nil
}

// DecodeIdPToWitness deserializes one request.
func DecodeIdPToWitness(data []byte) (IdPToWitness, error) {
	r := bytes.NewReader(data)
	tag, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagPublishNotification:
		n, err := decodeNotification(r)
		if err != nil {
			return nil, err
		}
		return NotificationMessage{Notification: n}, nil
	case tagPublishCertificate:
		c, err := decodeCertificate(r)
		if err != nil {
			return nil, err
		}
		return CertificateMessage{Certificate: c}, nil
	case tagStateQuery:
		return StateQueryMessage{}, nil
	case tagPublishCertificateQuery:
		seq, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return CertificateQueryMessage{SequenceNumber: seq}, nil
	case tagCertificateRangeQuery:
		from, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		to, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return CertificateRangeQueryMessage{From: from, To: to}, nil
	default:
		return nil, fmt.Errorf("wire: unknown IdPToWitness tag %d", tag)
	}
}

// ---- WitnessToIdP ----

// WitnessToIdP is the tagged union of replies a witness sends the IdP.
type WitnessToIdP interface{ isWitnessToIdP() }

// VoteReply carries either a fresh/idempotent vote or a typed error.
type VoteReply struct {
	Vote *PublishVote
	Err  error
}

// StateReply carries a witness's current state snapshot, or a typed
// error (only raised when reached through a certificate path).
type StateReply struct {
	State *State
	Err   error
}

// CertificateResponse carries the encoded bytes of an archived
// certificate, or ErrNotFound if the sequence number is unknown.
type CertificateResponse struct {
	Bytes []byte
	Err   error
}

// CertificateRangeResponse carries the encoded bytes of every
// certificate found in the queried [From, To) range, in ascending
// sequence-number order. A sequence number with no archived certificate
// is simply absent from Certs rather than an error, since the requesting
// IdP's syncWitness falls back to other witnesses and to per-sequence
// fetchCertificate queries for anything missing here.
type CertificateRangeResponse struct {
	Certs [][]byte
	Err   error
}

func (VoteReply) isWitnessToIdP()                {}
func (StateReply) isWitnessToIdP()               {}
func (CertificateResponse) isWitnessToIdP()      {}
func (CertificateRangeResponse) isWitnessToIdP() {}

// EncodeWitnessToIdP serializes one reply.
func EncodeWitnessToIdP(msg WitnessToIdP) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case VoteReply:
		writeUint32(&buf, tagVoteReply)
		if err := writeResult(&buf, m.Err, func(b *bytes.Buffer) error {
			return encodeVote(b, m.Vote)
		}); err != nil {
			return nil, err
		}
	case StateReply:
		writeUint32(&buf, tagStateReply)
		if err := writeResult(&buf, m.Err, func(b *bytes.Buffer) error {
			return encodeState(b, m.State)
		}); err != nil {
			return nil, err
		}
	case CertificateResponse:
		writeUint32(&buf, tagCertificateResponse)
		if err := writeResult(&buf, m.Err, func(b *bytes.Buffer) error {
			writeBytes(b, m.Bytes)
			return nil
		}); err != nil {
			return nil, err
		}
	case CertificateRangeResponse:
		writeUint32(&buf, tagCertificateRangeResponse)
		if err := writeResult(&buf, m.Err, func(b *bytes.Buffer) error {
			writeUint32(b, uint32(len(m.Certs)))
			for _, c := range m.Certs {
				writeBytes(b, c)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown WitnessToIdP variant %T", msg)
	}
	return buf.Bytes(), nil
}

// DecodeWitnessToIdP deserializes one reply.
func DecodeWitnessToIdP(data []byte) (WitnessToIdP, error) {
	r := bytes.NewReader(data)
	tag, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagVoteReply:
		var vote *PublishVote
		werr, err := readResult(r, func(rd io.Reader) error {
			v, err := decodeVote(rd)
			vote = v
			return err
		})
		if err != nil {
			return nil, err
		}
		return VoteReply{Vote: vote, Err: werr}, nil
	case tagStateReply:
		var st *State
		werr, err := readResult(r, func(rd io.Reader) error {
			s, err := decodeState(rd)
			st = s
			return err
		})
		if err != nil {
			return nil, err
		}
		return StateReply{State: st, Err: werr}, nil
	case tagCertificateResponse:
		var b []byte
		werr, err := readResult(r, func(rd io.Reader) error {
			bs, err := readBytes(rd)
			b = bs
			return err
		})
		if err != nil {
			return nil, err
		}
		return CertificateResponse{Bytes: b, Err: werr}, nil
	case tagCertificateRangeResponse:
		var certs [][]byte
		werr, err := readResult(r, func(rd io.Reader) error {
			n, err := readUint32(rd)
			if err != nil {
				return err
			}
			certs = make([][]byte, n)
			for i := range certs {
				c, err := readBytes(rd)
				if err != nil {
					return err
				}
				certs[i] = c
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return CertificateRangeResponse{Certs: certs, Err: werr}, nil
	default:
		return nil, fmt.Errorf("wire: unknown WitnessToIdP tag %d", tag)
	}
}

// ---- message bodies ----

func encodeNotification(buf *bytes.Buffer, n *PublishNotification) error {
	buf.Write(n.Root[:])
	writeBytes(buf, n.Proof)
	writeUint64(buf, n.SequenceNumber)
	buf.Write(n.ID[:])
	buf.Write(n.Signature[:])
	return nil
}

func decodeNotification(r io.Reader) (*PublishNotification, error) {
	n := &PublishNotification{}
	if err := readFull(r, n.Root[:]); err != nil {
		return nil, err
	}
	proof, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	n.Proof = proof
	seq, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	n.SequenceNumber = seq
	if err := readFull(r, n.ID[:]); err != nil {
		return nil, err
	}
	if err := readFull(r, n.Signature[:]); err != nil {
		return nil, err
	}
	return n, nil
}

func encodeVote(buf *bytes.Buffer, v *PublishVote) error {
	buf.Write(v.Root[:])
	writeUint64(buf, v.SequenceNumber)
	buf.Write(v.Author[:])
	buf.Write(v.Signature[:])
	return nil
}

func decodeVote(r io.Reader) (*PublishVote, error) {
	v := &PublishVote{}
	if err := readFull(r, v.Root[:]); err != nil {
		return nil, err
	}
	seq, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	v.SequenceNumber = seq
	if err := readFull(r, v.Author[:]); err != nil {
		return nil, err
	}
	if err := readFull(r, v.Signature[:]); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeCertificate(buf *bytes.Buffer, c *PublishCertificate) error {
	buf.Write(c.Root[:])
	writeUint64(buf, c.SequenceNumber)
	writeUint32(buf, uint32(len(c.Votes)))
	for _, sv := range c.Votes {
		buf.Write(sv.Author[:])
		buf.Write(sv.Signature[:])
	}
	return nil
}

func decodeCertificate(r io.Reader) (*PublishCertificate, error) {
	c := &PublishCertificate{}
	if err := readFull(r, c.Root[:]); err != nil {
		return nil, err
	}
	seq, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	c.SequenceNumber = seq
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	c.Votes = make([]SignedVote, n)
	for i := range c.Votes {
		if err := readFull(r, c.Votes[i].Author[:]); err != nil {
			return nil, err
		}
		if err := readFull(r, c.Votes[i].Signature[:]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func encodeState(buf *bytes.Buffer, s *State) error {
	writeUint64(buf, s.SequenceNumber)
	if s.Lock == nil {
		buf.WriteByte(0)
		return nil
	}
	buf.WriteByte(1)
	return encodeVote(buf, s.Lock)
}

func decodeState(r io.Reader) (*State, error) {
	s := &State{}
	seq, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	s.SequenceNumber = seq
	var has [1]byte
	if err := readFull(r, has[:]); err != nil {
		return nil, err
	}
	if has[0] == 0 {
		return s, nil
	}
	lock, err := decodeVote(r)
	if err != nil {
		return nil, err
	}
	s.Lock = lock
	return s, nil
}

// ---- Result<T, WitnessError> ----

func writeResult(buf *bytes.Buffer, err error, encodeOk func(*bytes.Buffer) error) error {
	if err == nil {
		buf.WriteByte(1)
		return encodeOk(buf)
	}
	buf.WriteByte(0)
	return encodeWitnessError(buf, err)
}

func readResult(r io.Reader, decodeOk func(io.Reader) error) (error, error) {
	var ok [1]byte
	if err := readFull(r, ok[:]); err != nil {
		return nil, err
	}
	if ok[0] == 1 {
		return nil, decodeOk(r)
	}
	werr, err := decodeWitnessError(r)
	return werr, err
}

func encodeWitnessError(buf *bytes.Buffer, err error) error {
	switch {
	case err == ErrMalformedNotificationID:
		writeUint32(buf, errMalformedNotificationID)
	case err == ErrInvalidSignature:
		writeUint32(buf, errInvalidSignature)
	case err == ErrCertificateRequiresQuorum:
		writeUint32(buf, errCertificateRequiresQuorum)
	case err == ErrNotFound:
		writeUint32(buf, errNotFound)
	default:
		switch e := err.(type) {
		case *UnknownWitnessError:
			writeUint32(buf, errUnknownWitness)
			buf.Write(e.Author[:])
		case *WitnessReuseError:
			writeUint32(buf, errWitnessReuse)
			buf.Write(e.Author[:])
		case *UnexpectedSequenceNumberError:
			writeUint32(buf, errUnexpectedSequenceNumber)
			writeUint64(buf, e.Expected)
			writeUint64(buf, e.Got)
		case *ConflictingNotificationError:
			writeUint32(buf, errConflictingNotification)
			buf.Write(e.LockRoot[:])
			buf.Write(e.ReceivedRoot[:])
		case *MissingEarlierCertificatesError:
			writeUint32(buf, errMissingEarlierCertificates)
			writeUint64(buf, e.Current)
		default:
			return fmt.Errorf("wire: cannot encode error of type %T", err)
		}
	}
	return nil
}

func decodeWitnessError(r io.Reader) (error, error) {
	tag, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case errMalformedNotificationID:
		return ErrMalformedNotificationID, nil
	case errInvalidSignature:
		return ErrInvalidSignature, nil
	case errCertificateRequiresQuorum:
		return ErrCertificateRequiresQuorum, nil
	case errNotFound:
		return ErrNotFound, nil
	case errUnknownWitness:
		var pk crypto.PublicKey
		if err := readFull(r, pk[:]); err != nil {
			return nil, err
		}
		return &UnknownWitnessError{Author: pk}, nil
	case errWitnessReuse:
		var pk crypto.PublicKey
		if err := readFull(r, pk[:]); err != nil {
			return nil, err
		}
		return &WitnessReuseError{Author: pk}, nil
	case errUnexpectedSequenceNumber:
		expected, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		got, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return &UnexpectedSequenceNumberError{Expected: expected, Got: got}, nil
	case errConflictingNotification:
		var lock, received Root
		if err := readFull(r, lock[:]); err != nil {
			return nil, err
		}
		if err := readFull(r, received[:]); err != nil {
			return nil, err
		}
		return &ConflictingNotificationError{LockRoot: lock, ReceivedRoot: received}, nil
	case errMissingEarlierCertificates:
		current, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return &MissingEarlierCertificatesError{Current: current}, nil
	default:
		return nil, fmt.Errorf("wire: unknown error tag %d", tag)
	}
}

// ---- standalone encodings for persistence ----
//
// Storage (package storage) persists individual messages outside any
// IdPToWitness/WitnessToIdP envelope: the witness lock, archived
// certificates, and the IdP's last notification. These wrap the same
// body codecs the envelopes use.

// EncodeVote serializes a PublishVote for storage under the witness lock
// key.
func EncodeVote(v *PublishVote) []byte {
	var buf bytes.Buffer
	encodeVote(&buf, v)
	return buf.Bytes()
}

// DecodeVote deserializes a PublishVote previously written by EncodeVote.
func DecodeVote(data []byte) (*PublishVote, error) {
	return decodeVote(bytes.NewReader(data))
}

// EncodeCertificate serializes a PublishCertificate for archival storage.
func EncodeCertificate(c *PublishCertificate) []byte {
	var buf bytes.Buffer
	encodeCertificate(&buf, c)
	return buf.Bytes()
}

// DecodeCertificate deserializes a PublishCertificate previously written
// by EncodeCertificate.
func DecodeCertificate(data []byte) (*PublishCertificate, error) {
	return decodeCertificate(bytes.NewReader(data))
}

// EncodeNotification serializes a PublishNotification for the IdP's
// last-notification crash-recovery slot.
func EncodeNotification(n *PublishNotification) []byte {
	var buf bytes.Buffer
	encodeNotification(&buf, n)
	return buf.Bytes()
}

// DecodeNotification deserializes a PublishNotification previously
// written by EncodeNotification.
func DecodeNotification(data []byte) (*PublishNotification, error) {
	return decodeNotification(bytes.NewReader(data))
}

// ---- primitives ----

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	return err
}
