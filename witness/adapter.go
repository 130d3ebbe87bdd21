package witness

import "github.com/asonnino/key-transparency/wire"

// Adapter dispatches the five IdPToWitness request variants to Handler
// and SyncHelper and wraps each result into the matching WitnessToIdP
// reply. It satisfies transport.Handler structurally, so this package
// never needs to import transport.
type Adapter struct {
	Handler *Handler
	Sync    *SyncHelper
}

// NewAdapter wraps h and sync for dispatch by transport.Listener.
func NewAdapter(h *Handler, sync *SyncHelper) *Adapter {
	return &Adapter{Handler: h, Sync: sync}
}

// Handle implements transport.Handler.
func (a *Adapter) Handle(req wire.IdPToWitness) wire.WitnessToIdP {
	switch m := req.(type) {
	case wire.NotificationMessage:
		vote, err := a.Handler.HandleNotification(m.Notification)
		return wire.VoteReply{Vote: vote, Err: err}
	case wire.CertificateMessage:
		st, err := a.Handler.HandleCertificate(m.Certificate)
		return wire.StateReply{State: st, Err: err}
	case wire.StateQueryMessage:
		return wire.StateReply{State: a.Handler.State()}
	case wire.CertificateQueryMessage:
		raw, err := a.Sync.Certificate(m.SequenceNumber)
		return wire.CertificateResponse{Bytes: raw, Err: err}
	case wire.CertificateRangeQueryMessage:
		certs := a.Sync.Range(m.From, m.To)
		return wire.CertificateRangeResponse{Certs: certs}
	default:
		return wire.VoteReply{Err: wire.ErrInvalidSignature}
	}
}
