package committee

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/asonnino/key-transparency/crypto"
)

// memberFile and idpFile mirror Member/IdP but with a hex-encoded public
// key, since JSON has no native fixed-size byte array type.
type idpFile struct {
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

type memberFile struct {
	PublicKey   string `json:"public_key"`
	VotingPower uint32 `json:"voting_power"`
	Address     string `json:"address"`
}

// committeeFile is the on-disk shape of a --committee FILE argument: a
// single JSON document naming the IdP and the full witness set, generated
// once when the committee is provisioned and then distributed out of band
// to the IdP and every witness.
type committeeFile struct {
	IdP       idpFile      `json:"idp"`
	Witnesses []memberFile `json:"witnesses"`
}

// Load reads a committee description from path and builds a Committee.
func Load(path string) (*Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("committee: read %s: %w", path, err)
	}

	var cf committeeFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("committee: parse %s: %w", path, err)
	}

	idpKey, err := decodeKey(cf.IdP.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("committee: idp public key: %w", err)
	}
	idp := IdP{PublicKey: idpKey, Address: cf.IdP.Address}

	if len(cf.Witnesses) == 0 {
		return nil, fmt.Errorf("committee: %s defines no witnesses", path)
	}

	witnesses := make([]Member, 0, len(cf.Witnesses))
	for i, w := range cf.Witnesses {
		key, err := decodeKey(w.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("committee: witness[%d] public key: %w", i, err)
		}
		if w.VotingPower == 0 {
			return nil, fmt.Errorf("committee: witness[%d] has zero voting power", i)
		}
		if w.Address == "" {
			return nil, fmt.Errorf("committee: witness[%d] has no address", i)
		}
		witnesses = append(witnesses, Member{
			PublicKey:   key,
			VotingPower: w.VotingPower,
			Address:     w.Address,
		})
	}

	return New(idp, witnesses), nil
}

// Save writes the committee described by idp and witnesses to path in the
// same format Load reads.
func Save(path string, idp IdP, witnesses []Member) error {
	cf := committeeFile{
		IdP: idpFile{
			PublicKey: hex.EncodeToString(idp.PublicKey[:]),
			Address:   idp.Address,
		},
	}
	for _, w := range witnesses {
		cf.Witnesses = append(cf.Witnesses, memberFile{
			PublicKey:   hex.EncodeToString(w.PublicKey[:]),
			VotingPower: w.VotingPower,
			Address:     w.Address,
		})
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("committee: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("committee: write %s: %w", path, err)
	}
	return nil
}

func decodeKey(s string) (crypto.PublicKey, error) {
	var pk crypto.PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != crypto.PublicKeySize {
		return pk, fmt.Errorf("expected %d bytes, got %d", crypto.PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}
