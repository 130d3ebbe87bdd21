package crypto

import (
	"encoding/hex"
	"fmt"
	"os"
)

// keypairFile is the on-disk shape of a --keypair FILE argument: the raw
// secret key, hex-encoded with a trailing newline so it is easy to inspect
// and diff. There is no passphrase encryption; operators are expected to
// protect the file with filesystem permissions, the same trust boundary
// the rest of the committee's address book relies on.
const keypairFileMode = 0o600

// LoadKeypairFile reads a Signer's secret key from path.
func LoadKeypairFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keypair %s: %w", path, err)
	}
	sk, err := hex.DecodeString(trimNewline(data))
	if err != nil {
		return nil, fmt.Errorf("crypto: keypair %s is not valid hex: %w", path, err)
	}
	signer, err := LoadSigner(sk)
	if err != nil {
		return nil, fmt.Errorf("crypto: keypair %s: %w", path, err)
	}
	return signer, nil
}

// SaveKeypairFile writes s's secret key to path for later use with
// --keypair. Used by keygen tooling, never by the publish/witness hot path.
func SaveKeypairFile(path string, s *Signer) error {
	line := hex.EncodeToString(s.Bytes()) + "\n"
	if err := os.WriteFile(path, []byte(line), keypairFileMode); err != nil {
		return fmt.Errorf("crypto: write keypair %s: %w", path, err)
	}
	return nil
}

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
