package main

import (
	"flag"
	"fmt"
)

// config holds the resolved --flag values for the witness binary.
type config struct {
	committeeFile string
	keypairFile   string
	secureStorage string
	auditStorage  string
	listen        string
	verbosity     int
}

// parseFlags parses args into a config, in the same style as
// cmd/idp/flags.go (and the teacher's cmd/eth2030/flags.go): a thin
// wrapper over the standard flag package.
func parseFlags(args []string) (*config, error) {
	cfg := &config{listen: ":9100"}

	fs := flag.NewFlagSet("witness", flag.ContinueOnError)
	fs.StringVar(&cfg.committeeFile, "committee", "", "path to the committee description file (required)")
	fs.StringVar(&cfg.keypairFile, "keypair", "", "path to this witness's keypair file (required)")
	fs.StringVar(&cfg.secureStorage, "secure_storage", "", "directory for vote-lock and sequence-number storage (required)")
	fs.StringVar(&cfg.auditStorage, "audit_storage", "", "directory for archived certificates (defaults under secure_storage)")
	fs.StringVar(&cfg.listen, "listen", cfg.listen, "address this witness accepts IdP connections on")
	fs.BoolFunc("v", "increase log verbosity (repeatable: -v -v -v)", func(string) error {
		cfg.verbosity++
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.committeeFile == "" {
		return errRequired("committee")
	}
	if c.keypairFile == "" {
		return errRequired("keypair")
	}
	if c.secureStorage == "" {
		return errRequired("secure_storage")
	}
	return nil
}

func errRequired(flag string) error {
	return fmt.Errorf("--%s is required", flag)
}
