package main

import "flag"

// config holds the resolved --flag values for the idp binary. Unlike the
// teacher's node.Config (one struct shared by many subsystems), this one
// exists only long enough for main to wire committee/keypair/storage/akd
// and the task graph; nothing downstream holds a *config.
type config struct {
	committeeFile string
	keypairFile   string
	secureStorage string
	akdStorage    string
	listen        string
	batchSize     int
	maxBatchDelay int // milliseconds
	verbosity     int
}

// parseFlags parses args into a config. Mirrors the teacher's
// cmd/eth2030/flags.go style: a thin wrapper over the standard flag
// package with ContinueOnError, no cobra/urfave-cli (see DESIGN.md).
func parseFlags(args []string) (*config, error) {
	cfg := &config{
		batchSize:     100,
		maxBatchDelay: 500,
		listen:        ":9000",
	}

	fs := flag.NewFlagSet("idp", flag.ContinueOnError)
	fs.StringVar(&cfg.committeeFile, "committee", "", "path to the committee description file (required)")
	fs.StringVar(&cfg.keypairFile, "keypair", "", "path to the IdP's keypair file (required)")
	fs.StringVar(&cfg.secureStorage, "secure_storage", "", "directory for the IdP's crash-recovery storage (required)")
	fs.StringVar(&cfg.akdStorage, "audit_storage", "", "directory for the disk-backed AKD (defaults under secure_storage)")
	fs.StringVar(&cfg.listen, "listen", cfg.listen, "address client update requests are accepted on")
	fs.IntVar(&cfg.batchSize, "batch_size", cfg.batchSize, "target number of client requests per batch")
	fs.IntVar(&cfg.maxBatchDelay, "max_batch_delay", cfg.maxBatchDelay, "milliseconds before a non-empty batch is sealed regardless of size")
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
	if c.batchSize <= 0 {
		return errInvalid("batch_size", "must be positive")
	}
	if c.maxBatchDelay <= 0 {
		return errInvalid("max_batch_delay", "must be positive")
	}
	return nil
}
