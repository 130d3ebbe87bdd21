// Command witness runs one member of the witness committee: it votes on
// publish notifications, refuses equivocation, finalizes sequence
// numbers on receipt of valid certificates, and serves archived
// certificates to IdP-relayed sync requests (spec.md §4.3-4.4).
//
// Usage:
//
//	witness --committee FILE --keypair FILE --secure_storage DIR
//	        [--audit_storage DIR] [--listen ADDR] -v...
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/crypto"
	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/service"
	"github.com/asonnino/key-transparency/storage"
	"github.com/asonnino/key-transparency/transport"
	"github.com/asonnino/key-transparency/witness"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		return 2
	}
	if err := cfg.validate(); err != nil {
		os.Stderr.WriteString("witness: invalid configuration: " + err.Error() + "\n")
		return 1
	}

	logger := log.New(log.VerbosityToLevel(cfg.verbosity))
	log.SetDefault(logger)

	com, err := committee.Load(cfg.committeeFile)
	if err != nil {
		logger.Error("load committee", "error", err)
		return 1
	}
	signer, err := crypto.LoadKeypairFile(cfg.keypairFile)
	if err != nil {
		logger.Error("load keypair", "error", err)
		return 1
	}
	if _, ok := com.WitnessAddress(signer.Public()); !ok {
		logger.Error("this keypair is not a member of the committee")
		return 1
	}

	if err := os.MkdirAll(cfg.secureStorage, 0o700); err != nil {
		logger.Error("init secure storage", "error", err)
		return 1
	}
	db, err := storage.Open(cfg.secureStorage)
	if err != nil {
		logger.Error("open secure storage", "error", err)
		return 1
	}
	defer db.Close()

	auditDir := cfg.auditStorage
	if auditDir == "" {
		auditDir = filepath.Join(cfg.secureStorage, "audit")
	}
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		logger.Error("init audit storage", "error", err)
		return 1
	}
	audit, err := storage.Open(auditDir)
	if err != nil {
		logger.Error("open audit storage", "error", err)
		return 1
	}
	defer audit.Close()

	handler, err := witness.NewHandler(db, audit, com, signer, logger)
	if err != nil {
		logger.Error("recover witness state", "error", err)
		return 1
	}
	sync := witness.NewSyncHelper(audit)
	adapter := witness.NewAdapter(handler, sync)

	ln, err := transport.Listen(cfg.listen, adapter, logger)
	if err != nil {
		logger.Error("bind listener", "error", err)
		return 1
	}

	mgr := service.NewManager()
	mgr.Register(service.NewTask("listener", ln.Serve), 0)

	if err := mgr.StartAll(); err != nil {
		logger.Error("start services", "error", err)
		return 1
	}
	st := handler.State()
	logger.Info("witness started", "listen", ln.Addr(), "sequence_number", st.SequenceNumber)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	for _, e := range mgr.StopAll() {
		logger.Error("shutdown error", "error", e)
	}
	return 0
}
