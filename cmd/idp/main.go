// Command idp runs the identity provider half of the key-transparency
// publish/witness protocol: it batches client update requests, drives
// the AKD, broadcasts publish notifications to the witness committee,
// aggregates their votes into certificates, and persists enough state to
// re-broadcast cleanly after a crash (spec.md §4.6-4.8).
//
// Usage:
//
//	idp --committee FILE --keypair FILE --secure_storage DIR
//	    [--audit_storage DIR] [--batch_size INT] [--max_batch_delay MS]
//	    [--listen ADDR] -v...
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/asonnino/key-transparency/akd"
	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/crypto"
	"github.com/asonnino/key-transparency/idp"
	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/service"
	"github.com/asonnino/key-transparency/storage"
	"github.com/asonnino/key-transparency/transport"
	"github.com/asonnino/key-transparency/wire"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "idp: %v\n", err)
		return 2
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "idp: invalid configuration: %v\n", err)
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
	if signer.Public() != com.IdPKey() {
		logger.Error("this keypair does not match the committee's IdP key")
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

	akdDir := cfg.akdStorage
	if akdDir == "" {
		akdDir = filepath.Join(cfg.secureStorage, "akd")
	}
	if err := os.MkdirAll(akdDir, 0o700); err != nil {
		logger.Error("init akd storage", "error", err)
		return 1
	}
	dir, err := akd.OpenFileDirectory(akdDir)
	if err != nil {
		logger.Error("open akd directory", "error", err)
		return 1
	}
	defer dir.Close()

	prover, err := idp.NewProver(dir, db, signer, logger)
	if err != nil {
		logger.Error("init prover", "error", err)
		return 1
	}

	clientReqCh := make(chan []byte, idp.DefaultChannelCapacity)
	batchCh := make(chan []akd.Entry, idp.DefaultChannelCapacity)
	notifCh := make(chan *wire.PublishNotification, idp.DefaultChannelCapacity)

	listener, err := newClientListener(cfg.listen, clientReqCh, logger)
	if err != nil {
		logger.Error("bind client listener", "error", err)
		return 1
	}

	batcher := idp.NewBatcher(idp.BatcherConfig{
		BatchSize:     cfg.batchSize,
		MaxBatchDelay: msToDuration(cfg.maxBatchDelay),
	}, logger)

	sender := transport.NewReliableSender(logger)
	publisher := idp.NewPublisher(db, com, sender, logger)

	mgr := service.NewManager()
	mgr.Register(service.NewTask("client-listener", listener.Serve), 0)
	mgr.Register(service.NewTask("batcher", func(ctx context.Context) error {
		return batcher.Run(ctx, clientReqCh, batchCh)
	}), 10)
	mgr.Register(service.NewTask("prover", func(ctx context.Context) error {
		return prover.Run(ctx, batchCh, notifCh)
	}), 20)
	mgr.Register(service.NewTask("publisher", func(ctx context.Context) error {
		return publisher.Run(ctx, notifCh)
	}), 30)

	if err := mgr.StartAll(); err != nil {
		logger.Error("start services", "error", err)
		return 1
	}
	logger.Info("idp started", "listen", listener.Addr(), "witnesses", com.Size())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	for _, e := range mgr.StopAll() {
		logger.Error("shutdown error", "error", e)
	}
	return 0
}
