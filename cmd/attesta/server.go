// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/backup"
	transport "github.com/attesta-dev/go-attesta/http"
	"github.com/attesta-dev/go-attesta/internal/memory"
	"github.com/attesta-dev/go-attesta/sqlite"
)

var serverFlags = flag.NewFlagSet("server", flag.ContinueOnError)

var (
	addr              string
	dbPath            string
	dbPass            string
	maxCredentials    uint
	recoveryThreshold uint
	backupID          string
	backupOut         string
	backupPass        string
	restorePath       string
)

func init() {
	serverFlags.StringVar(&dbPath, "db", "", "SQLite database file `path` (in-memory state if unset)")
	serverFlags.StringVar(&dbPass, "db-pass", "", "SQLite database encryption-at-rest passphrase")
	serverFlags.BoolVar(&debug, "debug", debug, "Print HTTP contents")
	serverFlags.StringVar(&addr, "http", "localhost:8080", "The `addr`ess to listen on")
	serverFlags.UintVar(&maxCredentials, "max-credentials", 0, "Registry credential `limit` for new accounts")
	serverFlags.UintVar(&recoveryThreshold, "recovery-threshold", 0, "Enabled credentials required for account recovery")
	serverFlags.StringVar(&backupID, "backup-id", "", "Account `id` to export as an encrypted backup and stop (requires backup-out)")
	serverFlags.StringVar(&backupOut, "backup-out", "", "File `path` to write the encrypted account backup")
	serverFlags.StringVar(&backupPass, "backup-pass", "", "Encrypted backup `passphrase` (required with backup-id or restore)")
	serverFlags.StringVar(&restorePath, "restore", "", "Encrypted backup `path` to import before serving")
}

func server() error {
	if debug {
		level.Set(slog.LevelDebug)
	}

	state, cleanup, err := newState()
	if err != nil {
		return err
	}
	defer cleanup()

	// Export one account as an encrypted blob instead of serving
	if backupID != "" {
		return exportBackup(state)
	}

	// Import a previously exported account
	if restorePath != "" {
		if err := importBackup(state); err != nil {
			return err
		}
	}

	return serveHTTP(state)
}

func newState() (attesta.AccountState, func(), error) {
	if dbPath == "" {
		slog.Warn("no db flag given, account state will not survive restarts")
		return memory.NewState(), func() {}, nil
	}
	db, err := sqlite.Open(dbPath, dbPass)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func serveHTTP(state attesta.AccountState) error {
	srv := &http.Server{
		Handler:           &transport.Handler{Server: newResponder(state)},
		ReadHeaderTimeout: 3 * time.Second,
	}

	// Listen and serve
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer func() { _ = lis.Close() }()
	slog.Info("Listening", "local", lis.Addr().String())

	return srv.Serve(lis)
}

func newResponder(state attesta.AccountState) *attesta.Server {
	return &attesta.Server{
		Accounts:          state,
		Registries:        state,
		MaxCredentials:    uint8(maxCredentials),
		RecoveryThreshold: uint8(recoveryThreshold),
	}
}

func exportBackup(state attesta.AccountState) error {
	if backupOut == "" || backupPass == "" {
		return errors.New("backup-id requires the backup-out and backup-pass flags")
	}
	id, err := attesta.ParseAccountID(backupID)
	if err != nil {
		return fmt.Errorf("invalid backup-id: %w", err)
	}

	account, err := state.Account(context.Background(), id)
	if err != nil {
		return err
	}
	record, err := account.MarshalBinary()
	if err != nil {
		return err
	}
	sealed, err := backup.Seal(record, backupPass, time.Now().Unix())
	if err != nil {
		return err
	}
	data, err := sealed.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(backupOut, data, 0o600); err != nil {
		return err
	}

	slog.Info("Backup written", "account", id, "path", backupOut)
	return nil
}

func importBackup(state attesta.AccountState) error {
	if backupPass == "" {
		return errors.New("restore requires the backup-pass flag")
	}
	data, err := os.ReadFile(restorePath)
	if err != nil {
		return err
	}

	var sealed backup.Backup
	if err := sealed.UnmarshalBinary(data); err != nil {
		return err
	}
	record, err := sealed.Open(backupPass)
	if err != nil {
		return err
	}
	var account attesta.Account
	if err := account.UnmarshalBinary(record); err != nil {
		return err
	}

	ctx := context.Background()
	id := account.ID()
	err = state.ReplaceAccount(ctx, id, &account)
	if errors.Is(err, attesta.ErrNotFound) {
		err = state.NewAccount(ctx, &account)
	}
	if err != nil {
		return fmt.Errorf("error restoring account %s: %w", id, err)
	}

	// The blob carries only the account record, so a missing registry is
	// rebuilt around the primary credential.
	if _, err := state.Registry(ctx, id); errors.Is(err, attesta.ErrNotFound) {
		maxCreds := uint8(maxCredentials)
		if maxCreds == 0 {
			maxCreds = attesta.DefaultMaxCredentials
		}
		threshold := uint8(recoveryThreshold)
		if threshold == 0 {
			threshold = attesta.DefaultRecoveryThreshold
		}
		registry := attesta.NewCredentialRegistry(attesta.PasskeyCredential{
			ID:        account.CredentialID,
			PublicKey: account.Passkey,
			AddedAt:   account.CreatedAt,
			Enabled:   true,
			Label:     "primary",
		}, maxCreds, threshold)
		if err := state.NewRegistry(ctx, id, registry); err != nil {
			return fmt.Errorf("error rebuilding registry for account %s: %w", id, err)
		}
	}

	slog.Info("Backup restored", "account", id, "created", sealed.CreatedAt)
	return nil
}
