// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package sqlite implements account state persistence with a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/attesta-dev/go-attesta"
)

// DB implements account and credential registry state persistence.
type DB struct {
	// Log all SQL queries to this optional writer.
	DebugLog io.Writer

	db *sql.DB
}

// New creates a DB. The expected tables must be created and FOREIGN_KEYS must
// be enabled before the database is used for account state.
func New(db *sql.DB) *DB { return &DB{db: db} }

// Init ensures all tables are created and pragma are set. It does not
// recognize if tables have been created with invalid schemas.
//
// In most cases, [Open] should be used, which implicitly calls Init. However,
// Init can be useful for alternative SQLite connections that do not use a
// local file, such as Cloudflare D1.
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts
			( id BLOB PRIMARY KEY
			, record BLOB NOT NULL
			)`,
		`CREATE TABLE IF NOT EXISTS registries
			( account BLOB PRIMARY KEY
			, record BLOB NOT NULL
			, FOREIGN KEY(account) REFERENCES accounts(id) ON DELETE CASCADE
			)`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, sql := range stmts {
		if _, err := db.Exec(sql); err != nil {
			_ = db.Close()
			if strings.Contains(err.Error(), "file is not a database") {
				return fmt.Errorf("file is not a database: likely due to incorrect or missing database password")
			}
			return fmt.Errorf("error creating tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
//
// If the database connection is associated with unfinalized prepared
// statements, open blob handles, and/or unfinished backup objects, Close will
// leave the database connection open and return [sqlite3.BUSY].
func (db *DB) Close() error { return db.db.Close() }

// DB returns the underlying database/sql DB.
func (db *DB) DB() *sql.DB { return db.db }

type debugLogKey struct{}

func (db *DB) debugCtx(parent context.Context) context.Context {
	return context.WithValue(parent, debugLogKey{}, db.DebugLog)
}

func debug(ctx context.Context, format string, a ...any) {
	w, ok := ctx.Value(debugLogKey{}).(io.Writer)
	if !ok {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(format, a...))
	_, _ = fmt.Fprintln(w, msg)
}

// Compile-time check for interface implementation correctness
var _ attesta.AccountState = (*DB)(nil)

// NewAccount stores a newly initialized account. It fails with
// [attesta.ErrAccountExists] when a record with the same ID is already
// stored.
func (db *DB) NewAccount(ctx context.Context, account *attesta.Account) error {
	id := account.ID()
	var existing []byte
	err := db.query(ctx, "accounts", []string{"id"}, map[string]any{"id": id[:]}, &existing)
	if err == nil {
		return fmt.Errorf("%w: %s", attesta.ErrAccountExists, id)
	} else if !errors.Is(err, attesta.ErrNotFound) {
		return fmt.Errorf("error checking for existing account: %w", err)
	}

	record, err := account.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error marshaling account: %w", err)
	}
	if err := db.insert(ctx, "accounts", map[string]any{
		"id":     id[:],
		"record": record,
	}); err != nil {
		return fmt.Errorf("error storing new account: %w", err)
	}
	return nil
}

// Account retrieves an account by ID.
func (db *DB) Account(ctx context.Context, id attesta.AccountID) (*attesta.Account, error) {
	var record []byte
	if err := db.query(ctx, "accounts", []string{"record"}, map[string]any{"id": id[:]}, &record); errors.Is(err, attesta.ErrNotFound) {
		return nil, fmt.Errorf("%w: account %s", attesta.ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("error querying account: %w", err)
	}

	account := new(attesta.Account)
	if err := account.UnmarshalBinary(record); err != nil {
		return nil, fmt.Errorf("error parsing account record: %w", err)
	}
	return account, nil
}

// ReplaceAccount stores a new version of an existing account.
func (db *DB) ReplaceAccount(ctx context.Context, id attesta.AccountID, account *attesta.Account) error {
	record, err := account.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error marshaling account: %w", err)
	}
	if err := db.update(ctx, "accounts", map[string]any{"record": record}, map[string]any{"id": id[:]}); errors.Is(err, attesta.ErrNotFound) {
		return fmt.Errorf("%w: account %s", attesta.ErrNotFound, id)
	} else if err != nil {
		return fmt.Errorf("error updating account: %w", err)
	}
	return nil
}

// NewRegistry stores the credential registry of a newly initialized account.
func (db *DB) NewRegistry(ctx context.Context, id attesta.AccountID, registry *attesta.CredentialRegistry) error {
	var existing []byte
	err := db.query(ctx, "registries", []string{"account"}, map[string]any{"account": id[:]}, &existing)
	if err == nil {
		return fmt.Errorf("%w: registry for account %s", attesta.ErrAccountExists, id)
	} else if !errors.Is(err, attesta.ErrNotFound) {
		return fmt.Errorf("error checking for existing registry: %w", err)
	}

	record, err := registry.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error marshaling credential registry: %w", err)
	}
	if err := db.insert(ctx, "registries", map[string]any{
		"account": id[:],
		"record":  record,
	}); err != nil {
		return fmt.Errorf("error storing new credential registry: %w", err)
	}
	return nil
}

// Registry retrieves the credential registry of an account.
func (db *DB) Registry(ctx context.Context, id attesta.AccountID) (*attesta.CredentialRegistry, error) {
	var record []byte
	if err := db.query(ctx, "registries", []string{"record"}, map[string]any{"account": id[:]}, &record); errors.Is(err, attesta.ErrNotFound) {
		return nil, fmt.Errorf("%w: registry for account %s", attesta.ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("error querying credential registry: %w", err)
	}

	registry := new(attesta.CredentialRegistry)
	if err := registry.UnmarshalBinary(record); err != nil {
		return nil, fmt.Errorf("error parsing credential registry record: %w", err)
	}
	return registry, nil
}

// ReplaceRegistry stores a new version of an existing registry.
func (db *DB) ReplaceRegistry(ctx context.Context, id attesta.AccountID, registry *attesta.CredentialRegistry) error {
	record, err := registry.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error marshaling credential registry: %w", err)
	}
	if err := db.update(ctx, "registries", map[string]any{"record": record}, map[string]any{"account": id[:]}); errors.Is(err, attesta.ErrNotFound) {
		return fmt.Errorf("%w: registry for account %s", attesta.ErrNotFound, id)
	} else if err != nil {
		return fmt.Errorf("error updating credential registry: %w", err)
	}
	return nil
}

func (db *DB) insert(ctx context.Context, table string, kvs map[string]any) error {
	return insert(db.debugCtx(ctx), db.db, table, kvs)
}

func (db *DB) update(ctx context.Context, table string, kvs, where map[string]any) error {
	return update(db.debugCtx(ctx), db.db, table, kvs, where)
}

func (db *DB) query(ctx context.Context, table string, columns []string, where map[string]any, into ...any) error {
	return query(db.debugCtx(ctx), db.db, table, columns, where, into...)
}

// Allows using *sql.DB or *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Allows using *sql.DB or *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insert(ctx context.Context, db execer, table string, kvs map[string]any) error {
	columns := slices.Collect(maps.Keys(kvs))
	args := make([]any, len(columns))
	for i, name := range columns {
		args[i] = kvs[name]
	}
	markers := slices.Repeat([]string{"?"}, len(columns))

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		"`"+strings.Join(columns, "`, `")+"`",
		strings.Join(markers, ", "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, args)
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func update(ctx context.Context, db execer, table string, kvs, where map[string]any) error {
	setKeys := slices.Collect(maps.Keys(kvs))
	setCmds := make([]string, len(setKeys))
	for i, key := range setKeys {
		setCmds[i] = "`" + key + "` = ?"
	}
	setVals := make([]any, len(setKeys))
	for i, key := range setKeys {
		setVals[i] = kvs[key]
	}

	whereKeys := slices.Collect(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`UPDATE %s SET %s WHERE %s`,
		table,
		strings.Join(setCmds, ", "),
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, kvs)

	result, err := db.ExecContext(ctx, query, append(setVals, whereVals...)...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n < 1 {
		return attesta.ErrNotFound
	}
	return nil
}

func query(ctx context.Context, db querier, table string, columns []string, where map[string]any, into ...any) error {
	if len(columns) != len(into) {
		panic("programming error - query must have the same number of columns and values")
	}

	whereKeys := slices.Collect(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s`,
		"`"+strings.Join(columns, "`, `")+"`",
		table,
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, where)

	row := db.QueryRowContext(ctx, query, whereVals...)
	if err := row.Scan(into...); errors.Is(err, sql.ErrNoRows) {
		return attesta.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("error querying DB: %w", err)
	}
	return nil
}
