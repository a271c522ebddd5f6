// Package db holds the relational schema and the transaction helpers shared
// by every store.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Postgres SQLSTATE codes the engine branches on.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Serializable is the isolation used for every write path that touches money.
var Serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// ReadOnly is used by the query paths.
var ReadOnly = pgx.TxOptions{AccessMode: pgx.ReadOnly}

// WithTx runs fn inside a transaction. A returned error rolls back; nil commits.
func WithTx(ctx context.Context, b TxBeginner, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithRetry runs WithTx up to attempts times, starting over while Postgres
// reports a serialization failure or deadlock. Other errors return at once.
func WithRetry(ctx context.Context, b TxBeginner, opts pgx.TxOptions, attempts int, fn func(tx pgx.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = WithTx(ctx, b, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff(i)):
			}
		}
	}
	return err
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 20 * time.Millisecond
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// An empty constraint matches any constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsRetryable reports whether err is a serialization failure or deadlock,
// both of which are safe to retry from the start of the transaction.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// UniqueViolation builds the error Postgres reports for a duplicate key.
// Used by in-memory stores.
func UniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

// SerializationFailure builds the error Postgres reports for a conflicting
// serializable transaction. Used by in-memory stores.
func SerializationFailure() error {
	return &pgconn.PgError{Code: codeSerializationFailure, Message: "could not serialize access due to concurrent update"}
}
