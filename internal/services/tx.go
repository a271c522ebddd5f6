package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/db"
)

// runSerializable runs fn in a serializable transaction, retrying up to
// attempts times when Postgres reports a serialization failure or deadlock.
// Business errors are returned as-is; storage errors become INTERNAL_ERROR.
func runSerializable(ctx context.Context, b db.TxBeginner, attempts int, fn func(tx pgx.Tx) error) error {
	return classify(db.WithRetry(ctx, b, db.Serializable, attempts, fn))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.CodeNotFound, "not found", err)
	}
	return apperr.Internal(err)
}
