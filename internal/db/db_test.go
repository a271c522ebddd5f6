package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert usage: %w", UniqueViolation("credit_usages_lawyer_lead_key"))

	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "credit_usages_lawyer_lead_key"))
	require.False(t, IsUniqueViolation(err, "payment_events_provider_event_id_key"))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(SerializationFailure()))
	require.True(t, IsRetryable(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"})))
	require.False(t, IsRetryable(UniqueViolation("")))
	require.False(t, IsRetryable(errors.New("conn closed")))
}
