package payments_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/payments"
	"github.com/jurismatch/backend/internal/testutil"
)

const secret = "whsec_test"

func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(t *testing.T, id, typ string, session map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	return b
}

func paidSession(lawyer uuid.UUID, pkg string) map[string]any {
	return map[string]any{
		"id":             "cs_test_" + pkg,
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata":       map[string]string{"lawyerId": lawyer.String(), "packageId": pkg},
	}
}

func newService() (*payments.Service, *testutil.Store) {
	store := testutil.NewStore()
	led := ledger.NewService(store, store, nil)
	return payments.NewService(payments.NewVerifier(secret), store, led, store, nil), store
}

func TestHandleWebhook_CreditsOnce(t *testing.T) {
	svc, store := newService()
	lawyer := uuid.New()
	payload := event(t, "evt_1", payments.EventCheckoutCompleted, paidSession(lawyer, "professional"))
	ctx := context.Background()

	res, err := svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, 55, res.Credits)
	require.Equal(t, 55, store.Credits(lawyer))

	txs := store.Transactions(lawyer)
	require.Len(t, txs, 1)
	require.Equal(t, models.TransactionPurchase, txs[0].Type)
	require.NotNil(t, txs[0].ExternalRef)
	require.Equal(t, "cs_test_professional", *txs[0].ExternalRef)

	// Stripe redelivers the same event.
	res, err = svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, 55, store.Credits(lawyer))
	require.Equal(t, 1, store.PaymentEvents())
}

func TestHandleWebhook_RetriesSerializationFailures(t *testing.T) {
	svc, store := newService()
	lawyer := uuid.New()
	payload := event(t, "evt_retry", payments.EventCheckoutCompleted, paidSession(lawyer, "starter"))
	ctx := context.Background()

	// A concurrent redelivery of the same event made the first two commits conflict.
	store.FailNextCommits(2)
	res, err := svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.False(t, res.Duplicate)
	require.Equal(t, 10, store.Credits(lawyer))
	require.Equal(t, 1, store.PaymentEvents())
	require.Len(t, store.Transactions(lawyer), 1)

	res, err = svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.False(t, res.Handled)
	require.Equal(t, 10, store.Credits(lawyer))
}

func TestHandleWebhook_GivesUpAfterRetries(t *testing.T) {
	svc, store := newService()
	lawyer := uuid.New()
	payload := event(t, "evt_conflict", payments.EventCheckoutCompleted, paidSession(lawyer, "starter"))

	store.FailNextCommits(3)
	_, err := svc.HandleWebhook(context.Background(), payload, sign(payload, secret, time.Now()))
	require.Error(t, err)
	require.Equal(t, 0, store.PaymentEvents())
	require.Equal(t, -1, store.Credits(lawyer))
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	svc, store := newService()
	lawyer := uuid.New()
	payload := event(t, "evt_2", payments.EventCheckoutCompleted, paidSession(lawyer, "starter"))
	ctx := context.Background()

	_, err := svc.HandleWebhook(ctx, payload, sign(payload, "whsec_other", time.Now()))
	require.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now().Add(-time.Hour)))
	require.Error(t, err, "stale signatures are rejected")

	_, err = svc.HandleWebhook(ctx, payload, "")
	require.Error(t, err)
	require.Equal(t, -1, store.Credits(lawyer))
}

func TestHandleWebhook_IgnoredEvents(t *testing.T) {
	svc, store := newService()
	lawyer := uuid.New()
	ctx := context.Background()

	other := event(t, "evt_3", "payment_intent.created", map[string]any{"id": "pi_1", "object": "payment_intent"})
	res, err := svc.HandleWebhook(ctx, other, sign(other, secret, time.Now()))
	require.NoError(t, err)
	require.False(t, res.Handled)

	unpaid := paidSession(lawyer, "starter")
	unpaid["payment_status"] = "unpaid"
	payload := event(t, "evt_4", payments.EventCheckoutCompleted, unpaid)
	res, err = svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, 0, store.PaymentEvents())
}

func TestHandleWebhook_BadMetadata(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	cases := map[string]map[string]string{
		"bad lawyer":       {"lawyerId": "nope", "packageId": "starter"},
		"unknown package":  {"lawyerId": uuid.NewString(), "packageId": "gold"},
		"credits mismatch": {"lawyerId": uuid.NewString(), "packageId": "starter", "credits": "1000"},
	}
	for name, md := range cases {
		t.Run(name, func(t *testing.T) {
			sess := map[string]any{"id": "cs_x", "object": "checkout.session", "payment_status": "paid", "metadata": md}
			payload := event(t, "evt_"+name, payments.EventCheckoutCompleted, sess)
			_, err := svc.HandleWebhook(ctx, payload, sign(payload, secret, time.Now()))
			require.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
		})
	}
}

func TestPackages(t *testing.T) {
	pkgs := payments.Packages()
	require.NotEmpty(t, pkgs)
	pkgs[0].Credits = 0
	p, ok := payments.FindPackage(pkgs[0].ID)
	require.True(t, ok)
	require.NotZero(t, p.Credits, "callers cannot mutate the catalog")
}
