package payments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/jurismatch/backend/internal/apperr"
)

// SignatureTolerance bounds clock drift between Stripe and us.
const SignatureTolerance = 5 * time.Minute

const EventCheckoutCompleted = "checkout.session.completed"

// Verifier checks Stripe-Signature headers.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if header == "" {
		return stripe.Event{}, apperr.Validation("missing Stripe-Signature header")
	}
	if v.secret == "" {
		return stripe.Event{}, apperr.Internal(fmt.Errorf("stripe webhook secret not configured"))
	}
	event, err := webhook.ConstructEventWithTolerance(payload, header, v.secret, SignatureTolerance)
	if err != nil {
		return stripe.Event{}, apperr.Wrap(apperr.CodeValidation, "invalid webhook signature", err)
	}
	return event, nil
}

// Purchase is a paid checkout session resolved against the catalog.
type Purchase struct {
	SessionID string
	LawyerID  uuid.UUID
	Package   Package
}

// ParseCheckout decodes a completed checkout session. It returns ok=false
// for sessions that are not paid yet.
func ParseCheckout(event stripe.Event) (*Purchase, bool, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, false, apperr.Wrap(apperr.CodeValidation, "malformed checkout session", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, false, nil
	}

	md := sess.Metadata
	lawyerID, err := uuid.Parse(md["lawyerId"])
	if err != nil {
		return nil, false, apperr.Validation("checkout metadata lawyerId is not a valid id")
	}
	pkg, ok := FindPackage(md["packageId"])
	if !ok {
		return nil, false, apperr.Validation(fmt.Sprintf("unknown package %q", md["packageId"]))
	}
	// Metadata amounts are informational; when present they must agree with
	// the catalog so a tampered session cannot mint credits.
	if err := expect(md, "credits", pkg.Credits); err != nil {
		return nil, false, err
	}
	if err := expect(md, "bonus", pkg.Bonus); err != nil {
		return nil, false, err
	}
	return &Purchase{SessionID: sess.ID, LawyerID: lawyerID, Package: pkg}, true, nil
}

func expect(md map[string]string, key string, want int) error {
	raw, ok := md[key]
	if !ok {
		return nil
	}
	got, err := strconv.Atoi(raw)
	if err != nil || got != want {
		return apperr.Validation(fmt.Sprintf("checkout metadata %s=%q does not match the package", key, raw))
	}
	return nil
}
