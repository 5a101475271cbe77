package billing

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrSignature is returned for any webhook authentication failure:
// missing signature header, missing configured secret, or mismatch.
// Callers must not distinguish between these cases in responses.
var ErrSignature = errors.New("webhook signature verification failed")

// Verifier authenticates raw webhook payloads. Verification operates
// on the exact request body bytes; any re-encoding of the payload
// before verification invalidates the signature.
type Verifier interface {
	Verify(payload []byte, sigHeader string) (stripe.Event, error)
}

// StripeVerifier verifies payloads against the provider's signing
// secret using the SDK's constant-time HMAC check
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the given signing secret
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify checks the signature header against the payload and returns
// the parsed event on success
func (v *StripeVerifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: signing secret not configured", ErrSignature)
	}
	if sigHeader == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	return event, nil
}
