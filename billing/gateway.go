package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

const productName = "Accountability Subscription"

// CheckoutParams describes a hosted subscription checkout for one price.
type CheckoutParams struct {
	PriceID           string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionDetails is the subset of a payment-provider subscription the
// flow persists.
type SubscriptionDetails struct {
	ID                 string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Metadata           map[string]string
}

// Gateway is the payment provider.
type Gateway interface {
	CreateMonthlyPrice(ctx context.Context, unitAmount int64) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*SubscriptionDetails, error)
	UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error
}

// StripeGateway implements Gateway with the Stripe API.
type StripeGateway struct {
	sc *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{sc: client.New(secretKey, nil)}
}

func (g *StripeGateway) CreateMonthlyPrice(ctx context.Context, unitAmount int64) (string, error) {
	params := &stripe.PriceParams{
		Currency:   stripe.String(string(stripe.CurrencyUSD)),
		UnitAmount: stripe.Int64(unitAmount),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(productName),
		},
	}
	params.Context = ctx
	p, err := g.sc.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("error creating price: %w", err)
	}
	return p.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		},
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("error creating checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*SubscriptionDetails, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := g.sc.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("error retrieving subscription %s: %w", id, err)
	}
	d := detailsFromStripe(s)
	return &d, nil
}

func (g *StripeGateway) UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	params := &stripe.SubscriptionParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if _, err := g.sc.Subscriptions.Update(id, params); err != nil {
		return fmt.Errorf("error updating subscription %s: %w", id, err)
	}
	return nil
}

// detailsFromStripe flattens a subscription. Billing periods live on the
// subscription items; the first item with a period wins.
func detailsFromStripe(s *stripe.Subscription) SubscriptionDetails {
	d := SubscriptionDetails{
		ID:       s.ID,
		Status:   string(s.Status),
		Metadata: s.Metadata,
	}
	if s.Items == nil {
		return d
	}
	for _, item := range s.Items.Data {
		if item == nil || item.CurrentPeriodEnd == 0 {
			continue
		}
		d.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		d.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		break
	}
	return d
}
