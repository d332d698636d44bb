// Package billing turns a chosen daily commitment into a Stripe subscription
// and mirrors the subscription into the document store as Stripe reports on it.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/metrics"
	"github.com/XeroHax/accountability-app/models"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	PreferredBillingTime = "23:00"
	DefaultTimezone      = "UTC"

	syntheticPeriod       = 30 * 24 * time.Hour
	syntheticDefaultPrice = "3"
)

var (
	ErrMissingUserID    = errors.New("user id is required")
	ErrPriceOutOfRange  = fmt.Errorf("pricePerDay must be between %d and %d", MinPricePerDay, MaxPricePerDay)
	ErrPaymentsDisabled = errors.New("payments are not configured")
)

// IntentState tracks a subscription intent through checkout.
type IntentState int

const (
	Idle IntentState = iota
	PriceChosen
	AwaitingCheckout
	Confirmed
)

func (s IntentState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PriceChosen:
		return "price_chosen"
	case AwaitingCheckout:
		return "awaiting_checkout"
	case Confirmed:
		return "confirmed"
	}
	return "unknown"
}

// CheckoutRequest is the body of a checkout request.
type CheckoutRequest struct {
	PricePerDay float64 `json:"pricePerDay"`
	UserID      string  `json:"userId"`
	Timezone    string  `json:"timezone"`
}

// Intent is a subscription intent that has been handed to hosted checkout.
type Intent struct {
	State        IntentState
	UserID       string
	PricePerDay  float64
	Timezone     string
	MonthlyPrice decimal.Decimal
	PriceID      string
	SessionID    string
	URL          string
}

// SubscriptionStore persists subscription records keyed by user id.
type SubscriptionStore interface {
	PutSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpdateSubscriptionPeriod(ctx context.Context, userID string, upd models.SubscriptionPeriodUpdate) error
}

// CheckoutRecord is the ledger row for a created checkout session.
type CheckoutRecord struct {
	SessionID     string
	PriceID       string
	UserID        string
	PricePerDay   string
	MonthlyAmount int64
	Timezone      string
	CreatedAt     time.Time
}

// Ledger keeps an audit trail of checkout sessions and webhook deliveries.
type Ledger interface {
	RecordCheckoutSession(ctx context.Context, rec CheckoutRecord) error
	EventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NopLedger records nothing.
type NopLedger struct{}

func (NopLedger) RecordCheckoutSession(context.Context, CheckoutRecord) error { return nil }
func (NopLedger) EventSeen(context.Context, string) (bool, error)             { return false, nil }
func (NopLedger) MarkEventProcessed(context.Context, string, string) error    { return nil }

// Fallbacks let Stripe CLI test events, which carry no user, still produce a
// record. Both are off unless configured.
type Fallbacks struct {
	UserID                 string
	SyntheticSubscriptions bool
}

type Provisioner struct {
	gateway   Gateway
	store     SubscriptionStore
	ledger    Ledger
	siteURL   string
	fallbacks Fallbacks
	now       func() time.Time
}

type Option func(*Provisioner)

func WithLedger(l Ledger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.ledger = l
		}
	}
}

func WithFallbacks(f Fallbacks) Option {
	return func(p *Provisioner) { p.fallbacks = f }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

func NewProvisioner(gateway Gateway, store SubscriptionStore, siteURL string, opts ...Option) *Provisioner {
	p := &Provisioner{
		gateway: gateway,
		store:   store,
		ledger:  NopLedger{},
		siteURL: strings.TrimRight(siteURL, "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateCheckout creates a monthly price for the chosen daily commitment and a
// hosted checkout session for it. No payment-provider call is made when the
// request is invalid.
func (p *Provisioner) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Intent, error) {
	if p == nil || p.gateway == nil {
		return nil, ErrPaymentsDisabled
	}
	if strings.TrimSpace(req.UserID) == "" {
		metrics.RecordCheckout("invalid")
		return nil, ErrMissingUserID
	}
	if !validPrice(req.PricePerDay) {
		metrics.RecordCheckout("invalid")
		return nil, ErrPriceOutOfRange
	}

	intent := &Intent{
		State:        PriceChosen,
		UserID:       req.UserID,
		PricePerDay:  req.PricePerDay,
		Timezone:     NormalizeTimezone(req.Timezone),
		MonthlyPrice: MonthlyPrice(req.PricePerDay),
	}
	log := logger.Get().With(zap.String("user_id", intent.UserID))
	log.Info("creating checkout session",
		zap.Float64("price_per_day", intent.PricePerDay),
		zap.String("monthly_price", intent.MonthlyPrice.StringFixed(2)),
		zap.String("timezone", intent.Timezone))

	amount := MonthlyUnitAmount(req.PricePerDay)
	priceID, err := p.gateway.CreateMonthlyPrice(ctx, amount)
	if err != nil {
		metrics.RecordCheckout("error")
		log.Error("error creating price", zap.Error(err))
		return nil, err
	}
	intent.PriceID = priceID

	pricePerDay := FormatPricePerDay(req.PricePerDay)
	session, err := p.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		PriceID:           priceID,
		ClientReferenceID: intent.UserID,
		SuccessURL:        p.siteURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         p.siteURL,
		Metadata: map[string]string{
			"pricePerDay": pricePerDay,
			"userId":      intent.UserID,
			"timezone":    intent.Timezone,
		},
	})
	if err != nil {
		metrics.RecordCheckout("error")
		log.Error("error creating checkout session", zap.String("price_id", priceID), zap.Error(err))
		return nil, err
	}
	intent.SessionID = session.ID
	intent.URL = session.URL
	intent.State = AwaitingCheckout

	if err := p.ledger.RecordCheckoutSession(ctx, CheckoutRecord{
		SessionID:     session.ID,
		PriceID:       priceID,
		UserID:        intent.UserID,
		PricePerDay:   pricePerDay,
		MonthlyAmount: amount,
		Timezone:      intent.Timezone,
		CreatedAt:     p.now().UTC(),
	}); err != nil {
		log.Warn("error recording checkout session", zap.String("session_id", session.ID), zap.Error(err))
	}

	metrics.RecordCheckout("created")
	log.Info("checkout session created", zap.String("session_id", session.ID), zap.String("price_id", priceID))
	return intent, nil
}

// HandleEvent applies a verified webhook event. Only a malformed event payload
// is an error; failures talking to Stripe or the store are logged.
func (p *Provisioner) HandleEvent(ctx context.Context, event stripe.Event) error {
	if p == nil || p.gateway == nil {
		return ErrPaymentsDisabled
	}
	log := logger.Get().With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	if event.ID != "" {
		seen, err := p.ledger.EventSeen(ctx, event.ID)
		if err != nil {
			log.Warn("error checking webhook ledger", zap.Error(err))
		} else if seen {
			metrics.RecordWebhookEvent(string(event.Type), "duplicate")
			log.Info("webhook event already processed")
			return nil
		}
	}

	var err error
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		err = p.checkoutCompleted(ctx, log, event)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		err = p.subscriptionUpdated(ctx, log, event)
	default:
		metrics.RecordWebhookEvent(string(event.Type), "ignored")
		log.Info("unhandled event type")
	}
	if err != nil {
		metrics.RecordWebhookEvent(string(event.Type), "error")
		return err
	}

	if event.ID != "" {
		if err := p.ledger.MarkEventProcessed(ctx, event.ID, string(event.Type)); err != nil {
			log.Warn("error recording webhook event", zap.Error(err))
		}
	}
	return nil
}

func (p *Provisioner) checkoutCompleted(ctx context.Context, log *zap.Logger, event stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := decodeEvent(event, &cs); err != nil {
		return err
	}

	userID := cs.ClientReferenceID
	if userID == "" {
		userID = cs.Metadata["userId"]
	}
	if userID == "" && p.fallbacks.UserID != "" {
		userID = p.fallbacks.UserID
		log.Warn("checkout session has no user, using configured fallback", zap.String("user_id", userID))
	}
	if userID == "" {
		metrics.RecordWebhookEvent(string(event.Type), "no_user")
		log.Warn("no user id found in checkout session", zap.String("session_id", cs.ID))
		return nil
	}
	log = log.With(zap.String("user_id", userID))
	timezone := NormalizeTimezone(cs.Metadata["timezone"])
	pricePerDay := cs.Metadata["pricePerDay"]

	if cs.Subscription == nil || cs.Subscription.ID == "" {
		log.Warn("checkout session has no subscription reference", zap.String("session_id", cs.ID))
		p.putSynthetic(ctx, log, userID, pricePerDay, timezone)
		return nil
	}

	subID := cs.Subscription.ID
	details, err := p.gateway.GetSubscription(ctx, subID)
	if err != nil {
		log.Error("error retrieving subscription", zap.String("subscription_id", subID), zap.Error(err))
		p.putSynthetic(ctx, log, userID, pricePerDay, timezone)
		return nil
	}

	md := make(map[string]string, len(details.Metadata)+3)
	for k, v := range details.Metadata {
		md[k] = v
	}
	md["preferred_billing_time"] = PreferredBillingTime
	md["timezone"] = timezone
	md["userId"] = userID
	if err := p.gateway.UpdateSubscriptionMetadata(ctx, subID, md); err != nil {
		log.Error("error updating subscription billing info", zap.String("subscription_id", subID), zap.Error(err))
	}

	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: subID,
		CurrentPeriodStart:   details.CurrentPeriodStart,
		CurrentPeriodEnd:     details.CurrentPeriodEnd,
		Status:               details.Status,
		PricePerDay:          pricePerDay,
		Timezone:             timezone,
		PreferredBillingTime: PreferredBillingTime,
		CreatedAt:            p.now().UTC(),
		DiscountProcessed:    false,
	}
	if err := p.store.PutSubscription(ctx, sub); err != nil {
		metrics.RecordWebhookEvent(string(event.Type), "store_error")
		log.Error("error storing subscription", zap.String("subscription_id", subID), zap.Error(err))
		return nil
	}
	metrics.RecordWebhookEvent(string(event.Type), "confirmed")
	log.Info("subscription confirmed", zap.String("subscription_id", subID), zap.String("status", sub.Status))
	return nil
}

// putSynthetic writes a placeholder subscription when the fallback is enabled.
func (p *Provisioner) putSynthetic(ctx context.Context, log *zap.Logger, userID, pricePerDay, timezone string) {
	if !p.fallbacks.SyntheticSubscriptions {
		metrics.RecordWebhookEvent(string(stripe.EventTypeCheckoutSessionCompleted), "unconfirmed")
		log.Warn("subscription not recorded")
		return
	}
	if pricePerDay == "" {
		pricePerDay = syntheticDefaultPrice
	}
	now := p.now().UTC()
	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: "sub_test_" + strconv.FormatInt(now.UnixMilli(), 10),
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.Add(syntheticPeriod),
		Status:               string(stripe.SubscriptionStatusActive),
		PricePerDay:          pricePerDay,
		Timezone:             timezone,
		CreatedAt:            now,
	}
	if err := p.store.PutSubscription(ctx, sub); err != nil {
		log.Error("error storing test subscription", zap.Error(err))
		return
	}
	metrics.RecordWebhookEvent(string(stripe.EventTypeCheckoutSessionCompleted), "synthetic")
	log.Warn("stored test subscription", zap.String("subscription_id", sub.StripeSubscriptionID))
}

func (p *Provisioner) subscriptionUpdated(ctx context.Context, log *zap.Logger, event stripe.Event) error {
	var s stripe.Subscription
	if err := decodeEvent(event, &s); err != nil {
		return err
	}
	userID := s.Metadata["userId"]
	if userID == "" {
		log.Info("updated subscription carries no user id", zap.String("subscription_id", s.ID))
		return nil
	}
	d := detailsFromStripe(&s)
	err := p.store.UpdateSubscriptionPeriod(ctx, userID, models.SubscriptionPeriodUpdate{
		StripeSubscriptionID: d.ID,
		Status:               d.Status,
		CurrentPeriodStart:   d.CurrentPeriodStart,
		CurrentPeriodEnd:     d.CurrentPeriodEnd,
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		log.Warn("no subscription record to update", zap.String("user_id", userID))
	case err != nil:
		log.Error("error updating subscription record", zap.String("user_id", userID), zap.Error(err))
	default:
		metrics.RecordWebhookEvent(string(event.Type), "updated")
		log.Info("subscription period updated", zap.String("user_id", userID), zap.String("subscription_id", d.ID))
	}
	return nil
}

// Subscription returns the stored record for userID.
func (p *Provisioner) Subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return p.store.GetSubscription(ctx, userID)
}

func decodeEvent(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("error parsing %s event: %w", event.Type, err)
	}
	return nil
}

// NormalizeTimezone returns tz when it names a known IANA zone, else UTC.
// "Local" is the server's zone, not the customer's, and is rejected.
func NormalizeTimezone(tz string) string {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "Local") {
		return DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return DefaultTimezone
	}
	return tz
}
