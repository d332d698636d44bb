package models

import "time"

// Subscription mirrors the user's Stripe subscription. There is at most one per
// user and it is overwritten on every confirmation.
type Subscription struct {
	UserID               string    `bson:"_id" json:"userId"`
	StripeSubscriptionID string    `bson:"stripe_subscription_id" json:"stripeSubscriptionId"`
	CurrentPeriodStart   time.Time `bson:"current_period_start" json:"currentPeriodStart"`
	CurrentPeriodEnd     time.Time `bson:"current_period_end" json:"currentPeriodEnd"`
	Status               string    `bson:"status" json:"status"`
	PricePerDay          string    `bson:"price_per_day" json:"pricePerDay"`
	Timezone             string    `bson:"timezone" json:"timezone"`
	PreferredBillingTime string    `bson:"preferred_billing_time,omitempty" json:"preferredBillingTime,omitempty"`
	CreatedAt            time.Time `bson:"created_at" json:"createdAt"`
	DiscountProcessed    bool      `bson:"discount_processed" json:"discountProcessed"`
}

// SubscriptionPeriodUpdate carries the fields a customer.subscription.updated
// event is allowed to change.
type SubscriptionPeriodUpdate struct {
	StripeSubscriptionID string
	Status               string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
}
