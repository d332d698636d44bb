package mongodb

import (
	"context"
	"fmt"

	"github.com/XeroHax/accountability-app/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PutSubscription overwrites the user's subscription record.
func (s *Store) PutSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.subscriptions().ReplaceOne(ctx, bson.M{"_id": sub.UserID}, sub, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error writing subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.subscriptions().FindOne(ctx, bson.M{"_id": userID}).Decode(&sub); err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *Store) UpdateSubscriptionPeriod(ctx context.Context, userID string, upd models.SubscriptionPeriodUpdate) error {
	set := bson.M{
		"stripe_subscription_id": upd.StripeSubscriptionID,
		"discount_processed":     false,
	}
	if !upd.CurrentPeriodEnd.IsZero() {
		set["current_period_end"] = upd.CurrentPeriodEnd
	}
	if !upd.CurrentPeriodStart.IsZero() {
		set["current_period_start"] = upd.CurrentPeriodStart
	}
	if upd.Status != "" {
		set["status"] = upd.Status
	}
	res, err := s.subscriptions().UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("error updating subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
