package mongodb

import (
	"context"
	"fmt"

	"github.com/XeroHax/accountability-app/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateUser inserts u unless a profile with the same id exists. It reports
// whether the profile was created.
func (s *Store) CreateUser(ctx context.Context, u *models.User) (bool, error) {
	res, err := s.users().UpdateOne(ctx,
		bson.M{"_id": u.ID},
		bson.M{"$setOnInsert": u},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("error creating user: %w", err)
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	cursor, err := s.users().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error fetching users: %w", err)
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("error decoding users: %w", err)
	}
	return users, nil
}

func (s *Store) MutateUser(ctx context.Context, userID string, fn func(*models.User) error) (*models.User, error) {
	var out *models.User
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		if _, err := s.users().ReplaceOne(ctx, bson.M{"_id": userID}, u); err != nil {
			return fmt.Errorf("error replacing user: %w", err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
